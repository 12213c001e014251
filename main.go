// The main package for the issuecrawler executable.
package main

import (
	"github.com/JakeFAU/jira-issue-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
