// Package crawler defines the shared types, interfaces, and errors used by the
// issue crawl pipeline: checkpoints, raw tracker documents, normalized records,
// and the collaborator contracts (transport, sink, checkpoint store) the
// orchestrator is wired against.
package crawler
