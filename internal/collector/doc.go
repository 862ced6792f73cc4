// Package collector holds the shared domain types for the data collection
// relay: job requests, entity graphs, collected records, job payloads and the
// outcome values that flow back up from a collection run.
//
// Collaborators are expressed as small interfaces so that transport, storage
// and metrics implementations can be swapped in tests.
package collector
