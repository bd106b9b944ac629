// Package discovery runs full project discovery over one scope's corpus.
//
// A discovery run turns every processed document in a scope into ranked
// candidate projects:
//
//  1. Acquire the scope lock ("discover:<scope>") and start a DiscoveryRun
//  2. Fetch processed documents from the DocumentStore
//  3. Extract feature vectors (features.Extractor)
//  4. Cluster them (clustering.Cluster)
//  5. Score each cluster concurrently (scoring.Scorer)
//  6. Tier and sort the candidates
//  7. Persist candidates and the completed run through the Sink
//
// # Small corpora
//
// Below MinDocuments the clustering step is skipped. The whole corpus is
// scored as one candidate whose confidence is capped at
// SmallCorpusConfidenceCap, and the run is flagged as degraded with reason
// "insufficient_data". A small corpus therefore never yields a high-tier
// candidate.
//
// # Failures
//
// Any failure after the run starts marks it failed, records the failure
// detail and returns the error. Nothing is persisted for a failed run.
// Upstream fetch failures are retryable (types.IsRetryable): discovery is
// idempotent for an unchanged document set.
//
// Naming and summarization failures are not run failures. The scorer falls
// back to a hint or placeholder name and an empty summary.
//
// # Concurrency
//
// Runs on the same scope are serialized by the storage.Locker. By default a
// second run fails fast with types.ErrScopeBusy; with WaitForLock it waits.
// Runs on different scopes share nothing and proceed in parallel.
//
// # Configuration
//
// Config values come from DefaultConfig, optionally overlaid by
// .rdscout/discovery.yaml (LoadConfigFile) and RDSCOUT_* environment
// variables (ConfigFromEnv). See ExampleConfigFile for the file format.
package discovery
