// Package pipeline runs the post-resolution steps of one document and
// processes batches of documents concurrently.
//
// A document is resolved first; later steps clean the answer text, probe
// the resolved URLs, verify them against object storage and save the run.
// Each step receives the Job and records its results in the Resolution.
// Batches are bounded with errgroup.
package pipeline
