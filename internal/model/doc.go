// Package model defines the core data structures shared by the resolver stages.
//
// This package contains the following main types:
//   - PatternKind: Identifies which surface syntax produced a candidate
//   - RawMatch: A candidate found by the scanner, before any URL repair
//   - ImageReference: The canonical, normalized output unit
//   - Document: An input text with a stable content digest
//   - Resolution: The result of resolving one document
//   - ProbeResult: What a fetch of a resolved URL revealed
//
// Models live in their own package so that scanner, normalizer, collector,
// report and database can all depend on them without import cycles.
// Every exported type serializes to JSON for reports and storage.
package model
