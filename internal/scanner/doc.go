// Package scanner finds image references in free-form assistant text.
//
// A Scanner holds an ordered list of pattern descriptors. Scan runs them in
// precedence order over the text; a match whose span overlaps a span taken
// by an earlier descriptor is discarded, so a labeled reference is never
// reported a second time by the bare-URL catch-all. The surviving matches
// are returned in textual order.
//
// The scanner keeps no state between calls. Scanning the same text twice
// yields the same matches, which is what lets a collector session rescan a
// growing stream buffer on every chunk.
//
// Input is normalized to NFC before matching so that decomposed Hangul in
// the label token still matches. Offsets in RawMatch refer to the
// normalized text.
package scanner
