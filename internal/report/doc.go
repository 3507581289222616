// Package report renders resolution results.
//
// This package contains writers for different output formats:
//   - SimpleWriter: Human-readable text output for terminal display
//   - JSONWriter: Structured JSON output for tool integration
//   - MarkdownWriter: Tables and a pattern-kind chart for sharing
//   - HTMLWriter: A gallery page with the cleaned answer and the images
//
// Writers implement the Writer interface, allowing them to be used
// interchangeably and composed for multi-format output.
package report
