// Package main provides the entry point for the imgref CLI.
//
// imgref finds the image references in assistant answer text, repairs them
// into fetchable URLs and lists each image once in the order it appeared.
//
// Usage:
//
//	imgref resolve answer.txt
//	cat answer.txt | imgref resolve --json
//	imgref serve
//
// See --help for all available options.
package main

func main() {
	Execute()
}
