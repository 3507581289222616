// Package config provides configuration structures and utilities for imgref.
// It defines the resolver tables (storage base URL, type substitutions,
// filename convention), object-storage settings, and report preferences.
package config
