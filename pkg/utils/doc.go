// Package utils provides helpers shared by the newsdedup packages: vector
// math on embeddings, bounded concurrent execution, and panic recovery for
// worker goroutines.
package utils
