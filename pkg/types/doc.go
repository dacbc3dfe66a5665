// Package types defines the core data types shared by the newsdedup packages.
//
// This package contains the fundamental types used throughout newsdedup:
//   - NewsItem: an incoming text tagged with tickers and a sentiment label
//   - DuplicateRecord: an accepted text stored in a ticker partition
//   - AcceptedNewsEntry: the output entry produced by a successful AddNews call
//   - RecordTuple: the durable tuple handed to downstream persistence
//   - Message/Response: the chat types exchanged with language model clients
//
// # Validation
//
// NewsItem provides Validate() for input validation. Validation runs before
// any partition is touched:
//
//	item := types.NewsItem{Text: "...", Tickers: []string{"SBER"}, Polarity: types.PolarityPositive, Intensity: 6}
//	if err := item.Validate(4); err != nil {
//	    // Handle validation error
//	}
//
// # JSON Serialization
//
// All types are designed to be JSON-serializable with appropriate struct tags.
package types
