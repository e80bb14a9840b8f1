// Package store provides the document store contract and its backends.
//
// A [DocumentStore] holds documents in named collections. Node documents
// are keyed by [Key], which encodes the node's depth and path so that the
// children of a node form one contiguous id range:
//
//	KeyFromPath("/content/a").String() // "2:/content/a"
//	ChildrenRange("/content")          // ("2:/content/", "2:/content0")
//
// Paths too long to be stored verbatim are keyed by a hash of their parent
// path and carry no recoverable path.
//
// # Backends
//
//   - [DynamoStore] keeps every collection in a single DynamoDB table
//   - [MemoryStore] keeps documents in process
//   - [NoopStore] owns nothing: reads find nothing and writes fail
//
// # Configuration
//
// Use [DefaultConfig] and override what differs:
//
//	cfg := store.DefaultConfig()
//	cfg.Table = "content_documents"
//	s := store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg)
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - document doesn't exist
//   - [ErrMalformedKey] - id is not a valid node key
//   - [ErrNoOwner] - no store owns the document
//   - [ErrAlreadyExists] - document with ID already exists
//   - [ErrConcurrentModification] - optimistic lock failed
//   - [ErrDuplicateValue] - unique index value already taken
//   - [ErrReadOnly] - store is in read-only mode
package store
