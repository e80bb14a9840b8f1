// Package shard provides partition key derivation for the DynamoDB document table.
package shard

import (
	"fmt"
	"strconv"
	"strings"
)

// PartitionKey computes the partition key of a document.
// Node ids share a partition per depth ("nodes#3"), so a range query over
// siblings stays inside a single partition. Ids without a depth prefix all
// land in the collection's base partition ("settings#").
func PartitionKey(collection, id string) string {
	return fmt.Sprintf("%s#%s", collection, DepthPrefix(id))
}

// DepthPrefix returns the numeric depth prefix of an id, or "" if it has none.
func DepthPrefix(id string) string {
	colon := strings.IndexByte(id, ':')
	if colon <= 0 {
		return ""
	}
	if _, err := strconv.Atoi(id[:colon]); err != nil {
		return ""
	}
	return id[:colon]
}

// SamePartition reports whether the exclusive range (fromID, toID) can be
// served by a single partition query.
func SamePartition(collection, fromID, toID string) bool {
	return PartitionKey(collection, fromID) == PartitionKey(collection, toID)
}

// Collection returns the collection encoded in a partition key.
func Collection(pk string) string {
	collection, _, ok := strings.Cut(pk, "#")
	if !ok {
		return ""
	}
	return collection
}
