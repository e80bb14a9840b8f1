// Package stream provides DynamoDB Streams handlers that keep document
// caches coherent across processes sharing a table.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/docmux/internal/shard"
	"github.com/jacentio/docmux/store"
)

// Invalidator drops cached documents. Both store.DynamoStore and
// multiplex.Store implement it.
type Invalidator interface {
	InvalidateCacheKeys(ctx context.Context, c store.Collection, ids []string) error
}

// Handler processes DynamoDB stream events for cache invalidation.
type Handler struct {
	target Invalidator
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(target Invalidator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		target: target,
		logger: logger,
	}
}

// HandleInvalidate invalidates the cached copy of every document changed in
// the batch. Ids are grouped per collection and invalidated in one call per
// collection. This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleInvalidate(ctx context.Context, event events.DynamoDBEvent) error {
	batch := make(map[store.Collection][]string)
	for _, record := range event.Records {
		c, id, ok := h.changedDocument(record)
		if !ok {
			continue
		}
		if !slices.Contains(batch[c], id) {
			batch[c] = append(batch[c], id)
		}
	}

	collections := make([]store.Collection, 0, len(batch))
	for c := range batch {
		collections = append(collections, c)
	}
	slices.Sort(collections)

	for _, c := range collections {
		ids := batch[c]
		if err := h.target.InvalidateCacheKeys(ctx, c, ids); err != nil {
			h.logger.Error("failed to invalidate cache",
				"collection", c,
				"count", len(ids),
				"error", err,
			)
			return fmt.Errorf("invalidate %s: %w", c, err) // Will retry, eventually DLQ
		}
		h.logger.Debug("invalidated cache", "collection", c, "count", len(ids))
	}
	return nil
}

// changedDocument extracts the collection and id of a changed document.
func (h *Handler) changedDocument(record events.DynamoDBEventRecord) (store.Collection, string, bool) {
	switch record.EventName {
	case "INSERT", "MODIFY", "REMOVE":
	default:
		return "", "", false
	}

	id := getStringAttr(record.Change.Keys, "sk")
	if id == "" {
		h.logger.Warn("stream record without document id", "eventID", record.EventID)
		return "", "", false
	}

	image := record.Change.NewImage
	if record.EventName == "REMOVE" {
		image = record.Change.OldImage
	}
	c := getStringAttr(image, "collection")
	if c == "" {
		c = shard.Collection(getStringAttr(record.Change.Keys, "pk"))
	}
	if c == "" {
		h.logger.Warn("stream record without collection", "eventID", record.EventID, "id", id)
		return "", "", false
	}

	h.logger.Debug("document changed",
		"event", record.EventName,
		"collection", c,
		"id", id,
		"modcount", getNumberAttr(image, "modcount"),
	)
	return store.Collection(c), id, true
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeString {
			return v.String()
		}
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
