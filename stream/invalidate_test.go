package stream_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/docmux/mount"
	"github.com/jacentio/docmux/multiplex"
	"github.com/jacentio/docmux/store"
	"github.com/jacentio/docmux/stream"
)

type call struct {
	collection store.Collection
	ids        []string
}

// recorder records invalidation calls.
type recorder struct {
	calls []call
	err   error
}

func (r *recorder) InvalidateCacheKeys(_ context.Context, c store.Collection, ids []string) error {
	r.calls = append(r.calls, call{collection: c, ids: ids})
	return r.err
}

func record(event, collection, id string) events.DynamoDBEventRecord {
	keys := map[string]events.DynamoDBAttributeValue{
		"pk": events.NewStringAttribute(collection + "#x"),
		"sk": events.NewStringAttribute(id),
	}
	image := map[string]events.DynamoDBAttributeValue{
		"pk":         keys["pk"],
		"sk":         keys["sk"],
		"collection": events.NewStringAttribute(collection),
		"modcount":   events.NewNumberAttribute("1"),
	}
	r := events.DynamoDBEventRecord{EventName: event, EventID: id}
	r.Change.Keys = keys
	if event == "REMOVE" {
		r.Change.OldImage = image
	} else {
		r.Change.NewImage = image
	}
	return r
}

func TestNewHandler(t *testing.T) {
	// Test with nil invalidator and logger (should not panic)
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

func TestHandleInvalidate_GroupsByCollection(t *testing.T) {
	r := &recorder{}
	h := stream.NewHandler(r, nil)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("INSERT", "nodes", "1:/a"),
		record("MODIFY", "settings", "version"),
		record("MODIFY", "nodes", "2:/a/b"),
		record("REMOVE", "nodes", "1:/a"),
	}}

	if err := h.HandleInvalidate(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(r.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(r.calls))
	}
	if r.calls[0].collection != store.Nodes || !slices.Equal(r.calls[0].ids, []string{"1:/a", "2:/a/b"}) {
		t.Errorf("expected nodes [1:/a 2:/a/b], got %s %v", r.calls[0].collection, r.calls[0].ids)
	}
	if r.calls[1].collection != store.Settings || !slices.Equal(r.calls[1].ids, []string{"version"}) {
		t.Errorf("expected settings [version], got %s %v", r.calls[1].collection, r.calls[1].ids)
	}
}

func TestHandleInvalidate_SkipsUnknownEvents(t *testing.T) {
	r := &recorder{}
	h := stream.NewHandler(r, nil)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("UNKNOWN", "nodes", "1:/a"),
	}}

	if err := h.HandleInvalidate(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("expected no calls, got %d", len(r.calls))
	}
}

func TestHandleInvalidate_ReturnsError(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{err: boom}
	h := stream.NewHandler(r, nil)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("MODIFY", "nodes", "1:/a"),
	}}

	err := h.HandleInvalidate(context.Background(), event)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped boom, got %v", err)
	}
}

// countingStore counts invalidated ids on top of a MemoryStore.
type countingStore struct {
	*store.MemoryStore
	ids []string
}

func (c *countingStore) InvalidateCacheKeys(_ context.Context, _ store.Collection, ids []string) error {
	c.ids = append(c.ids, ids...)
	return nil
}

func TestHandleInvalidate_RoutesThroughRouter(t *testing.T) {
	p, err := mount.NewBuilder().Mount("libs", "/libs").Build()
	if err != nil {
		t.Fatalf("build mounts: %v", err)
	}
	root := &countingStore{MemoryStore: store.NewMemory()}
	libs := &countingStore{MemoryStore: store.NewMemory()}
	router, err := multiplex.New(p, map[string]store.DocumentStore{
		mount.DefaultName: root,
		"libs":            libs,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	h := stream.NewHandler(router, nil)
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("MODIFY", "nodes", store.KeyFromPath("/content/a").Value()),
		record("MODIFY", "nodes", store.KeyFromPath("/libs/a").Value()),
	}}

	if err := h.HandleInvalidate(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(root.ids, []string{"2:/content/a"}) {
		t.Errorf("expected root to invalidate [2:/content/a], got %v", root.ids)
	}
	if !slices.Equal(libs.ids, []string{"2:/libs/a"}) {
		t.Errorf("expected libs to invalidate [2:/libs/a], got %v", libs.ids)
	}
}

var _ stream.Invalidator = (*multiplex.Store)(nil)
var _ stream.Invalidator = (*store.DynamoStore)(nil)
