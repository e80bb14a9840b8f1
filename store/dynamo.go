package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jacentio/docmux/internal/shard"
)

// Limits imposed by DynamoDB on a single request.
const (
	maxTransactItems = 100
	maxBatchWrite    = 25
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore is a DocumentStore over a single DynamoDB table.
//
// Items are keyed by pk (collection and id depth, see internal/shard) and
// sk (the document id). Properties live in the "props" map attribute and
// "modcount" guards read-modify-write updates.
type DynamoStore struct {
	client   DynamoAPI
	config   Config
	instance string
	readOnly atomic.Bool

	// cache is nil when caching is disabled.
	cache *lru.Cache[cacheKey, cacheEntry]
}

type cacheKey struct {
	collection Collection
	id         string
}

type cacheEntry struct {
	doc *Document
	at  time.Time
}

// NewDynamo creates a new DynamoStore instance.
func NewDynamo(client DynamoAPI, config Config) *DynamoStore {
	config.validate()
	s := &DynamoStore{
		client:   client,
		config:   config,
		instance: uuid.NewString(),
	}
	if config.CacheSize > 0 {
		// lru.New only fails for non-positive sizes
		s.cache, _ = lru.New[cacheKey, cacheEntry](config.CacheSize)
	}
	return s
}

// Find returns the document, serving it from the cache when present.
func (s *DynamoStore) Find(ctx context.Context, c Collection, id string) (*Document, error) {
	return s.FindMaxAge(ctx, c, id, time.Duration(1<<63-1))
}

// FindMaxAge returns a cached copy no older than maxAge, or reads the table.
func (s *DynamoStore) FindMaxAge(ctx context.Context, c Collection, id string, maxAge time.Duration) (*Document, error) {
	if doc, ok := s.cached(c, id, maxAge); ok {
		return doc, nil
	}
	return s.get(ctx, c, id)
}

// get reads a document from the table and refreshes the cache.
func (s *DynamoStore) get(ctx context.Context, c Collection, id string) (*Document, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            itemKey(c, id),
		ConsistentRead: aws.Bool(s.config.ConsistentReads),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		s.forget(c, id)
		return nil, ErrNotFound
	}

	doc, err := unmarshalDocument(result.Item)
	if err != nil {
		return nil, err
	}
	s.remember(c, doc)
	return doc.Copy(), nil
}

// Query returns the documents strictly between fromID and toID.
func (s *DynamoStore) Query(ctx context.Context, c Collection, fromID, toID string, limit int) ([]*Document, error) {
	return s.query(ctx, c, fromID, toID, limit, nil)
}

// QueryIndexed filters the range on a numeric property lower bound.
func (s *DynamoStore) QueryIndexed(ctx context.Context, c Collection, fromID, toID, indexedProperty string, startValue int64, limit int) ([]*Document, error) {
	return s.query(ctx, c, fromID, toID, limit, &filterExpr{
		Expr:   indexedFilterExpr(),
		Names:  indexedFilterNames(indexedProperty),
		Values: indexedFilterValues(startValue),
	})
}

func (s *DynamoStore) query(ctx context.Context, c Collection, fromID, toID string, limit int, filter *filterExpr) ([]*Document, error) {
	docs := []*Document{}
	if fromID >= toID {
		return docs, nil
	}

	// Both bounds in one partition: a key condition query returns ids in order
	if shard.SamePartition(string(c), fromID, toID) {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.config.Table),
			KeyConditionExpression: aws.String("#pk = :pk AND #sk BETWEEN :from AND :to"),
			ExpressionAttributeNames: map[string]string{
				"#pk": "pk",
				"#sk": "sk",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":   &types.AttributeValueMemberS{Value: shard.PartitionKey(string(c), fromID)},
				":from": &types.AttributeValueMemberS{Value: fromID},
				":to":   &types.AttributeValueMemberS{Value: toID},
			},
			ConsistentRead:   aws.Bool(s.config.ConsistentReads),
			ScanIndexForward: aws.Bool(true),
			Limit:            aws.Int32(int32(s.config.BatchSize)),
		}
		if filter != nil {
			input.FilterExpression = aws.String(filter.Expr)
			input.ExpressionAttributeNames = mergeExprNames(input.ExpressionAttributeNames, filter.Names)
			input.ExpressionAttributeValues = mergeExprValues(input.ExpressionAttributeValues, filter.Values)
		}

		paginator := dynamodb.NewQueryPaginator(s.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, raw := range page.Items {
				doc, err := unmarshalDocument(raw)
				if err != nil {
					return nil, err
				}
				// BETWEEN is inclusive, the range is not
				if doc.ID == fromID || doc.ID == toID {
					continue
				}
				docs = append(docs, doc)
				if limit > 0 && len(docs) >= limit {
					return docs, nil
				}
			}
		}
		return docs, nil
	}

	// Bounds span partitions: scan the collection and order client side
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.config.Table),
		FilterExpression: aws.String("#coll = :coll AND #sk > :from AND #sk < :to"),
		ExpressionAttributeNames: map[string]string{
			"#coll": "collection",
			"#sk":   "sk",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":coll": &types.AttributeValueMemberS{Value: string(c)},
			":from": &types.AttributeValueMemberS{Value: fromID},
			":to":   &types.AttributeValueMemberS{Value: toID},
		},
		ConsistentRead: aws.Bool(s.config.ConsistentReads),
		Limit:          aws.Int32(int32(s.config.BatchSize)),
	}
	if filter != nil {
		input.FilterExpression = aws.String(fmt.Sprintf("(%s) AND (%s)", *input.FilterExpression, filter.Expr))
		input.ExpressionAttributeNames = mergeExprNames(input.ExpressionAttributeNames, filter.Names)
		input.ExpressionAttributeValues = mergeExprValues(input.ExpressionAttributeValues, filter.Values)
	}

	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			doc, err := unmarshalDocument(raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}

	slices.SortFunc(docs, func(a, b *Document) int { return strings.Compare(a.ID, b.ID) })
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Remove deletes a document. Deleting an absent document is not an error.
func (s *DynamoStore) Remove(ctx context.Context, c Collection, id string) error {
	if s.readOnly.Load() {
		return ErrReadOnly
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.Table),
		Key:       itemKey(c, id),
	})
	s.forget(c, id)
	return err
}

// RemoveAll deletes documents in batches, retrying unprocessed requests.
func (s *DynamoStore) RemoveAll(ctx context.Context, c Collection, ids []string) error {
	if s.readOnly.Load() {
		return ErrReadOnly
	}
	for start := 0; start < len(ids); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(ids))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, id := range ids[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: itemKey(c, id)},
			})
			s.forget(c, id)
		}

		pending := map[string][]types.WriteRequest{s.config.Table: requests}
		operation := func() error {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return backoff.Permanent(err)
			}
			if len(out.UnprocessedItems) > 0 {
				pending = out.UnprocessedItems
				return fmt.Errorf("%d unprocessed deletes", len(out.UnprocessedItems[s.config.Table]))
			}
			return nil
		}
		if err := backoff.Retry(operation, s.newBackOff(ctx)); err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
	}
	return nil
}

// RemoveIf deletes each document whose conditions hold, one conditional
// delete per document.
func (s *DynamoStore) RemoveIf(ctx context.Context, c Collection, toRemove map[string]Conditions) (int, error) {
	if s.readOnly.Load() {
		return 0, ErrReadOnly
	}
	removed := 0
	for id, conds := range toRemove {
		cond, err := conditionExpr(conds)
		if err != nil {
			return removed, err
		}
		_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(s.config.Table),
			Key:                       itemKey(c, id),
			ConditionExpression:       aws.String(cond.Expr),
			ExpressionAttributeNames:  cond.Names,
			ExpressionAttributeValues: nilIfEmpty(cond.Values),
		})
		s.forget(c, id)

		// Condition failure - absent or not matching, nothing removed
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Create inserts new documents with one transaction per chunk of 100 ops.
// It returns false if any document already exists; chunks before the
// failing one stay committed.
func (s *DynamoStore) Create(ctx context.Context, c Collection, ops []*UpdateOp) (bool, error) {
	if len(ops) == 0 {
		return false, nil
	}
	if s.readOnly.Load() {
		return false, ErrReadOnly
	}

	for start := 0; start < len(ops); start += maxTransactItems {
		end := min(start+maxTransactItems, len(ops))

		items := make([]types.TransactWriteItem, 0, end-start)
		created := make([]*Document, 0, end-start)
		for _, op := range ops[start:end] {
			doc, err := ApplyUpdate(nil, op)
			if err != nil {
				return false, err
			}
			item, err := marshalDocument(c, doc)
			if err != nil {
				return false, fmt.Errorf("marshal %s: %w", op.ID, err)
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:                aws.String(s.config.Table),
					Item:                     item,
					ConditionExpression:      aws.String("attribute_not_exists(#sk)"),
					ExpressionAttributeNames: map[string]string{"#sk": "sk"},
				},
			})
			created = append(created, doc)
		}

		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		if err := mapCreateTransactionError(err); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return false, nil
			}
			return false, err
		}
		for _, doc := range created {
			s.remember(c, doc)
		}
	}
	return true, nil
}

// Update applies op to each existing document.
func (s *DynamoStore) Update(ctx context.Context, c Collection, ids []string, op *UpdateOp) error {
	for _, id := range ids {
		single := *op
		single.ID = id
		if _, _, err := s.readModifyWrite(ctx, c, &single, true); err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
	}
	return nil
}

// CreateOrUpdate applies op, creating the document when it is absent.
func (s *DynamoStore) CreateOrUpdate(ctx context.Context, c Collection, op *UpdateOp) (*Document, error) {
	old, _, err := s.readModifyWrite(ctx, c, op, false)
	return old, err
}

// FindAndUpdate applies op to an existing document whose conditions hold.
func (s *DynamoStore) FindAndUpdate(ctx context.Context, c Collection, op *UpdateOp) (*Document, error) {
	old, applied, err := s.readModifyWrite(ctx, c, op, true)
	if err != nil || !applied {
		return nil, err
	}
	return old, nil
}

// readModifyWrite reads the current document, applies op and writes it back
// guarded by the modification count. Lost races are retried with backoff.
func (s *DynamoStore) readModifyWrite(ctx context.Context, c Collection, op *UpdateOp, mustExist bool) (*Document, bool, error) {
	if s.readOnly.Load() {
		return nil, false, ErrReadOnly
	}

	var old *Document
	applied := false
	operation := func() error {
		current, err := s.get(ctx, c, op.ID)
		if errors.Is(err, ErrNotFound) {
			current = nil
		} else if err != nil {
			return backoff.Permanent(err)
		}
		if current == nil && mustExist {
			return nil
		}
		if !op.Conditions.Matches(current) {
			return nil
		}

		next, err := ApplyUpdate(current, op)
		if err != nil {
			return backoff.Permanent(err)
		}
		item, err := marshalDocument(c, next)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marshal %s: %w", op.ID, err))
		}

		input := &dynamodb.PutItemInput{
			TableName: aws.String(s.config.Table),
			Item:      item,
		}
		if current == nil {
			input.ConditionExpression = aws.String("attribute_not_exists(#sk)")
			input.ExpressionAttributeNames = map[string]string{"#sk": "sk"}
		} else {
			input.ConditionExpression = aws.String("#modcount = :expected")
			input.ExpressionAttributeNames = map[string]string{"#modcount": "modcount"}
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.ModCount, 10)},
			}
		}

		_, err = s.client.PutItem(ctx, input)
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			s.forget(c, op.ID)
			return ErrConcurrentModification
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		old, applied = current, true
		s.remember(c, next)
		return nil
	}

	if err := backoff.Retry(operation, s.newBackOff(ctx)); err != nil {
		return nil, false, err
	}
	return old, applied, nil
}

// InvalidateCache drops every cached document.
func (s *DynamoStore) InvalidateCache(context.Context) error {
	if s.cache != nil {
		s.cache.Purge()
	}
	return nil
}

// InvalidateCacheKeys drops the cached copies of ids.
func (s *DynamoStore) InvalidateCacheKeys(_ context.Context, c Collection, ids []string) error {
	for _, id := range ids {
		s.forget(c, id)
	}
	return nil
}

// Dispose drops the cache. The DynamoDB client holds no connections of its own.
func (s *DynamoStore) Dispose() error {
	return s.InvalidateCache(context.Background())
}

// SetReadWriteMode switches between "rw" and "r".
func (s *DynamoStore) SetReadWriteMode(mode string) error {
	switch strings.TrimSpace(mode) {
	case ModeReadWrite, "":
		s.readOnly.Store(false)
	case ModeReadOnly:
		s.readOnly.Store(true)
	default:
		return fmt.Errorf("unknown read-write mode %q", mode)
	}
	return nil
}

// Metadata describes the table and this store instance.
func (s *DynamoStore) Metadata() map[string]string {
	mode := ModeReadWrite
	if s.readOnly.Load() {
		mode = ModeReadOnly
	}
	return map[string]string{
		"type":     "dynamodb",
		"table":    s.config.Table,
		"instance": s.instance,
		"mode":     mode,
	}
}

func (s *DynamoStore) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 20 * time.Millisecond
	exp.MaxInterval = s.config.MaxBackoff
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.config.MaxRetries)), ctx)
}

func (s *DynamoStore) cached(c Collection, id string, maxAge time.Duration) (*Document, bool) {
	if s.cache == nil || maxAge <= 0 {
		return nil, false
	}
	entry, ok := s.cache.Get(cacheKey{c, id})
	if !ok || time.Since(entry.at) > maxAge {
		return nil, false
	}
	return entry.doc.Copy(), true
}

func (s *DynamoStore) remember(c Collection, doc *Document) {
	if s.cache == nil {
		return
	}
	s.cache.Add(cacheKey{c, doc.ID}, cacheEntry{doc: doc.Copy(), at: time.Now()})
}

func (s *DynamoStore) forget(c Collection, id string) {
	if s.cache == nil {
		return
	}
	s.cache.Remove(cacheKey{c, id})
}

// mapCreateTransactionError maps DynamoDB transaction errors for Create.
// Every condition in a create transaction is an existence check.
func mapCreateTransactionError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return ErrAlreadyExists
			}
		}
	}

	return err
}

func itemKey(c Collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: shard.PartitionKey(string(c), id)},
		"sk": &types.AttributeValueMemberS{Value: id},
	}
}

// marshalDocument converts a document to a DynamoDB item.
func marshalDocument(c Collection, doc *Document) (map[string]types.AttributeValue, error) {
	props, err := attributevalue.MarshalMap(doc.Props)
	if err != nil {
		return nil, err
	}
	item := itemKey(c, doc.ID)
	item["collection"] = &types.AttributeValueMemberS{Value: string(c)}
	item["modcount"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(doc.ModCount, 10)}
	item["props"] = &types.AttributeValueMemberM{Value: props}
	return item, nil
}

// unmarshalDocument converts a DynamoDB item to a Document.
func unmarshalDocument(raw map[string]types.AttributeValue) (*Document, error) {
	doc := &Document{Props: map[string]any{}}

	if v, ok := raw["sk"].(*types.AttributeValueMemberS); ok {
		doc.ID = v.Value
	}
	if v, ok := raw["modcount"].(*types.AttributeValueMemberN); ok {
		doc.ModCount, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw["props"].(*types.AttributeValueMemberM); ok {
		if err := attributevalue.UnmarshalMap(v.Value, &doc.Props); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", doc.ID, err)
		}
		for name, value := range doc.Props {
			if f, ok := value.(float64); ok {
				doc.Props[name] = normalizeNumber(f)
			}
		}
	}

	return doc, nil
}
