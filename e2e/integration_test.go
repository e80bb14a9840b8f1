//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// DOCMUX_AWS_PROFILE selects a shared config profile and
// DOCMUX_DYNAMODB_ENDPOINT points the tests at DynamoDB Local.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/docmux/check"
	"github.com/jacentio/docmux/index"
	"github.com/jacentio/docmux/mount"
	"github.com/jacentio/docmux/multiplex"
	"github.com/jacentio/docmux/store"
)

// Table names - unique per test run to avoid conflicts
const tablePrefix = "docmux-e2e-test"

var (
	testID    string
	rootTable string
	libsTable string

	ddbClient *dynamodb.Client
	rootStore *store.DynamoStore
	libsStore *store.DynamoStore
	router    *multiplex.Store
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	// Generate unique test ID
	testID = uuid.New().String()[:8]
	rootTable = fmt.Sprintf("%s-%s-root", tablePrefix, testID)
	libsTable = fmt.Sprintf("%s-%s-libs", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Tables:\n")
	fmt.Printf("  - Root: %s\n", rootTable)
	fmt.Printf("  - Libs: %s\n", libsTable)

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if profile := os.Getenv("DOCMUX_AWS_PROFILE"); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	ddbClient = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint := os.Getenv("DOCMUX_DYNAMODB_ENDPOINT"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	rootCfg := store.DefaultConfig()
	rootCfg.Table = rootTable
	rootCfg.ConsistentReads = true
	rootStore = store.NewDynamo(ddbClient, rootCfg)

	libsCfg := store.DefaultConfig()
	libsCfg.Table = libsTable
	libsCfg.ConsistentReads = true
	libsStore = store.NewDynamo(ddbClient, libsCfg)

	provider, err := mount.NewBuilder().Mount("libs", "/libs", "/apps").Build()
	if err != nil {
		fmt.Printf("Failed to build mounts: %v\n", err)
		os.Exit(1)
	}
	router, err = multiplex.New(provider, map[string]store.DocumentStore{
		mount.DefaultName: rootStore,
		"libs":            libsStore,
	})
	if err != nil {
		fmt.Printf("Failed to create router: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := deleteTables(ctx); err != nil {
		fmt.Printf("Failed to delete tables: %v\n", err)
	}

	os.Exit(code)
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	for _, tableName := range []string{rootTable, libsTable} {
		_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(tableName),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("create table %s: %w", tableName, err)
		}
	}

	for _, tableName := range []string{rootTable, libsTable} {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", tableName, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) error {
	fmt.Println("Deleting test tables...")

	for _, tableName := range []string{rootTable, libsTable} {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
		}
	}

	fmt.Println("Tables deleted")
	return nil
}

// base returns a fresh path prefix so tests do not see each other's documents.
func base(t *testing.T) string {
	t.Helper()
	return "/t" + uuid.New().String()[:8]
}

func id(path string) string {
	return store.KeyFromPath(path).Value()
}

// --- Routing Tests ---

func TestCreate_RoutesToOwningTable(t *testing.T) {
	ctx := context.Background()
	suffix := uuid.New().String()[:8]
	rootPath := "/content/" + suffix
	libsPath := "/libs/" + suffix

	ok, err := router.Create(ctx, store.Nodes, []*store.UpdateOp{
		store.NewUpdateOp(id(rootPath), true).Set("title", "root"),
		store.NewUpdateOp(id(libsPath), true).Set("title", "libs"),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !ok {
		t.Fatal("expected Create to succeed")
	}

	if _, err := rootStore.Find(ctx, store.Nodes, id(rootPath)); err != nil {
		t.Errorf("expected %s in root table: %v", rootPath, err)
	}
	if _, err := libsStore.Find(ctx, store.Nodes, id(libsPath)); err != nil {
		t.Errorf("expected %s in libs table: %v", libsPath, err)
	}
	if _, err := rootStore.Find(ctx, store.Nodes, id(libsPath)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected %s to be absent from root table, got %v", libsPath, err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	ctx := context.Background()
	path := base(t) + "/dup"

	ops := []*store.UpdateOp{store.NewUpdateOp(id(path), true).Set("n", 1)}
	if ok, err := router.Create(ctx, store.Nodes, ops); err != nil || !ok {
		t.Fatalf("first Create: ok=%v err=%v", ok, err)
	}
	ok, err := router.Create(ctx, store.Nodes, ops)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if ok {
		t.Error("expected second Create to report false")
	}
}

func TestFind_NotFound(t *testing.T) {
	ctx := context.Background()

	_, err := router.Find(ctx, store.Nodes, id(base(t)+"/missing"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Query Tests ---

func TestQuery_MergesMounts(t *testing.T) {
	ctx := context.Background()

	// /libs is served by the libs table while its siblings live in the root
	// table.
	suffix := uuid.New().String()[:8]
	paths := []string{"/lb" + suffix, "/libs", "/ly" + suffix}

	if _, err := router.CreateOrUpdate(ctx, store.Nodes, store.NewUpdateOp(id("/libs"), true).Set("path", "/libs")); err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	ok, err := router.Create(ctx, store.Nodes, []*store.UpdateOp{
		store.NewUpdateOp(id(paths[0]), true).Set("path", paths[0]),
		store.NewUpdateOp(id(paths[2]), true).Set("path", paths[2]),
	})
	if err != nil || !ok {
		t.Fatalf("Create: ok=%v err=%v", ok, err)
	}

	docs, err := router.Query(ctx, store.Nodes, id("/la"+suffix), id("/lz"+suffix), 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != len(paths) {
		t.Fatalf("expected %d documents, got %d", len(paths), len(docs))
	}
	for i, p := range paths {
		if docs[i].ID != id(p) {
			t.Errorf("expected %s at %d, got %s", id(p), i, docs[i].ID)
		}
	}

	docs, err = router.Query(ctx, store.Nodes, id("/la"+suffix), id("/lz"+suffix), 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != id(paths[0]) {
		t.Errorf("expected only %s with limit 1, got %d documents", id(paths[0]), len(docs))
	}
}

func TestQuery_Children(t *testing.T) {
	ctx := context.Background()
	parent := "/libs/" + uuid.New().String()[:8]

	var ops []*store.UpdateOp
	for _, name := range []string{"a", "b", "c"} {
		ops = append(ops, store.NewUpdateOp(id(parent+"/"+name), true).Set("name", name))
	}
	if ok, err := router.Create(ctx, store.Nodes, ops); err != nil || !ok {
		t.Fatalf("Create: ok=%v err=%v", ok, err)
	}

	from, to := store.ChildrenRange(parent)
	docs, err := router.Query(ctx, store.Nodes, from, to, 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 children, got %d", len(docs))
	}
	if docs[0].ID != id(parent+"/a") || docs[1].ID != id(parent+"/b") {
		t.Errorf("expected a, b; got %s, %s", docs[0].ID, docs[1].ID)
	}
}

// --- Update Tests ---

func TestFindAndUpdate_Increment(t *testing.T) {
	ctx := context.Background()
	path := base(t) + "/counter"

	if _, err := router.CreateOrUpdate(ctx, store.Nodes, store.NewUpdateOp(id(path), true).Set("n", 1)); err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := router.FindAndUpdate(ctx, store.Nodes, store.NewUpdateOp(id(path), false).Increment("n", 1)); err != nil {
			t.Fatalf("FindAndUpdate failed: %v", err)
		}
	}

	if err := router.InvalidateCacheKeys(ctx, store.Nodes, []string{id(path)}); err != nil {
		t.Fatalf("InvalidateCacheKeys failed: %v", err)
	}
	doc, err := router.Find(ctx, store.Nodes, id(path))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if n, _ := doc.Get("n"); n != int64(4) {
		t.Errorf("expected n=4, got %v (%T)", n, n)
	}
	if doc.ModCount != 4 {
		t.Errorf("expected modcount 4, got %d", doc.ModCount)
	}
}

func TestFindAndUpdate_ConditionFails(t *testing.T) {
	ctx := context.Background()
	path := base(t) + "/cond"

	if _, err := router.CreateOrUpdate(ctx, store.Nodes, store.NewUpdateOp(id(path), true).Set("state", "a")); err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}

	old, err := router.FindAndUpdate(ctx, store.Nodes,
		store.NewUpdateOp(id(path), false).Equals("state", "b").Set("state", "c"))
	if err != nil {
		t.Fatalf("FindAndUpdate failed: %v", err)
	}
	if old != nil {
		t.Errorf("expected no update when condition fails, got %v", old.Props)
	}
}

// --- Remove Tests ---

func TestRemoveIf_AcrossMounts(t *testing.T) {
	ctx := context.Background()
	suffix := uuid.New().String()[:8]
	paths := []string{"/content/" + suffix, "/libs/" + suffix, "/apps/" + suffix}
	values := []string{"val", "val", "otherVal"}

	var ops []*store.UpdateOp
	for i, p := range paths {
		ops = append(ops, store.NewUpdateOp(id(p), true).Set("prop", values[i]))
	}
	if ok, err := router.Create(ctx, store.Nodes, ops); err != nil || !ok {
		t.Fatalf("Create: ok=%v err=%v", ok, err)
	}

	toRemove := map[string]store.Conditions{}
	for _, p := range paths {
		toRemove[id(p)] = store.Conditions{"prop": {Type: store.Equals, Value: "val"}}
	}
	n, err := router.RemoveIf(ctx, store.Nodes, toRemove)
	if err != nil {
		t.Fatalf("RemoveIf failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, err := router.Find(ctx, store.Nodes, id(paths[2])); err != nil {
		t.Errorf("expected %s to survive: %v", paths[2], err)
	}
}

func TestReadOnlyMode(t *testing.T) {
	ctx := context.Background()
	path := "/libs/" + uuid.New().String()[:8]

	if err := libsStore.SetReadWriteMode(store.ModeReadOnly); err != nil {
		t.Fatalf("SetReadWriteMode failed: %v", err)
	}
	defer func() { _ = libsStore.SetReadWriteMode(store.ModeReadWrite) }()

	_, err := router.Create(ctx, store.Nodes, []*store.UpdateOp{store.NewUpdateOp(id(path), true)})
	if !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

// --- Unique Index Tests ---

func TestUniqueIndexCheck(t *testing.T) {
	ctx := context.Background()
	name := "uuid" + uuid.New().String()[:8]
	value := uuid.New().String()

	writer := index.NewWriter(router, nil)
	if err := writer.Define(ctx, index.Definition{Name: name, Unique: true, PropertyNames: []string{"jcr:uuid"}}); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := writer.Insert(ctx, name, value, "/content/"+value); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := writer.Insert(ctx, name, value, "/libs/"+value); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	holder := &check.ErrorHolder{}
	if err := check.NewUniqueIndexChecker(nil).CheckAll(ctx, router, holder); err != nil {
		t.Fatalf("CheckAll failed: %v", err)
	}

	var found int
	for _, r := range holder.Reports() {
		if r.Value == value {
			found++
		}
	}
	if found != 1 {
		t.Errorf("expected 1 collision for %s, got %d", value, found)
	}
}
