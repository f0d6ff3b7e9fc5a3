// Package milvus wraps the Milvus SDK client for chunk vector storage.
//
// Collections are created lazily with a VarChar primary key, a FloatVector
// field named "embedding" and an IVF_FLAT index using COSINE similarity.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kart-io/sentinel-kb/pkg/component/storage"
	options "github.com/kart-io/sentinel-kb/pkg/options/milvus"
)

// VectorField is the name of the vector column in every collection.
const VectorField = "embedding"

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *options.Options

	mu      sync.Mutex
	ensured map[string]bool
}

var _ storage.Client = (*Client)(nil)

// New creates a new Milvus client.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	logger.Infow("Milvus connected", "address", opts.Address, "database", opts.Database)
	return &Client{
		client:  c,
		opts:    opts,
		ensured: make(map[string]bool),
	}, nil
}

// Name implements storage.Client.
func (c *Client) Name() string {
	return "milvus"
}

// Ping implements storage.Client by listing collections.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.ListCollections(ctx, milvusclient.NewListCollectionOption())
	return err
}

// Close implements storage.Client.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	return c.client.Close(ctx)
}

// Options returns the client options.
func (c *Client) Options() *options.Options {
	return c.opts
}

// RawClient returns the underlying Milvus client.
func (c *Client) RawClient() *milvusclient.Client {
	return c.client
}

// Field defines a scalar field in the collection.
type Field struct {
	Name       string
	DataType   entity.FieldType
	MaxLen     int
	PrimaryKey bool
}

// CollectionSchema defines the schema for a vector collection.
type CollectionSchema struct {
	Name        string
	Description string
	Dimension   int
	Fields      []Field
}

// EnsureCollection creates, indexes and loads the collection once per process.
func (c *Client) EnsureCollection(ctx context.Context, schema *CollectionSchema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ensured[schema.Name] {
		return nil
	}

	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(schema.Name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		if err := c.createCollection(ctx, schema); err != nil {
			return err
		}
		logger.Infow("Milvus collection created", "collection", schema.Name, "dimension", schema.Dimension)
	}

	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(schema.Name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	c.ensured[schema.Name] = true
	return nil
}

func (c *Client) createCollection(ctx context.Context, schema *CollectionSchema) error {
	collSchema := entity.NewSchema().
		WithName(schema.Name).
		WithDescription(schema.Description)

	for _, f := range schema.Fields {
		field := entity.NewField().
			WithName(f.Name).
			WithDataType(f.DataType)
		if f.PrimaryKey {
			field.WithIsPrimaryKey(true)
		}
		if f.DataType == entity.FieldTypeVarChar {
			maxLen := f.MaxLen
			if maxLen <= 0 {
				maxLen = 256
			}
			field.WithMaxLength(int64(maxLen))
		}
		collSchema.WithField(field)
	}

	collSchema.WithField(
		entity.NewField().
			WithName(VectorField).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(schema.Dimension)),
	)

	if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(schema.Name, collSchema)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx := index.NewIvfFlatIndex(entity.COSINE, c.opts.NList)
	task, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(schema.Name, VectorField, idx))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for index creation: %w", err)
	}
	return nil
}

// Insert writes column-based rows and flushes so they are searchable immediately.
func (c *Client) Insert(ctx context.Context, collection string, columns ...column.Column) error {
	if _, err := c.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(collection, columns...)); err != nil {
		return fmt.Errorf("failed to insert data: %w", err)
	}

	flushTask, err := c.client.Flush(ctx, milvusclient.NewFlushOption(collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// Hit is a single search or query row.
type Hit struct {
	ID     string
	Score  float32
	Fields map[string]any
}

// Search performs a COSINE similarity search restricted by the boolean filter expression.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int, filter string, outputFields []string) ([]Hit, error) {
	opt := milvusclient.NewSearchOption(collection, topK, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(VectorField).
		WithSearchParam("nprobe", strconv.Itoa(c.opts.NProbe)).
		WithConsistencyLevel(entity.ClStrong).
		WithOutputFields(outputFields...)
	if filter != "" {
		opt = opt.WithFilter(filter)
	}

	results, err := c.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	rs := results[0]
	hits := make([]Hit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		hit := Hit{Score: rs.Scores[i], Fields: make(map[string]any, len(rs.Fields))}
		if ids, ok := rs.IDs.(*column.ColumnVarChar); ok {
			hit.ID = ids.Data()[i]
		}
		for _, col := range rs.Fields {
			if v, ok := columnValue(col, i); ok {
				hit.Fields[col.Name()] = v
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Query returns rows matching the filter expression.
func (c *Client) Query(ctx context.Context, collection, filter string, outputFields []string) ([]map[string]any, error) {
	rs, err := c.client.Query(ctx, milvusclient.NewQueryOption(collection).
		WithFilter(filter).
		WithConsistencyLevel(entity.ClStrong).
		WithOutputFields(outputFields...))
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	rows := make([]map[string]any, rs.ResultCount)
	for i := range rows {
		rows[i] = make(map[string]any, len(rs.Fields))
		for _, col := range rs.Fields {
			if v, ok := columnValue(col, i); ok {
				rows[i][col.Name()] = v
			}
		}
	}
	return rows, nil
}

// DeleteByFilter deletes every row matching the filter expression.
func (c *Client) DeleteByFilter(ctx context.Context, collection, filter string) (int64, error) {
	res, err := c.client.Delete(ctx, milvusclient.NewDeleteOption(collection).WithExpr(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to delete by filter: %w", err)
	}
	return res.DeleteCount, nil
}

// ListCollections returns the collection names that start with prefix.
func (c *Client) ListCollections(ctx context.Context, prefix string) ([]string, error) {
	names, err := c.client.ListCollections(ctx, milvusclient.NewListCollectionOption())
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out, nil
}

// DropCollection drops a collection.
func (c *Client) DropCollection(ctx context.Context, collection string) error {
	if err := c.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(collection)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	c.mu.Lock()
	delete(c.ensured, collection)
	c.mu.Unlock()
	return nil
}

// RowCount returns the number of entities in a collection.
func (c *Client) RowCount(ctx context.Context, collection string) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

func columnValue(col column.Column, i int) (any, bool) {
	switch c := col.(type) {
	case *column.ColumnVarChar:
		return c.Data()[i], true
	case *column.ColumnInt64:
		return c.Data()[i], true
	case *column.ColumnJSONBytes:
		return c.Data()[i], true
	case *column.ColumnFloatVector:
		return c.Data()[i], true
	}
	return nil, false
}
