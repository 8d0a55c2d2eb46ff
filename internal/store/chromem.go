package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name for memory vectors.
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/memoryd/vectors"
	}
	if c.Collection == "" {
		c.Collection = "memories"
	}
}

// ChromemIndex implements VectorIndex using chromem-go, an embeddable
// vector database with no external service dependency. Vectors are always
// provided precomputed; the collection's embedding func is never invoked.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *logging.Logger
}

// openChromemDB opens (or creates) the persistent chromem database at path.
func openChromemDB(path string, compress bool) (*chromem.DB, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
	}
	db, err := chromem.NewPersistentDB(expanded, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}
	return db, nil
}

// NewChromemIndex opens (or creates) the persistent chromem database.
func NewChromemIndex(cfg ChromemConfig, logger *logging.Logger) (*ChromemIndex, error) {
	cfg.ApplyDefaults()
	db, err := openChromemDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, err
	}
	return newChromemIndex(db, cfg.Collection, logger)
}

// newChromemIndex binds a vector collection inside an already-open database.
func newChromemIndex(db *chromem.DB, name string, logger *logging.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	collection, err := db.GetOrCreateCollection(name, nil, noEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	logger.Info(context.Background(), "chromem index opened",
		zap.String("collection", name),
		zap.Int("vectors", collection.Count()))

	return &ChromemIndex{db: db, collection: collection, logger: logger}, nil
}

// noEmbeddingFunc guards against accidental embedding inside the index;
// vectors always arrive precomputed from the pipeline.
func noEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index does not embed; vectors must be precomputed")
}

func (c *ChromemIndex) Upsert(ctx context.Context, id string, vector []float32, meta map[string]string) error {
	doc := chromem.Document{
		ID:        id,
		Content:   id, // content lives in the row store; the index only needs a non-empty payload
		Embedding: append([]float32(nil), vector...),
		Metadata:  meta,
	}
	if err := c.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("adding vector: %w", err)
	}
	return nil
}

func (c *ChromemIndex) Delete(ctx context.Context, id string) error {
	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		// chromem errors on unknown ids; absence is fine for the index.
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("deleting vector: %w", err)
	}
	return nil
}

func (c *ChromemIndex) Query(ctx context.Context, vector []float32, k int) ([]IndexHit, error) {
	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem requires nResults <= document count.
	if k > count {
		k = count
	}

	results, err := c.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]IndexHit, len(results))
	for i, r := range results {
		hits[i] = IndexHit{ID: r.ID, Score: float64(r.Similarity)}
	}
	return hits, nil
}

func (c *ChromemIndex) Count(context.Context) (int, error) {
	return c.collection.Count(), nil
}

func (c *ChromemIndex) Close() error {
	return nil
}

// rowAnchor is the constant unit embedding shared by every row document.
// The rows collection is durable key-value storage, never a similarity
// index; a shared unit vector lets a single query enumerate everything.
var rowAnchor = []float32{1}

// ChromemRows persists memory rows as JSON documents in a chromem
// collection, the same way the vector collection persists embeddings.
// Implements RowPersistence.
type ChromemRows struct {
	collection *chromem.Collection
	logger     *logging.Logger
}

// NewChromemRows opens a durable row mirror in its own chromem database at
// cfg.Path. Vector tiers without local document storage (qdrant) use this
// to keep rows on disk beside the daemon.
func NewChromemRows(cfg ChromemConfig, logger *logging.Logger) (*ChromemRows, error) {
	cfg.ApplyDefaults()
	db, err := openChromemDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, err
	}
	return newChromemRows(db, cfg.Collection+"_rows", logger)
}

// newChromemRows binds the rows collection inside an already-open database.
func newChromemRows(db *chromem.DB, name string, logger *logging.Logger) (*ChromemRows, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	collection, err := db.GetOrCreateCollection(name, nil, noEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return &ChromemRows{collection: collection, logger: logger}, nil
}

func (r *ChromemRows) SaveRow(ctx context.Context, m *memory.Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}
	doc := chromem.Document{
		ID:        m.ID,
		Content:   string(data),
		Embedding: rowAnchor,
	}
	if err := r.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("persisting row: %w", err)
	}
	return nil
}

func (r *ChromemRows) DeleteRow(ctx context.Context, id string) error {
	if err := r.collection.Delete(ctx, nil, nil, id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("deleting row: %w", err)
	}
	return nil
}

func (r *ChromemRows) LoadRows(ctx context.Context) ([]*memory.Memory, error) {
	count := r.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// Every row document carries the same anchor embedding, so one query
	// at nResults = count returns the full collection.
	results, err := r.collection.QueryEmbedding(ctx, rowAnchor, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	rows := make([]*memory.Memory, 0, len(results))
	for _, res := range results {
		var m memory.Memory
		if err := json.Unmarshal([]byte(res.Content), &m); err != nil {
			return nil, fmt.Errorf("decoding row %s: %w", res.ID, err)
		}
		rows = append(rows, &m)
	}
	return rows, nil
}

func (r *ChromemRows) Close() error {
	return nil
}

// expandPath resolves a leading ~ to the user home directory.
func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
