package store

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
)

// New creates a Store from configuration.
//
// Provider selection:
//   - "memory": basic tier, substring search only
//   - "chromem" (default): vector tier backed by the embedded chromem index
//   - "qdrant": vector tier backed by an external Qdrant server
//
// vectorSize is the embedding dimension of the configured provider; it is
// only required by the qdrant provider, which sizes its collection at
// creation time.
func New(ctx context.Context, cfg config.StoreConfig, vectorSize int, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	switch cfg.Provider {
	case "memory":
		return NewMemStore(logger), nil

	case "chromem", "":
		ccfg := ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Chromem.Collection,
		}
		ccfg.ApplyDefaults()
		db, err := openChromemDB(ccfg.Path, ccfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database: %w", err)
		}
		persist, err := newChromemRows(db, ccfg.Collection+"_rows", logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem row mirror: %w", err)
		}
		rows, err := NewDurableMemStore(ctx, persist, logger)
		if err != nil {
			return nil, err
		}
		index, err := newChromemIndex(db, ccfg.Collection, logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem index: %w", err)
		}
		return NewIndexedStore(rows, index, logger)

	case "qdrant":
		if vectorSize <= 0 {
			return nil, fmt.Errorf("%w: qdrant provider requires a known embedding dimension", ErrInvalidConfig)
		}
		// Qdrant holds only vectors; rows persist locally beside the
		// daemon in a chromem row mirror.
		persist, err := NewChromemRows(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Qdrant.Collection,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating row mirror: %w", err)
		}
		rows, err := NewDurableMemStore(ctx, persist, logger)
		if err != nil {
			return nil, err
		}
		index, err := NewQdrantIndex(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			VectorSize: uint64(vectorSize),
			UseTLS:     cfg.Qdrant.UseTLS,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating qdrant index: %w", err)
		}
		return NewIndexedStore(rows, index, logger)
	}

	return nil, fmt.Errorf("%w: unsupported store provider %q (supported: memory, chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
}
