// Package config provides configuration loading for memoryd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the daemon.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Directory  DirectoryConfig  `koanf:"directory"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// TelemetryConfig configures the OpenTelemetry metric exporter.
type TelemetryConfig struct {
	// Enabled turns on the OTLP metric exporter.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `koanf:"endpoint"`

	// ServiceName identifies this process in exported metrics.
	ServiceName string `koanf:"service_name"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `koanf:"insecure"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Default :9090.
	MetricsAddr string `koanf:"metrics_addr"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// Provider selects the backend: "memory" (basic substring tier),
	// "chromem" (embedded vector tier), or "qdrant" (server vector tier).
	Provider string `koanf:"provider"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go vector index.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// Collection is the collection name for memory vectors.
	Collection string `koanf:"collection"`
}

// QdrantConfig configures the Qdrant gRPC vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: localhost.
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int `koanf:"port"`

	// Collection is the collection name for memory vectors.
	Collection string `koanf:"collection"`

	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool `koanf:"use_tls"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX), "tei" (HTTP server), or ""
	// to disable the embedding pipeline entirely.
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the TEI server URL (tei provider only).
	BaseURL string `koanf:"base_url"`

	// CacheDir caches downloaded model files (fastembed provider only).
	CacheDir string `koanf:"cache_dir"`

	// Timeout bounds a single provider call. A timeout is a retryable
	// failure, not a permanent one.
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit caps provider calls per second. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
}

// DispatcherConfig selects the asynchronous embedding executor.
type DispatcherConfig struct {
	// Provider is "nats" for the durable JetStream queue or "inproc" for
	// the best-effort in-process executor. Empty defaults to inproc.
	Provider string `koanf:"provider"`

	// URL is the NATS server URL (nats provider only).
	URL string `koanf:"url"`

	// Stream is the JetStream stream name for embedding jobs.
	Stream string `koanf:"stream"`
}

// RetrievalConfig holds the hybrid ranking tunables.
//
// The weight split has no derivation; it is preserved from the original
// design as named, overridable configuration.
type RetrievalConfig struct {
	// SemanticWeight scales the cosine-similarity term. Default 0.7.
	// Pointer so an explicit zero survives defaulting.
	SemanticWeight *float64 `koanf:"semantic_weight"`

	// KeywordWeight scales the keyword-rank term. Default 0.3.
	KeywordWeight *float64 `koanf:"keyword_weight"`

	// DefaultLimit is the result limit when the caller gives none.
	DefaultLimit int `koanf:"default_limit"`
}

// DedupConfig holds the write-time near-duplicate tunables. Dedup runs
// whenever the backend has vector capability and an embedding provider is
// configured; there is no separate switch.
type DedupConfig struct {
	// Threshold is the cosine similarity above which a write supersedes
	// its nearest neighbor. Default 0.90, preserved from the original
	// design without derivation.
	Threshold float64 `koanf:"threshold"`
}

// DirectoryConfig seeds the static team/application directory. In a full
// deployment this data comes from an external directory service; the static
// form keeps the authorization boundary testable.
type DirectoryConfig struct {
	Teams        map[string]TeamConfig        `koanf:"teams"`
	Applications map[string]ApplicationConfig `koanf:"applications"`
	Admins       []string                     `koanf:"admins"`
}

// TeamConfig describes one team's membership.
type TeamConfig struct {
	Members []string `koanf:"members"`
	Admins  []string `koanf:"admins"`
}

// ApplicationConfig describes one application's ownership.
type ApplicationConfig struct {
	Owner string `koanf:"owner"`
	Team  string `koanf:"team"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "memoryd"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.MetricsAddr == "" {
		c.Telemetry.MetricsAddr = ":9090"
	}
	if c.Store.Provider == "" {
		c.Store.Provider = "chromem"
	}
	if c.Store.Chromem.Path == "" {
		c.Store.Chromem.Path = "~/.local/share/memoryd/vectors"
	}
	if c.Store.Chromem.Collection == "" {
		c.Store.Chromem.Collection = "memories"
	}
	if c.Store.Qdrant.Host == "" {
		c.Store.Qdrant.Host = "localhost"
	}
	if c.Store.Qdrant.Port == 0 {
		c.Store.Qdrant.Port = 6334
	}
	if c.Store.Qdrant.Collection == "" {
		c.Store.Qdrant.Collection = "memories"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:8080"
	}
	if c.Embeddings.Timeout == 0 {
		c.Embeddings.Timeout = 30 * time.Second
	}
	if c.Dispatcher.Provider == "" {
		c.Dispatcher.Provider = "inproc"
	}
	if c.Dispatcher.URL == "" {
		c.Dispatcher.URL = "nats://localhost:4222"
	}
	if c.Dispatcher.Stream == "" {
		c.Dispatcher.Stream = "MEMORYD_EMBED"
	}
	if c.Retrieval.SemanticWeight == nil {
		c.Retrieval.SemanticWeight = ptrFloat(0.7)
	}
	if c.Retrieval.KeywordWeight == nil {
		c.Retrieval.KeywordWeight = ptrFloat(0.3)
	}
	if c.Retrieval.DefaultLimit == 0 {
		c.Retrieval.DefaultLimit = 10
	}
	if c.Dedup.Threshold == 0 {
		c.Dedup.Threshold = 0.90
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	switch c.Store.Provider {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("store.provider: unsupported provider %q (supported: memory, chromem, qdrant)", c.Store.Provider)
	}
	if c.Store.Provider == "qdrant" {
		if c.Store.Qdrant.Port <= 0 || c.Store.Qdrant.Port > 65535 {
			return fmt.Errorf("store.qdrant.port: invalid port %d", c.Store.Qdrant.Port)
		}
	}
	switch c.Embeddings.Provider {
	case "", "fastembed", "tei":
	default:
		return fmt.Errorf("embeddings.provider: unsupported provider %q (supported: fastembed, tei)", c.Embeddings.Provider)
	}
	switch c.Dispatcher.Provider {
	case "inproc", "nats":
	default:
		return fmt.Errorf("dispatcher.provider: unsupported provider %q (supported: inproc, nats)", c.Dispatcher.Provider)
	}
	if sw, kw := c.Retrieval.SemanticWeight, c.Retrieval.KeywordWeight; (sw != nil && *sw < 0) || (kw != nil && *kw < 0) {
		return fmt.Errorf("retrieval: weights must be non-negative")
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold: must be in (0, 1], got %v", c.Dedup.Threshold)
	}
	return nil
}

func ptrFloat(v float64) *float64 { return &v }
