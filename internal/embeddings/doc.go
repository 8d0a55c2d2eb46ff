// Package embeddings generates text embeddings via pluggable providers.
//
// Supports FastEmbed (local ONNX, requires CGO) and TEI (external HTTP
// service). The factory selects the provider at runtime and detects the
// embedding dimension for common models.
package embeddings
