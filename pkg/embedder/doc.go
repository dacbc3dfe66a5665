// Package embedder provides text embedding clients for vector representations.
//
// This package defines the Client interface and an OpenAI implementation that
// also serves OpenAI-compatible embedding servers (vLLM, Ollama, TEI).
//
// # Usage
//
//	client := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{
//	    Model:     "text-embedding-3-small",
//	    BatchSize: 100,
//	})
//	vec, err := client.EmbedSingle(ctx, "Company A raises guidance")
//
// Returned vectors are L2-normalized. Provider failures wrap ErrUnavailable.
package embedder
