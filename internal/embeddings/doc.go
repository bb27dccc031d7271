// Package embeddings turns text into vectors and hands them to the
// tenant-isolated vector store.
//
// Providers are pluggable: fastembed runs ONNX models locally (cgo
// builds only), tei speaks the OpenAI-compatible embeddings API through
// langchaingo, and openai uses the official SDK. Generator wraps a
// provider with rate limiting and metrics and never substitutes a
// fallback vector when the provider fails.
package embeddings
