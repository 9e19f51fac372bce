// Package infra holds the outbound adapters of the chat core: catalog text
// search (Postgres), image similarity search (Qdrant), the language model
// (Gemini), the image embedding service and the image downloader.
package infra

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("chat/infra")
