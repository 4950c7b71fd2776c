// Package llmclient implements the thin LLM call contract the engage loop
// consumes: synchronous complete and streaming complete_stream, both
// returning the same fully-assembled model.CompletionResponse. Rate-limit
// retry with bounded backoff lives here; everything else (model fallback,
// circuit breaking) is the caller's concern.
package llmclient

import (
	"context"

	"github.com/animus-run/animus/pkg/model"
)

// Client is the LLM call abstraction the engage loop depends on. It is
// responsible only for rate-limit retry with bounded backoff; model
// fallback and circuit breaking are the caller's concern.
type Client interface {
	Complete(ctx context.Context, req model.CompletionRequest) (*model.CompletionResponse, error)
	CompleteStream(ctx context.Context, req model.CompletionRequest, sink model.EventSink) (*model.CompletionResponse, error)
}
