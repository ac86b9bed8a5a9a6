// Package embedding turns text into fixed-dimension vectors through a hosted model, with
// caching and a bounded batch pool.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text. EmbedBatch returns one vector per input,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Reason classifies an embedding failure.
type Reason string

const (
	ReasonRateLimited Reason = "rate_limited"
	ReasonAuth        Reason = "auth"
	// ReasonTransient covers timeouts, provider errors and malformed responses.
	ReasonTransient Reason = "transient"
)

// Error is returned when the embedding capability fails.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("embedding %s: %v", e.Reason, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stage-qualified reason, e.g. "embedding:rate_limited".
func (e *Error) Code() string { return "embedding:" + string(e.Reason) }

// asError returns err as an *Error, wrapping unknown errors as transient.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Reason: ReasonTransient, Err: err}
}
