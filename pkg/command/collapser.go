package command

import (
	"context"
	"errors"

	"github.com/mattsp1290/circuitry/pkg/cerrors"
)

// Collapser is the request-batching surface this module scopes out
// as "a stub in the source." NoopCollapser satisfies it without folding any
// requests, leaving room for a real batching implementation later without
// an API break.
type Collapser interface {
	Collapse(ctx context.Context, commandKey string, arg interface{}) (interface{}, error)
}

var errCollapserNotImplemented = errors.New("command: collapser not implemented")

// NoopCollapser never batches; Collapse always returns a BadRequestFailure
// so misuse is obvious rather than silently running uncollapsed.
type NoopCollapser struct{}

// Collapse implements Collapser by refusing to batch anything.
func (NoopCollapser) Collapse(ctx context.Context, commandKey string, arg interface{}) (interface{}, error) {
	return nil, cerrors.NewBadRequestFailure(errCollapserNotImplemented)
}
