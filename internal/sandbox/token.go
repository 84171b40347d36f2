package sandbox

import (
	"context"
	"sync/atomic"
)

// Token is the interruption signal of one execution. Once tripped it stays
// tripped: a worker abandoned after a timeout keeps seeing it even while a
// later execution runs with a fresh token.
type Token struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	tripped atomic.Bool
}

// NewToken returns an untripped token.
func NewToken() *Token {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// Interrupt trips the token. The first cause wins.
func (t *Token) Interrupt(cause error) {
	t.tripped.Store(true)
	t.cancel(cause)
}

// Interrupted reports whether the token has been tripped.
func (t *Token) Interrupted() bool {
	return t.tripped.Load()
}

// Context is cancelled when the token trips. Capabilities receive it.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is closed when the token trips.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Cause returns the error passed to the first Interrupt, or nil.
func (t *Token) Cause() error {
	if !t.Interrupted() {
		return nil
	}
	return context.Cause(t.ctx)
}
