// Package cancel provides a single cloneable cancellation token shared by
// every task in a coordinator or camera-node process. Signal handlers and
// fatal-error paths call Cancel; every task observes it cooperatively via
// Done/Err, the same way they would observe context cancellation directly,
// but threaded as one named value instead of an ambient parameter.
package cancel

import "context"

// Token is a context.Context paired with the CancelFunc that controls it.
// It is safe to pass by value; the underlying context is a single shared
// instance, so every holder observes the same cancellation.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Token derived from parent. Calling Cancel on the returned
// Token (or letting parent expire) closes Done() for every holder.
func New(parent context.Context) Token {
	ctx, cancel := context.WithCancel(parent)
	return Token{ctx: ctx, cancel: cancel}
}

// Context returns the underlying context, for APIs that expect one.
func (t Token) Context() context.Context {
	return t.ctx
}

// Done returns a channel closed when the token is cancelled.
func (t Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Err returns context.Canceled, context.DeadlineExceeded, or nil.
func (t Token) Err() error {
	return t.ctx.Err()
}

// Cancel fires the token. Safe to call more than once and from more than
// one goroutine; only the first call has any effect.
func (t Token) Cancel() {
	t.cancel()
}
