package rag

import "context"

// ProgressFunc receives the number of chunks processed so far and the total
// during an index build.
type ProgressFunc func(done, total int)

type progressKey struct{}

// WithProgress attaches fn to ctx. A build started with ctx reports to it
// after every embedding batch.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func reportProgress(ctx context.Context, done, total int) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		fn(done, total)
	}
}
