package persist

import "context"

// ConnectionFunction is called with the native connection of the current
// unit of work and returns a result. The function has exclusive use of
// conn until it returns and must not retain it afterwards. An error it
// returns reaches the caller unchanged.
type ConnectionFunction[C, T any] func(ctx context.Context, conn C) (T, error)

// Apply calls f.
func (f ConnectionFunction[C, T]) Apply(ctx context.Context, conn C) (T, error) {
	return f(ctx, conn)
}

// ConnectionConsumer is a ConnectionFunction without a result.
type ConnectionConsumer[C any] func(ctx context.Context, conn C) error

// Accept calls f.
func (f ConnectionConsumer[C]) Accept(ctx context.Context, conn C) error {
	return f(ctx, conn)
}

// Func adapts f to a ConnectionFunction returning an empty struct.
func (f ConnectionConsumer[C]) Func() ConnectionFunction[C, struct{}] {
	return func(ctx context.Context, conn C) (struct{}, error) {
		return struct{}{}, f(ctx, conn)
	}
}
