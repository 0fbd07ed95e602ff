package util

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrPanicked wraps a panic recovered from a primary call.
var ErrPanicked = errors.New("primary panicked")

// WithFallback runs primary, checks its output with validate (when non-nil)
// and returns it. Any error, validation failure or panic from primary routes
// to fallback, which receives the cause. The returned error is nil when the
// primary result was used and holds the cause otherwise; the value is always
// usable.
func WithFallback[T any](
	ctx context.Context,
	name string,
	primary func(context.Context) (T, error),
	validate func(T) error,
	fallback func(cause error) T,
) (T, error) {
	out, err := runPrimary(ctx, primary)
	if err == nil && validate != nil {
		if verr := validate(out); verr != nil {
			err = fmt.Errorf("validation failed: %w", verr)
		}
	}
	if err == nil {
		return out, nil
	}
	slog.Warn("util.WithFallback: primary failed, using fallback", "operation", name, "error", err)
	return fallback(err), err
}

func runPrimary[T any](ctx context.Context, primary func(context.Context) (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return primary(ctx)
}
