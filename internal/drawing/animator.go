package drawing

import (
	"context"
	"time"

	"github.com/cory-johannsen/fortune/internal/broadcast"
)

// Animator blocks until viewers have finished showing a spin, so the next
// queued event starts only after the previous spin fully resolved.
type Animator interface {
	Animate(ctx context.Context, s broadcast.Spin) error
}

// AnimatorFunc adapts a function to the Animator interface.
type AnimatorFunc func(ctx context.Context, s broadcast.Spin) error

// Animate calls f.
func (f AnimatorFunc) Animate(ctx context.Context, s broadcast.Spin) error { return f(ctx, s) }

// SleepAnimator waits for the spin's duration.
type SleepAnimator struct{}

// Animate returns after s.DurationSeconds or when ctx is done.
func (SleepAnimator) Animate(ctx context.Context, s broadcast.Spin) error {
	t := time.NewTimer(time.Duration(s.DurationSeconds * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoAnimation returns immediately.
type NoAnimation struct{}

// Animate returns nil.
func (NoAnimation) Animate(context.Context, broadcast.Spin) error { return nil }
