package presenter

import (
	"context"
	"errors"
)

// ErrWorkerUnavailable means the background worker is not ready to take
// notifications.
var ErrWorkerUnavailable = errors.New("presenter: background worker unavailable")

// Poster is the background worker's intake. Post returns once the content is
// on screen or the display has failed.
type Poster interface {
	Ready() bool
	Post(ctx context.Context, c Content) error
}

// Worker hands content to the background worker, which keeps the
// notification alive and routes clicks.
type Worker struct {
	P Poster
}

func (w Worker) Name() string { return "worker" }

func (w Worker) Show(ctx context.Context, c Content) error {
	if w.P == nil || !w.P.Ready() {
		return ErrWorkerUnavailable
	}
	return w.P.Post(ctx, c)
}
