// Package memory is an in-process MessageQueue for single-binary deployments.
// Pending messages do not survive a restart.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

var ErrClosed = errors.New("memory queue closed")

type Queue struct {
	workers int
	ch      chan string

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

func New(opts ...Option) *Queue {
	q := &Queue{
		workers: 4,
		ch:      make(chan string, 256),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// PublishDocumentIngested blocks while the buffer is full until ctx is done.
func (q *Queue) PublishDocumentIngested(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "memory publish", errors.New("document id is required"))
	}
	select {
	case <-q.done:
		return domain.WrapError(domain.ErrTemporary, "memory publish", ErrClosed)
	default:
	}

	select {
	case q.ch <- documentID:
		return nil
	default:
		slog.Warn("memory_queue_full", "document_id", documentID, "capacity", cap(q.ch))
	}

	select {
	case q.ch <- documentID:
		return nil
	case <-q.done:
		return domain.WrapError(domain.ErrTemporary, "memory publish", ErrClosed)
	case <-ctx.Done():
		return domain.WrapError(domain.ErrTemporary, "memory publish", ctx.Err())
	}
}

// SubscribeDocumentIngested runs the worker pool until ctx is done or the queue is closed,
// then waits for in-flight handlers to return.
func (q *Queue) SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case documentID := <-q.ch:
					if err := handler(ctx, documentID); err != nil {
						slog.Error("worker_handler_failed", "worker_id", workerID, "document_id", documentID, "error", err)
					}
				}
			}
		}(i + 1)
	}
	wg.Wait()
	return nil
}

func (q *Queue) Pending() int {
	return len(q.ch)
}

func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
