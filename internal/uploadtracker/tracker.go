// Package uploadtracker follows uploads from the create call until the document reaches a
// terminal status, under a bounded polling schedule.
package uploadtracker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
)

const (
	uploadingProgress  = 10
	processingProgress = 60
	maxPollProgress    = 95
	timeoutProgress    = 90
	completedProgress  = 100

	// recentLimit bounds how many removed uploads Wait can still report.
	recentLimit = 128

	TimeoutMessage = "Processing timeout - document is taking longer than expected"
)

var ErrUnknownUpload = errors.New("unknown upload")

// DocumentAPI is the part of the document service the tracker talks to.
type DocumentAPI interface {
	CreateDocument(ctx context.Context, req ports.CreateDocumentRequest) (*domain.Document, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
}

type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Schedule struct {
	InitialDelay time.Duration
	PollInterval time.Duration
	MaxPolls     int
	EvictAfter   time.Duration
}

func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		PollInterval: 5 * time.Second,
		MaxPolls:     30,
		EvictAfter:   5 * time.Second,
	}
}

type entry struct {
	progress domain.UploadProgress
	cancel   context.CancelFunc
	done     chan struct{}
}

type Tracker struct {
	api      DocumentAPI
	clock    Clock
	schedule Schedule

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu          sync.Mutex
	entries     map[string]*entry
	recent      map[string]domain.UploadProgress
	recentOrder []string
	subs        map[*subscriber]struct{}
}

type Option func(*Tracker)

func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func WithSchedule(s Schedule) Option {
	return func(t *Tracker) {
		def := DefaultSchedule()
		if s.InitialDelay < 0 {
			s.InitialDelay = def.InitialDelay
		}
		if s.PollInterval <= 0 {
			s.PollInterval = def.PollInterval
		}
		if s.MaxPolls <= 0 {
			s.MaxPolls = def.MaxPolls
		}
		if s.EvictAfter < 0 {
			s.EvictAfter = def.EvictAfter
		}
		t.schedule = s
	}
}

func New(api DocumentAPI, opts ...Option) *Tracker {
	ctx, stop := context.WithCancel(context.Background())
	t := &Tracker{
		api:      api,
		clock:    systemClock{},
		schedule: DefaultSchedule(),
		ctx:      ctx,
		stop:     stop,
		entries:  make(map[string]*entry),
		recent:   make(map[string]domain.UploadProgress),
		subs:     make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start registers an upload and runs the create call and the polling loop in the background.
// It returns the upload id immediately.
func (t *Tracker) Start(title string, req ports.CreateDocumentRequest) string {
	if strings.TrimSpace(req.Title) == "" {
		req.Title = title
	}
	return t.launch(title, func(ctx context.Context, id string) (string, bool) {
		doc, err := t.api.CreateDocument(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				t.cancelled(id)
				return "", false
			}
			t.finish(id, func(p *domain.UploadProgress) {
				p.Status = domain.UploadFailed
				p.Error = "Upload failed: " + err.Error()
			})
			return "", false
		}
		return doc.ID, true
	})
}

// Track follows a document that was created elsewhere, starting directly in processing.
func (t *Tracker) Track(title, documentID string) string {
	return t.launch(title, func(context.Context, string) (string, bool) {
		return documentID, true
	})
}

func (t *Tracker) launch(title string, create func(ctx context.Context, id string) (string, bool)) string {
	id := ulid.MustNew(ulid.Now(), rand.Reader).String()
	ctx, cancel := context.WithCancel(t.ctx)

	t.mu.Lock()
	t.entries[id] = &entry{
		progress: domain.UploadProgress{
			ID:       id,
			Title:    title,
			Progress: uploadingProgress,
			Status:   domain.UploadUploading,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	snapshot := t.entries[id].progress
	t.mu.Unlock()
	t.notify(snapshot)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()

		documentID, ok := create(ctx, id)
		if !ok {
			return
		}
		t.update(id, func(p *domain.UploadProgress) {
			p.DocumentID = documentID
			p.Status = domain.UploadProcessing
			p.Progress = processingProgress
		})
		t.poll(ctx, id, documentID)
	}()
	return id
}

func (t *Tracker) poll(ctx context.Context, id, documentID string) {
	if !t.sleep(ctx, t.schedule.InitialDelay) {
		t.cancelled(id)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= t.schedule.MaxPolls; attempt++ {
		doc, err := t.api.GetDocument(ctx, documentID)
		switch {
		case ctx.Err() != nil:
			t.cancelled(id)
			return
		case err != nil:
			lastErr = err
		case doc.Status == domain.StatusProcessed:
			t.finish(id, func(p *domain.UploadProgress) {
				p.Status = domain.UploadCompleted
				p.Progress = completedProgress
				p.Error = ""
			})
			if t.sleep(ctx, t.schedule.EvictAfter) {
				t.evict(id)
			}
			return
		case doc.Status == domain.StatusFailed:
			reason := strings.TrimSpace(doc.Error)
			if reason == "" {
				reason = "unknown error"
			}
			t.finish(id, func(p *domain.UploadProgress) {
				p.Status = domain.UploadFailed
				p.Error = "Document processing failed: " + reason
			})
			return
		default:
			lastErr = nil
		}

		progress := min(processingProgress+attempt*2, maxPollProgress)
		t.update(id, func(p *domain.UploadProgress) {
			p.Progress = progress
		})

		if attempt < t.schedule.MaxPolls && !t.sleep(ctx, t.schedule.PollInterval) {
			t.cancelled(id)
			return
		}
	}

	message := TimeoutMessage
	if lastErr != nil {
		message = fmt.Sprintf("Failed to check processing status: %v", lastErr)
	}
	t.finish(id, func(p *domain.UploadProgress) {
		p.Status = domain.UploadFailed
		p.Progress = timeoutProgress
		p.Error = message
	})
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-t.clock.After(d):
		return true
	}
}

func (t *Tracker) cancelled(id string) {
	t.finish(id, func(p *domain.UploadProgress) {
		p.Status = domain.UploadFailed
		p.Error = "cancelled"
	})
}

func (t *Tracker) update(id string, mutate func(*domain.UploadProgress)) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.progress.Status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	mutate(&e.progress)
	snapshot := e.progress
	t.mu.Unlock()
	t.notify(snapshot)
}

// finish applies the terminal mutation once and releases waiters.
func (t *Tracker) finish(id string, mutate func(*domain.UploadProgress)) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.progress.Status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	mutate(&e.progress)
	snapshot := e.progress
	close(e.done)
	t.mu.Unlock()
	t.notify(snapshot)
}

func (t *Tracker) evict(id string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.progress.Status != domain.UploadCompleted {
		t.mu.Unlock()
		return
	}
	removed := t.removeLocked(id, e)
	t.mu.Unlock()
	t.notify(removed)
}

// removeLocked drops a terminal upload from the registry, remembers its final state for Wait
// and returns the removal event. t.mu must be held.
func (t *Tracker) removeLocked(id string, e *entry) domain.UploadProgress {
	delete(t.entries, id)
	if _, ok := t.recent[id]; !ok {
		t.recentOrder = append(t.recentOrder, id)
	}
	t.recent[id] = e.progress
	for len(t.recentOrder) > recentLimit {
		delete(t.recent, t.recentOrder[0])
		t.recentOrder = t.recentOrder[1:]
	}
	event := e.progress
	event.Removed = true
	return event
}

func (t *Tracker) Get(id string) (domain.UploadProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return domain.UploadProgress{}, false
	}
	return e.progress, true
}

// Snapshot returns all tracked uploads oldest first.
func (t *Tracker) Snapshot() []domain.UploadProgress {
	t.mu.Lock()
	out := make([]domain.UploadProgress, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.progress)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wait blocks until the upload reaches completed or failed and returns its final state. Recently
// evicted or removed uploads still report the state they were removed in.
func (t *Tracker) Wait(ctx context.Context, id string) (domain.UploadProgress, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	final, wasRemoved := t.recent[id]
	t.mu.Unlock()
	if !ok {
		if wasRemoved {
			return final, nil
		}
		return domain.UploadProgress{}, fmt.Errorf("%w: %s", ErrUnknownUpload, id)
	}
	select {
	case <-ctx.Done():
		return domain.UploadProgress{}, ctx.Err()
	case <-e.done:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return e.progress, nil
}

// Cancel stops an in-flight upload; it ends as failed.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// Remove dismisses a failed upload. Uploads in any other state are left alone.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.progress.Status != domain.UploadFailed {
		t.mu.Unlock()
		return false
	}
	removed := t.removeLocked(id, e)
	t.mu.Unlock()
	t.notify(removed)
	return true
}

// ClearCompleted removes every completed upload and returns how many were removed.
func (t *Tracker) ClearCompleted() int {
	t.mu.Lock()
	var removed []domain.UploadProgress
	for id, e := range t.entries {
		if e.progress.Status == domain.UploadCompleted {
			removed = append(removed, t.removeLocked(id, e))
		}
	}
	t.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	for _, p := range removed {
		t.notify(p)
	}
	return len(removed)
}

// Close cancels every in-flight upload and waits for the polling goroutines to exit.
func (t *Tracker) Close() {
	t.stop()
	t.wg.Wait()

	t.mu.Lock()
	subs := make([]*subscriber, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()
	for _, s := range subs {
		s.drain()
	}
}
