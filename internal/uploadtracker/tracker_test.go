package uploadtracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []clockWaiter
	added   chan struct{}
}

type clockWaiter struct {
	until time.Time
	ch    chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0), added: make(chan struct{}, 256)}
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, clockWaiter{until: c.now.Add(d), ch: ch})
	c.mu.Unlock()
	c.added <- struct{}{}
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.until.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

// awaitTimer blocks until the tracker has armed its next timer.
func (c *fakeClock) awaitTimer(t *testing.T) {
	t.Helper()
	select {
	case <-c.added:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not arm a timer")
	}
}

type fakeAPI struct {
	mu        sync.Mutex
	createErr error
	polls     int
	respond   func(poll int) (*domain.Document, error)
}

func (f *fakeAPI) CreateDocument(_ context.Context, req ports.CreateDocumentRequest) (*domain.Document, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.Document{ID: "doc-1", Title: req.Title, Status: domain.StatusProcessing}, nil
}

func (f *fakeAPI) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	f.polls++
	poll := f.polls
	f.mu.Unlock()
	return f.respond(poll)
}

func (f *fakeAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func stillProcessing(int) (*domain.Document, error) {
	return &domain.Document{ID: "doc-1", Status: domain.StatusProcessing}, nil
}

func newTestTracker(api DocumentAPI, clock *fakeClock, schedule Schedule) *Tracker {
	return New(api, WithClock(clock), WithSchedule(schedule))
}

func waitFinal(t *testing.T, tracker *Tracker, id string) domain.UploadProgress {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := tracker.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return final
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTrackerTimesOutWhenDocumentNeverCompletes(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: stillProcessing}
	tracker := newTestTracker(api, clock, DefaultSchedule())
	defer tracker.Close()

	id := tracker.Start("Field trip slip", ports.CreateDocumentRequest{PageURLs: []string{"https://cdn/1.jpg"}})

	clock.awaitTimer(t)
	if got, _ := tracker.Get(id); got.Status != domain.UploadProcessing || got.Progress != 60 || got.DocumentID != "doc-1" {
		t.Fatalf("unexpected state before polling: %+v", got)
	}
	clock.Advance(2 * time.Second)

	for poll := 1; poll < 30; poll++ {
		clock.awaitTimer(t)
		want := min(60+poll*2, 95)
		if got, _ := tracker.Get(id); got.Progress != want {
			t.Fatalf("poll %d: expected progress %d, got %d", poll, want, got.Progress)
		}
		clock.Advance(5 * time.Second)
	}

	final := waitFinal(t, tracker, id)
	if final.Status != domain.UploadFailed || final.Progress != 90 {
		t.Fatalf("unexpected final state %+v", final)
	}
	if !strings.Contains(strings.ToLower(final.Error), "timeout") {
		t.Fatalf("expected timeout error, got %q", final.Error)
	}
	if api.pollCount() != 30 {
		t.Fatalf("expected exactly 30 polls, got %d", api.pollCount())
	}
}

func TestTrackerCompletesAndEvicts(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(poll int) (*domain.Document, error) {
		if poll < 3 {
			return stillProcessing(poll)
		}
		return &domain.Document{ID: "doc-1", Status: domain.StatusProcessed}, nil
	}}
	tracker := newTestTracker(api, clock, DefaultSchedule())
	defer tracker.Close()

	id := tracker.Start("Homework", ports.CreateDocumentRequest{PageURLs: []string{"https://cdn/1.jpg"}})
	clock.awaitTimer(t)
	clock.Advance(2 * time.Second)
	clock.awaitTimer(t)
	clock.Advance(5 * time.Second)
	clock.awaitTimer(t)
	clock.Advance(5 * time.Second)

	final := waitFinal(t, tracker, id)
	if final.Status != domain.UploadCompleted || final.Progress != 100 || final.Error != "" {
		t.Fatalf("unexpected final state %+v", final)
	}
	if _, ok := tracker.Get(id); !ok {
		t.Fatal("completed upload evicted before grace period")
	}

	clock.awaitTimer(t)
	clock.Advance(5 * time.Second)
	eventually(t, func() bool {
		_, ok := tracker.Get(id)
		return !ok
	})
}

func TestTrackerReportsBackendFailure(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(int) (*domain.Document, error) {
		return &domain.Document{ID: "doc-1", Status: domain.StatusFailed, Error: "extract text: ocr failed"}, nil
	}}
	tracker := newTestTracker(api, clock, DefaultSchedule())
	defer tracker.Close()

	id := tracker.Start("Flyer", ports.CreateDocumentRequest{})
	clock.awaitTimer(t)
	clock.Advance(2 * time.Second)

	final := waitFinal(t, tracker, id)
	if final.Status != domain.UploadFailed || !strings.Contains(final.Error, "ocr failed") {
		t.Fatalf("unexpected final state %+v", final)
	}
	if strings.Contains(strings.ToLower(final.Error), "timeout") {
		t.Fatalf("backend failure must not read as timeout: %q", final.Error)
	}
	if api.pollCount() != 1 {
		t.Fatalf("expected polling to stop after failure, got %d polls", api.pollCount())
	}
	if !tracker.Remove(id) {
		t.Fatal("expected failed upload to be removable")
	}
	if _, ok := tracker.Get(id); ok {
		t.Fatal("expected removed upload to be gone")
	}
}

func TestTrackerRetriesTransientFetchErrors(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(poll int) (*domain.Document, error) {
		if poll <= 2 {
			return nil, errors.New("connection reset")
		}
		return &domain.Document{ID: "doc-1", Status: domain.StatusProcessed}, nil
	}}
	tracker := newTestTracker(api, clock, DefaultSchedule())
	defer tracker.Close()

	id := tracker.Start("Report", ports.CreateDocumentRequest{})
	clock.awaitTimer(t)
	clock.Advance(2 * time.Second)
	clock.awaitTimer(t)
	clock.Advance(5 * time.Second)
	clock.awaitTimer(t)
	clock.Advance(5 * time.Second)

	if final := waitFinal(t, tracker, id); final.Status != domain.UploadCompleted {
		t.Fatalf("expected completion after transient errors, got %+v", final)
	}
}

func TestTrackerReportsPersistentFetchErrors(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(int) (*domain.Document, error) {
		return nil, errors.New("503 service unavailable")
	}}
	tracker := newTestTracker(api, clock, Schedule{InitialDelay: time.Second, PollInterval: time.Second, MaxPolls: 3})
	defer tracker.Close()

	id := tracker.Start("Slip", ports.CreateDocumentRequest{})
	for i := 0; i < 3; i++ {
		clock.awaitTimer(t)
		clock.Advance(time.Second)
	}

	final := waitFinal(t, tracker, id)
	if final.Status != domain.UploadFailed || final.Progress != 90 {
		t.Fatalf("unexpected final state %+v", final)
	}
	if !strings.HasPrefix(final.Error, "Failed to check processing status") || !strings.Contains(final.Error, "503") {
		t.Fatalf("unexpected error %q", final.Error)
	}
	if api.pollCount() != 3 {
		t.Fatalf("expected 3 polls, got %d", api.pollCount())
	}
}

func TestTrackerCreateFailure(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("413 payload too large")}
	tracker := newTestTracker(api, newFakeClock(), DefaultSchedule())
	defer tracker.Close()

	id := tracker.Start("Huge scan", ports.CreateDocumentRequest{})
	final := waitFinal(t, tracker, id)
	if final.Status != domain.UploadFailed || !strings.Contains(final.Error, "payload too large") {
		t.Fatalf("unexpected final state %+v", final)
	}
	if api.pollCount() != 0 {
		t.Fatalf("expected no polls, got %d", api.pollCount())
	}
}

func TestTrackerCancel(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(&fakeAPI{respond: stillProcessing}, clock, DefaultSchedule())
	defer tracker.Close()

	id := tracker.Start("Slip", ports.CreateDocumentRequest{})
	clock.awaitTimer(t)
	if !tracker.Cancel(id) {
		t.Fatal("expected cancel to find the upload")
	}
	final := waitFinal(t, tracker, id)
	if final.Status != domain.UploadFailed || final.Error != "cancelled" {
		t.Fatalf("unexpected final state %+v", final)
	}
}

func TestClearCompletedKeepsOtherStates(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(int) (*domain.Document, error) {
		return &domain.Document{ID: "doc-1", Status: domain.StatusProcessed}, nil
	}}
	tracker := newTestTracker(api, clock, DefaultSchedule())
	defer tracker.Close()

	done := tracker.Track("Done", "doc-1")
	clock.awaitTimer(t)
	clock.Advance(2 * time.Second)
	waitFinal(t, tracker, done)

	if tracker.Remove(done) {
		t.Fatal("completed upload must not be removable with Remove")
	}
	if n := tracker.ClearCompleted(); n != 1 {
		t.Fatalf("expected one cleared upload, got %d", n)
	}
	if _, ok := tracker.Get(done); ok {
		t.Fatal("expected completed upload to be cleared")
	}
}

func TestSubscribeReceivesLatestStateAndUnsubscribes(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(int) (*domain.Document, error) {
		return &domain.Document{ID: "doc-1", Status: domain.StatusProcessed}, nil
	}}
	tracker := newTestTracker(api, clock, DefaultSchedule())
	defer tracker.Close()

	var (
		mu   sync.Mutex
		seen []domain.UploadProgress
	)
	unsubscribe := tracker.Subscribe(func(p domain.UploadProgress) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	id := tracker.Track("Flyer", "doc-1")
	clock.awaitTimer(t)
	clock.Advance(2 * time.Second)
	waitFinal(t, tracker, id)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1].Status == domain.UploadCompleted
	})

	unsubscribe()
	unsubscribe()
	mu.Lock()
	count := len(seen)
	mu.Unlock()

	tracker.Track("Other", "doc-1")
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != count {
		t.Fatalf("listener called after unsubscribe: %d -> %d", count, len(seen))
	}
}

func TestWaitUnknownUpload(t *testing.T) {
	tracker := New(&fakeAPI{})
	defer tracker.Close()
	if _, err := tracker.Wait(context.Background(), "missing"); !errors.Is(err, ErrUnknownUpload) {
		t.Fatalf("expected ErrUnknownUpload, got %v", err)
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.UploadProgress
}

func (r *eventRecorder) record(p domain.UploadProgress) {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
}

func (r *eventRecorder) removed() []domain.UploadProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.UploadProgress
	for _, p := range r.events {
		if p.Removed {
			out = append(out, p)
		}
	}
	return out
}

func TestUnsubscribeFromInsideListenerReturns(t *testing.T) {
	tracker := New(&fakeAPI{respond: stillProcessing}, WithClock(newFakeClock()))
	defer tracker.Close()

	returned := make(chan struct{})
	var (
		once        sync.Once
		unsubscribe func()
	)
	unsubscribe = tracker.Subscribe(func(domain.UploadProgress) {
		once.Do(func() {
			unsubscribe()
			close(returned)
		})
	})

	tracker.Track("Notice", "doc-1")

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe called from the listener did not return")
	}
}

func TestEvictionNotifiesSubscribers(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(int) (*domain.Document, error) {
		return &domain.Document{ID: "doc-1", Status: domain.StatusProcessed}, nil
	}}
	tracker := newTestTracker(api, clock, DefaultSchedule())
	defer tracker.Close()

	rec := &eventRecorder{}
	defer tracker.Subscribe(rec.record)()

	id := tracker.Track("Menu", "doc-1")
	clock.awaitTimer(t)
	clock.Advance(2 * time.Second)
	waitFinal(t, tracker, id)
	clock.awaitTimer(t)
	clock.Advance(5 * time.Second)

	eventually(t, func() bool { return len(rec.removed()) == 1 })
	got := rec.removed()[0]
	if got.ID != id || got.Status != domain.UploadCompleted || got.DocumentID != "doc-1" {
		t.Fatalf("unexpected removal event %+v", got)
	}
}

func TestRemoveNotifiesSubscribers(t *testing.T) {
	tracker := newTestTracker(&fakeAPI{createErr: errors.New("boom")}, newFakeClock(), DefaultSchedule())
	defer tracker.Close()

	rec := &eventRecorder{}
	defer tracker.Subscribe(rec.record)()

	id := tracker.Start("Broken", ports.CreateDocumentRequest{})
	waitFinal(t, tracker, id)
	if !tracker.Remove(id) {
		t.Fatal("expected failed upload to be removable")
	}

	eventually(t, func() bool { return len(rec.removed()) == 1 })
	got := rec.removed()[0]
	if got.ID != id || got.Status != domain.UploadFailed {
		t.Fatalf("unexpected removal event %+v", got)
	}
	if _, ok := tracker.Get(id); ok {
		t.Fatal("removed upload still tracked")
	}
}

func TestClearCompletedNotifiesSubscribers(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(int) (*domain.Document, error) {
		return &domain.Document{ID: "doc-1", Status: domain.StatusProcessed}, nil
	}}
	tracker := newTestTracker(api, clock, Schedule{InitialDelay: 0, EvictAfter: time.Hour})
	defer tracker.Close()

	rec := &eventRecorder{}
	defer tracker.Subscribe(rec.record)()

	first := tracker.Track("One", "doc-1")
	second := tracker.Track("Two", "doc-1")
	waitFinal(t, tracker, first)
	waitFinal(t, tracker, second)

	if n := tracker.ClearCompleted(); n != 2 {
		t.Fatalf("expected two cleared uploads, got %d", n)
	}
	eventually(t, func() bool { return len(rec.removed()) == 2 })
	for _, p := range rec.removed() {
		if p.Status != domain.UploadCompleted {
			t.Fatalf("unexpected removal event %+v", p)
		}
	}
}

func TestWaitReportsEvictedUpload(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{respond: func(int) (*domain.Document, error) {
		return &domain.Document{ID: "doc-1", Status: domain.StatusProcessed}, nil
	}}
	tracker := newTestTracker(api, clock, DefaultSchedule())
	defer tracker.Close()

	id := tracker.Track("Permission slip", "doc-1")
	clock.awaitTimer(t)
	clock.Advance(2 * time.Second)
	waitFinal(t, tracker, id)
	clock.awaitTimer(t)
	clock.Advance(5 * time.Second)
	eventually(t, func() bool {
		_, ok := tracker.Get(id)
		return !ok
	})

	final := waitFinal(t, tracker, id)
	if final.Status != domain.UploadCompleted || final.DocumentID != "doc-1" || final.Removed {
		t.Fatalf("unexpected final state after eviction %+v", final)
	}
}

// blockingCreateAPI holds CreateDocument until the request context ends.
type blockingCreateAPI struct {
	fakeAPI
	entered chan struct{}
}

func (f *blockingCreateAPI) CreateDocument(ctx context.Context, _ ports.CreateDocumentRequest) (*domain.Document, error) {
	close(f.entered)
	<-ctx.Done()
	return nil, fmt.Errorf("post /v1/documents: %w", ctx.Err())
}

func TestTrackerCancelWhileUploading(t *testing.T) {
	api := &blockingCreateAPI{entered: make(chan struct{})}
	tracker := newTestTracker(api, newFakeClock(), DefaultSchedule())
	defer tracker.Close()

	id := tracker.Start("Large scan", ports.CreateDocumentRequest{})
	<-api.entered
	if !tracker.Cancel(id) {
		t.Fatal("expected cancel to find the upload")
	}

	final := waitFinal(t, tracker, id)
	if final.Status != domain.UploadFailed || final.Error != "cancelled" {
		t.Fatalf("unexpected final state %+v", final)
	}
}
