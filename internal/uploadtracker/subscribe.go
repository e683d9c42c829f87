package uploadtracker

import (
	"sync"
	"sync/atomic"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

// subscriber keeps only the latest pending state per upload, so a slow listener never blocks
// the polling loops; it may skip intermediate progress values.
type subscriber struct {
	fn func(domain.UploadProgress)

	mu      sync.Mutex
	pending map[string]domain.UploadProgress
	order   []string

	signal    chan struct{}
	quit      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	stopped   atomic.Bool
}

// Subscribe registers fn for every upload mutation and returns the unsubscribe function.
// fn runs on a dedicated goroutine per subscriber. Unsubscribe may be called from inside fn;
// it does not wait for a call already in progress, but fn is not invoked again once it returns.
func (t *Tracker) Subscribe(fn func(domain.UploadProgress)) func() {
	s := &subscriber{
		fn:      fn,
		pending: make(map[string]domain.UploadProgress),
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	go s.run()

	return func() {
		t.mu.Lock()
		delete(t.subs, s)
		t.mu.Unlock()
		s.stop()
	}
}

func (t *Tracker) notify(p domain.UploadProgress) {
	t.mu.Lock()
	subs := make([]*subscriber, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.push(p)
	}
}

func (s *subscriber) push(p domain.UploadProgress) {
	s.mu.Lock()
	if _, ok := s.pending[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.pending[p.ID] = p
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// run delivers pending states until quit. A drained subscriber still receives the states
// pushed before quit; a stopped one drops them.
func (s *subscriber) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.quit:
			if !s.stopped.Load() {
				s.flush()
			}
			return
		case <-s.signal:
			s.flush()
		}
	}
}

func (s *subscriber) flush() {
	s.mu.Lock()
	batch := make([]domain.UploadProgress, 0, len(s.order))
	for _, id := range s.order {
		batch = append(batch, s.pending[id])
	}
	s.pending = make(map[string]domain.UploadProgress)
	s.order = nil
	s.mu.Unlock()

	for _, p := range batch {
		if s.stopped.Load() {
			return
		}
		s.fn(p)
	}
}

func (s *subscriber) stop() {
	s.stopped.Store(true)
	s.closeOnce.Do(func() { close(s.quit) })
}

func (s *subscriber) drain() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.exited
}
