package pending

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// MemoryStore keeps one FIFO per receiver in process memory. Its content is
// lost when the process exits.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string]*queue.Queue
	opts   Options
	log    *zap.Logger
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts Options, log *zap.Logger) *MemoryStore {
	opts.norm()
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryStore{
		queues: make(map[string]*queue.Queue),
		opts:   opts,
		log:    log.Named("pending"),
	}
}

// Enqueue appends msg to its receiver's queue.
func (s *MemoryStore) Enqueue(_ context.Context, msg Message) error {
	now := s.opts.Clock()
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[msg.ReceiverID]
	if q == nil {
		q = queue.New()
		s.queues[msg.ReceiverID] = q
	}
	s.pruneLocked(q, now)
	if s.opts.MaxPerReceiver > 0 && q.Length() >= s.opts.MaxPerReceiver {
		return ErrQueueFull
	}
	q.Add(msg)
	return nil
}

// Drain removes and returns every live message for userID in enqueue order.
func (s *MemoryStore) Drain(_ context.Context, userID string) ([]Message, error) {
	now := s.opts.Clock()

	s.mu.Lock()
	q := s.queues[userID]
	delete(s.queues, userID)
	s.mu.Unlock()

	if q == nil {
		return nil, nil
	}
	out := make([]Message, 0, q.Length())
	dropped := 0
	for q.Length() > 0 {
		m := q.Remove().(Message)
		if s.opts.expired(m, now) {
			dropped++
			continue
		}
		out = append(out, m)
	}
	if dropped > 0 {
		s.log.Debug("dropped expired messages on drain", zap.String("user_id", userID), zap.Int("count", dropped))
	}
	return out, nil
}

// Size returns the number of messages waiting for userID, expired ones
// included until the next prune.
func (s *MemoryStore) Size(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.queues[userID]; q != nil {
		return q.Length(), nil
	}
	return 0, nil
}

// Total returns the number of messages held for all receivers.
func (s *MemoryStore) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += q.Length()
	}
	return n
}

// Sweep drops expired messages from every queue and returns how many were
// removed. It does nothing when no TTL is configured.
func (s *MemoryStore) Sweep() int {
	if s.opts.TTL <= 0 {
		return 0
	}
	now := s.opts.Clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for user, q := range s.queues {
		n += s.pruneLocked(q, now)
		if q.Length() == 0 {
			delete(s.queues, user)
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, every time.Duration) {
	if s.opts.TTL <= 0 || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info("swept expired pending messages", zap.Int("count", n))
			}
		}
	}
}

// Messages are appended in time order, so expired ones sit at the front.
func (s *MemoryStore) pruneLocked(q *queue.Queue, now time.Time) int {
	n := 0
	for q.Length() > 0 && s.opts.expired(q.Peek().(Message), now) {
		q.Remove()
		n++
	}
	return n
}
