package application

import (
	"sync"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

const DefaultQueueCapacity = 5

type queueEntry struct {
	text   string
	images []domain.Image
}

// scheduler keeps at most one prompt in flight per chat. Work arriving for a
// busy chat waits in a bounded FIFO queue.
type scheduler struct {
	mu       sync.Mutex
	capacity int
	busy     map[domain.ChatKey]bool
	queues   map[domain.ChatKey][]queueEntry
}

func newScheduler(capacity int) *scheduler {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &scheduler{
		capacity: capacity,
		busy:     make(map[domain.ChatKey]bool),
		queues:   make(map[domain.ChatKey][]queueEntry),
	}
}

// submit marks an idle chat busy and reports started, or queues the entry
// and returns its 1-based position. A full queue yields ErrQueueFull.
func (s *scheduler) submit(key domain.ChatKey, entry queueEntry) (started bool, position int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.busy[key] {
		s.busy[key] = true
		return true, 0, nil
	}

	queue := s.queues[key]
	if len(queue) >= s.capacity {
		return false, 0, domain.ErrQueueFull
	}
	s.queues[key] = append(queue, entry)
	return false, len(queue) + 1, nil
}

// next pops the oldest queued entry. When nothing is queued the chat is
// released in the same critical section, so a concurrent submit either lands
// in the queue before this check or starts a new busy cycle after it.
func (s *scheduler) next(key domain.ChatKey) (queueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.queues[key]
	if len(queue) == 0 {
		delete(s.queues, key)
		delete(s.busy, key)
		return queueEntry{}, false
	}

	entry := queue[0]
	if len(queue) == 1 {
		delete(s.queues, key)
	} else {
		s.queues[key] = queue[1:]
	}
	return entry, true
}

// clear drops every queued entry for a chat and returns how many were dropped.
// The in-flight prompt is untouched.
func (s *scheduler) clear(key domain.ChatKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.queues[key])
	delete(s.queues, key)
	return dropped
}

func (s *scheduler) queued(key domain.ChatKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[key])
}

func (s *scheduler) isBusy(key domain.ChatKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[key]
}
