// Package queue implements the two-stage pipeline queues: text items waiting
// for synthesis and audio items waiting for playback. Both queues are bounded;
// admission under overflow evicts the lowest-priority, oldest resident rather
// than blocking the producer.
package queue

import (
	"context"
	"os"
	"sync"

	"github.com/ayatane/voicebridge/internal/observability"
)

// TextItem is one chunk of a chat message queued for synthesis.
// Lower Priority means more urgent.
type TextItem struct {
	GroupID  string
	Seq      int
	Total    int
	Text     string
	UserID   string
	Priority int
}

// AudioItem is one synthesized clip queued for playback. Path points at the
// temp file holding the audio bytes; Release removes it.
type AudioItem struct {
	Path     string
	GroupID  string
	Seq      int
	Priority int
	Size     int64
}

// Release removes the backing audio file. Safe to call on an empty item.
func (a AudioItem) Release() {
	if a.Path == "" {
		return
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		logger := observability.ComponentLogger("queue")
		logger.Warn().Err(err).Str("path", a.Path).Msg("Failed to remove audio file")
	}
}

// Verdict reports what happened to an enqueued item.
type Verdict int

const (
	// Accepted means the item was admitted to the queue.
	Accepted Verdict = iota
	// Dropped means the queue was full and the item was the lowest priority
	// present, so it was discarded.
	Dropped
)

type slot[T any] struct {
	item     T
	priority int
	arrival  uint64
}

// bounded is a capacity-limited priority queue. Pop order is lowest priority
// value first, then arrival order; eviction removes the highest priority
// value, oldest first.
type bounded[T any] struct {
	mu       sync.Mutex
	capacity int
	items    []slot[T]
	arrival  uint64
	signal   chan struct{}
}

func newBounded[T any](capacity int) *bounded[T] {
	return &bounded[T]{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

func (b *bounded[T]) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// push admits an item, evicting if necessary. It never blocks. The second
// return value is the evicted item, if admission displaced one.
func (b *bounded[T]) push(item T, priority int) (Verdict, *T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) < b.capacity {
		b.arrival++
		b.items = append(b.items, slot[T]{item: item, priority: priority, arrival: b.arrival})
		b.notify()
		return Accepted, nil
	}

	// Full: find the lowest-priority (highest value), oldest resident.
	victim := 0
	for i := 1; i < len(b.items); i++ {
		if b.items[i].priority > b.items[victim].priority ||
			(b.items[i].priority == b.items[victim].priority && b.items[i].arrival < b.items[victim].arrival) {
			victim = i
		}
	}

	if priority > b.items[victim].priority {
		// The arrival itself is the lowest priority present.
		return Dropped, nil
	}

	evicted := b.items[victim].item
	b.arrival++
	b.items[victim] = slot[T]{item: item, priority: priority, arrival: b.arrival}
	b.notify()
	return Accepted, &evicted
}

// pop removes and returns the most urgent item, if any.
func (b *bounded[T]) pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if len(b.items) == 0 {
		return zero, false
	}

	best := 0
	for i := 1; i < len(b.items); i++ {
		if b.items[i].priority < b.items[best].priority ||
			(b.items[i].priority == b.items[best].priority && b.items[i].arrival < b.items[best].arrival) {
			best = i
		}
	}

	item := b.items[best].item
	b.items = append(b.items[:best], b.items[best+1:]...)
	if len(b.items) > 0 {
		// Wake the next waiter for the remaining items.
		b.notify()
	}
	return item, true
}

// popWait blocks until an item is available or the context is cancelled.
func (b *bounded[T]) popWait(ctx context.Context) (T, error) {
	for {
		if item, ok := b.pop(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-b.signal:
		}
	}
}

func (b *bounded[T]) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// removeIf removes every item the predicate matches and returns them.
func (b *bounded[T]) removeIf(match func(T) bool) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed []T
	kept := b.items[:0]
	for _, s := range b.items {
		if match(s.item) {
			removed = append(removed, s.item)
		} else {
			kept = append(kept, s)
		}
	}
	b.items = kept
	return removed
}

// drain removes and returns everything in the queue.
func (b *bounded[T]) drain() []T {
	return b.removeIf(func(T) bool { return true })
}

// Manager owns the synthesis and audio queues.
type Manager struct {
	text  *bounded[TextItem]
	audio *bounded[AudioItem]
}

// NewManager creates a queue manager with the given per-queue capacity.
func NewManager(capacity int) *Manager {
	return &Manager{
		text:  newBounded[TextItem](capacity),
		audio: newBounded[AudioItem](capacity),
	}
}

// EnqueueText admits a text item without blocking. The returned item, if
// non-nil, was evicted to make room and should be counted as dropped.
func (m *Manager) EnqueueText(item TextItem) (Verdict, *TextItem) {
	verdict, evicted := m.text.push(item, item.Priority)
	observability.SetQueueDepth("synthesis", m.text.size())
	return verdict, evicted
}

// EnqueueAudio admits an audio item without blocking. The returned item, if
// non-nil, was evicted to make room; its backing file is NOT released here so
// the caller can record the drop before releasing.
func (m *Manager) EnqueueAudio(item AudioItem) (Verdict, *AudioItem) {
	verdict, evicted := m.audio.push(item, item.Priority)
	observability.SetQueueDepth("audio", m.audio.size())
	return verdict, evicted
}

// DequeueText blocks until a text item is available or ctx is cancelled.
func (m *Manager) DequeueText(ctx context.Context) (TextItem, error) {
	item, err := m.text.popWait(ctx)
	observability.SetQueueDepth("synthesis", m.text.size())
	return item, err
}

// DequeueAudio blocks until an audio item is available or ctx is cancelled.
func (m *Manager) DequeueAudio(ctx context.Context) (AudioItem, error) {
	item, err := m.audio.popWait(ctx)
	observability.SetQueueDepth("audio", m.audio.size())
	return item, err
}

// SizeText returns the number of items waiting for synthesis.
func (m *Manager) SizeText() int {
	return m.text.size()
}

// SizeAudio returns the number of items waiting for playback.
func (m *Manager) SizeAudio() int {
	return m.audio.size()
}

// ClearGroup removes every item belonging to one message group from both
// queues, releasing audio resources. Returns the number of items removed.
func (m *Manager) ClearGroup(groupID string) int {
	removedText := m.text.removeIf(func(it TextItem) bool { return it.GroupID == groupID })
	removedAudio := m.audio.removeIf(func(it AudioItem) bool { return it.GroupID == groupID })
	for _, it := range removedAudio {
		it.Release()
	}
	observability.SetQueueDepth("synthesis", m.text.size())
	observability.SetQueueDepth("audio", m.audio.size())
	return len(removedText) + len(removedAudio)
}

// DrainAll empties both queues without processing, releasing the backing
// resources of queued audio items. Calling it on empty queues is a no-op.
// Returns the number of items discarded.
func (m *Manager) DrainAll() int {
	text := m.text.drain()
	audio := m.audio.drain()
	for _, it := range audio {
		it.Release()
	}
	observability.SetQueueDepth("synthesis", 0)
	observability.SetQueueDepth("audio", 0)
	return len(text) + len(audio)
}
