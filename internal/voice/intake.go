package voice

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/queue"
)

// MessageEvent is one inbound chat message.
type MessageEvent struct {
	MessageID string
	AuthorID  string
	ChannelID string
	Content   string
	Timestamp time.Time
}

// Gate decides whether a message should be voiced at all. Platform concerns
// like bot authors or foreign channels live behind this hook.
type Gate func(ev MessageEvent) bool

const dedupWindow = 100

// Intake turns chat messages into prioritized synthesis work: it gates,
// deduplicates, chunks and enqueues. All methods are safe for concurrent use.
type Intake struct {
	queues     *queue.Manager
	gate       Gate
	stats      *observability.StatsTracker
	maxMessage int
	maxChunk   int
	logger     zerolog.Logger

	mu     sync.Mutex
	recent []uint64 // hashes of the last dedupWindow accepted messages
}

// NewIntake creates an intake stage. A nil gate admits everything.
func NewIntake(queues *queue.Manager, gate Gate, stats *observability.StatsTracker, maxMessage, maxChunk int) *Intake {
	return &Intake{
		queues:     queues,
		gate:       gate,
		stats:      stats,
		maxMessage: maxMessage,
		maxChunk:   maxChunk,
		logger:     observability.ComponentLogger("intake"),
	}
}

// Submit processes one message and returns the number of chunks enqueued.
// Gated, empty, oversized and duplicate messages enqueue nothing.
func (in *Intake) Submit(ev MessageEvent) int {
	if in.gate != nil && !in.gate(ev) {
		return 0
	}

	content := strings.TrimSpace(ev.Content)
	if content == "" {
		return 0
	}
	if utf8.RuneCountInString(content) > in.maxMessage {
		in.logger.Debug().
			Str("message_id", ev.MessageID).
			Int("length", utf8.RuneCountInString(content)).
			Msg("Message over length limit, skipping")
		in.stats.IncSkipped()
		return 0
	}
	if in.seen(ev.AuthorID, content) {
		in.logger.Debug().Str("message_id", ev.MessageID).Msg("Duplicate message, skipping")
		in.stats.IncSkipped()
		return 0
	}

	chunks := splitChunks(content, in.maxChunk)
	priority := priorityFor(content)
	groupID := uuid.NewString()

	queued := 0
	for i, chunk := range chunks {
		verdict, evicted := in.queues.EnqueueText(queue.TextItem{
			GroupID:  groupID,
			Seq:      i,
			Total:    len(chunks),
			Text:     chunk,
			UserID:   ev.AuthorID,
			Priority: priority,
		})
		if evicted != nil {
			in.stats.IncDropped()
			observability.RecordDrop("overflow")
		}
		if verdict == queue.Dropped {
			in.stats.IncDropped()
			observability.RecordDrop("overflow")
			continue
		}
		observability.RecordEnqueue(strconv.Itoa(priority))
		queued++
	}

	in.logger.Debug().
		Str("group_id", groupID).
		Str("author_id", ev.AuthorID).
		Int("chunks", queued).
		Int("priority", priority).
		Msg("Message queued for synthesis")
	return queued
}

// seen records the message hash and reports whether it was already present in
// the recent window.
func (in *Intake) seen(authorID, content string) bool {
	h := fnv.New64a()
	h.Write([]byte(authorID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	sum := h.Sum64()

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, prev := range in.recent {
		if prev == sum {
			return true
		}
	}
	in.recent = append(in.recent, sum)
	if len(in.recent) > dedupWindow {
		in.recent = in.recent[len(in.recent)-dedupWindow:]
	}
	return false
}

// priorityFor scores a message. Lower is more urgent: short messages and
// commands jump the queue, long ones yield.
func priorityFor(content string) int {
	p := 5
	length := utf8.RuneCountInString(content)
	if length < 50 {
		p--
	}
	if strings.HasPrefix(content, "!") {
		p -= 2
	}
	if length > 200 {
		p += 2
	}
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

// splitChunks breaks text into pieces of at most maxRunes runes, preferring
// whitespace boundaries. A single word longer than the limit is split hard.
func splitChunks(text string, maxRunes int) []string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		wordLen := utf8.RuneCountInString(word)

		if wordLen > maxRunes {
			flush()
			runes := []rune(word)
			for len(runes) > maxRunes {
				chunks = append(chunks, string(runes[:maxRunes]))
				runes = runes[maxRunes:]
			}
			if len(runes) > 0 {
				current.WriteString(string(runes))
				currentLen = len(runes)
			}
			continue
		}

		// +1 for the separating space.
		if currentLen > 0 && currentLen+1+wordLen > maxRunes {
			flush()
		}
		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		current.WriteString(word)
		currentLen += wordLen
	}
	flush()
	return chunks
}
