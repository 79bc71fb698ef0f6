// Package memory provides in-process stand-ins for the Redis-backed event
// bus, used when Redis is disabled and in tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

const defaultStreamMaxLen = 10000

// Bus implements domain.SignalBus inside one process. Slow subscribers drop
// messages rather than block publishers.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[chan []byte]struct{}
	stream map[string][]domain.StreamMessage
	seq    uint64
	maxLen int
}

// NewBus creates a Bus keeping at most maxLen entries per stream.
func NewBus(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &Bus{
		subs:   make(map[string]map[chan []byte]struct{}),
		stream: make(map[string][]domain.StreamMessage),
		maxLen: maxLen,
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe delivers messages published to channel until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// StreamAppend assigns ids of the form "<seq>-0" so they order like Redis
// stream ids.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.stream[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.stream[stream] = msgs
	return nil
}

func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.StreamMessage
	for _, m := range b.stream[stream] {
		seq, _ := streamSeq(m.ID)
		if seq <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) (uint64, error) {
	head, _, _ := strings.Cut(id, "-")
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory: bad stream id %q", id)
	}
	return seq, nil
}

var _ domain.SignalBus = (*Bus)(nil)
