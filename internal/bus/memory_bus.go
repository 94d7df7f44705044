package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/metrics"
)

// MemoryBus is the in-process pub/sub. Publish blocks on a full subscriber
// until ctx is done.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

const dropLogEvery = 100

var dropCount atomic.Uint64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		case <-ctx.Done():
			reason := publishDropReason(ctx.Err())
			metrics.IncBusDropReason(topic, reason)
			if count := dropCount.Add(1); count%dropLogEvery == 1 {
				logger := log.WithComponent("bus")
				logger.Warn().
					Str("topic", topic).
					Str(log.FieldReason, reason).
					Uint64("dropped", count).
					Msg("memory bus dropped a message")
			}
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, 64)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memSub{b: b, topic: topic, ch: ch}, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
	once  sync.Once
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		// Drain so a publisher blocked on this channel releases its read lock.
		drained := make(chan struct{})
		go func() {
			for {
				select {
				case _, ok := <-s.ch:
					if !ok {
						return
					}
				case <-drained:
					return
				}
			}
		}()
		defer close(drained)

		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s.ch {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		close(s.ch)
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
