// Package broadcast pushes classroom changes to live monitors.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/classroom-exam/internal/config"
)

// Event types.
const (
	EventClassroomCreated = "classroom.created"
	EventStudentJoined    = "student.joined"
	EventAnswerSubmitted  = "answer.submitted"
	EventClassroomEnded   = "classroom.ended"
)

// Event is a compact notification about one classroom change. Monitors
// re-read progress for anything beyond these fields.
type Event struct {
	Type        string `json:"type"`
	ClassroomID string `json:"classroom_id"`
	StudentID   string `json:"student_id,omitempty"`
	StudentName string `json:"student_name,omitempty"`
	QuestionID  string `json:"question_id,omitempty"`
	At          int64  `json:"at"`
}

// Subscription delivers raw JSON events until closed.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// Broker publishes and subscribes to per-classroom events.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, classroomID string) (Subscription, error)
}

// RedisBroker uses Redis Pub/Sub on classroom:{id}:monitor.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.rdb.Publish(ctx, config.CacheKey.ClassroomMonitorChannel(ev.ClassroomID), raw).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, classroomID string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, config.CacheKey.ClassroomMonitorChannel(classroomID))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
			}
		}
	}()
	return &redisSubscription{pubsub: pubsub, ch: out}, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan []byte
}

func (s *redisSubscription) C() <-chan []byte { return s.ch }
func (s *redisSubscription) Close() error     { return s.pubsub.Close() }

// MemoryBroker fans events out in process. Slow subscribers drop events.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[*memorySubscription]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[ev.ClassroomID] {
		select {
		case s.ch <- raw:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, classroomID string) (Subscription, error) {
	s := &memorySubscription{broker: b, classroomID: classroomID, ch: make(chan []byte, 64)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[classroomID] == nil {
		b.subs[classroomID] = make(map[*memorySubscription]struct{})
	}
	b.subs[classroomID][s] = struct{}{}
	return s, nil
}

type memorySubscription struct {
	broker      *MemoryBroker
	classroomID string
	ch          chan []byte
	once        sync.Once
}

func (s *memorySubscription) C() <-chan []byte { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs[s.classroomID], s)
		if len(s.broker.subs[s.classroomID]) == 0 {
			delete(s.broker.subs, s.classroomID)
		}
		s.broker.mu.Unlock()
		close(s.ch)
	})
	return nil
}
