package core

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// AuditStreamKey is the Redis stream holding user activity events.
const AuditStreamKey = "audit:events"

// AuditEvent is one structured activity record.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	UserID    *int64         `json:"user_id,omitempty"`
	UserEmail string         `json:"user_email,omitempty"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditSink receives activity events. Emit must never block the caller.
type AuditSink interface {
	Emit(event AuditEvent)
}

// NopAuditSink discards everything.
type NopAuditSink struct{}

func (NopAuditSink) Emit(AuditEvent) {}

// RedisAuditSink writes events to a Redis stream from a background
// goroutine behind a bounded buffer; events are dropped (and counted) when
// the buffer is full, never queued against the caller.
type RedisAuditSink struct {
	client  RedisClientRaw
	stream  string
	ch      chan AuditEvent
	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

func NewRedisAuditSink(client RedisClientRaw, stream string) *RedisAuditSink {
	if stream == "" {
		stream = AuditStreamKey
	}
	s := &RedisAuditSink{
		client: client,
		stream: stream,
		ch:     make(chan AuditEvent, 256),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

// Emit queues the event; a full buffer drops it.
func (s *RedisAuditSink) Emit(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (s *RedisAuditSink) Dropped() int64 { return s.dropped.Load() }

// Close stops the background writer after flushing buffered events.
func (s *RedisAuditSink) Close() {
	s.once.Do(func() { close(s.ch) })
	<-s.done
}

func (s *RedisAuditSink) drain() {
	defer close(s.done)
	for event := range s.ch {
		details, err := json.Marshal(event.Details)
		if err != nil {
			details = []byte("{}")
		}
		values := map[string]interface{}{
			"timestamp":  event.Timestamp.UTC().Format(time.RFC3339Nano),
			"event_type": event.EventType,
			"details":    string(details),
		}
		if event.UserID != nil {
			values["user_id"] = *event.UserID
		}
		if event.UserEmail != "" {
			values["user_email"] = event.UserEmail
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: 100000,
			Approx: true,
			Values: values,
		}).Err()
		cancel()
		if err != nil {
			// Best effort only; the judging path must not care.
			log.Printf("audit: xadd failed: %v", err)
		}
	}
}
