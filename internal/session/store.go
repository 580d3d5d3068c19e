package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	viewKeyPrefix   = "physio:session:"
	eventsKeySuffix = ":events"
	defaultTTL      = 24 * time.Hour
)

// StoredEvent is an event as kept in the Redis event log. The payload is
// left undecoded.
type StoredEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId"`
	Epoch     uint64          `json:"epoch"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RedisStore persists the latest view of each session plus a bounded event
// log, so views survive a restart and other replicas can serve reads.
type RedisStore struct {
	redis     *redis.Client
	tracer    trace.Tracer
	ttl       time.Duration
	maxEvents int64
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		redis:     client,
		tracer:    otel.Tracer("physio.internal.session.store"),
		ttl:       ttl,
		maxEvents: 500,
	}
}

// Handle is the bus consumer: it saves the event's view and appends the
// event to the session's log. A removal event deletes both.
func (s *RedisStore) Handle(ctx context.Context, evt Event) error {
	if s == nil {
		return nil
	}
	if evt.Type == EventSessionRemoved {
		return s.Delete(ctx, evt.SessionID)
	}
	if evt.View != nil {
		if err := s.Save(ctx, *evt.View); err != nil {
			return err
		}
	}
	return s.AppendEvent(ctx, evt)
}

func (s *RedisStore) Save(ctx context.Context, v View) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if v.ID == "" {
		return errors.New("session: view id required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal view: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "session.store.save")
	defer span.End()

	if err := s.redis.Set(ctx, viewKey(v.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: save view: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*View, error) {
	if s == nil || s.redis == nil {
		return nil, ErrSessionNotFound
	}
	ctx, span := s.tracer.Start(ctx, "session.store.load")
	defer span.End()

	raw, err := s.redis.Get(ctx, viewKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: load view: %w", err)
	}
	var v View
	if err := json.Unmarshal(raw, &v); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: decode view: %w", err)
	}
	return &v, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, evt Event) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if evt.SessionID == "" {
		return errors.New("session: event session id required")
	}
	// The view is already stored under its own key.
	evt.View = nil
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("session: marshal event: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "session.store.append_event")
	defer span.End()

	key := eventsKey(evt.SessionID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if s.maxEvents > 0 {
		pipe.LTrim(ctx, key, -s.maxEvents, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: append event: %w", err)
	}
	return nil
}

// Events returns up to limit most recent events, oldest first. A limit of
// zero returns the whole log.
func (s *RedisStore) Events(ctx context.Context, id string, limit int64) ([]StoredEvent, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "session.store.events")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raw, err := s.redis.LRange(ctx, eventsKey(id), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: list events: %w", err)
	}
	out := make([]StoredEvent, 0, len(raw))
	for _, item := range raw {
		var evt StoredEvent
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// Delete drops the view and event log of a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.redis == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "session.store.delete")
	defer span.End()

	if err := s.redis.Del(ctx, viewKey(id), eventsKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func viewKey(id string) string   { return viewKeyPrefix + id }
func eventsKey(id string) string { return viewKeyPrefix + id + eventsKeySuffix }
