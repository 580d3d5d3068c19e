package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/physio-voice-booking/internal/appointments"
	"github.com/wolfman30/physio-voice-booking/internal/bookingflow"
	"github.com/wolfman30/physio-voice-booking/internal/consultation"
	"github.com/wolfman30/physio-voice-booking/internal/observability/metrics"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

// UpcomingFetcher lists a patient's upcoming appointments.
type UpcomingFetcher interface {
	Upcoming(ctx context.Context, mobile string) ([]appointments.Appointment, error)
}

// Store persists session views and their event log beyond the in-memory
// registry.
type Store interface {
	Load(ctx context.Context, id string) (*View, error)
	Events(ctx context.Context, id string, limit int64) ([]StoredEvent, error)
	Delete(ctx context.Context, id string) error
}

// Config holds session timing and booking-flow settings.
type Config struct {
	RefreshDelay time.Duration
	CueTimeout   time.Duration
	Cues         bookingflow.CueTable
}

// Options wires collaborators. Every field is optional.
type Options struct {
	Interpreter *consultation.Interpreter
	Events      *consultation.EventLogger
	Fetcher     UpcomingFetcher
	Store       Store
	Bus         *Bus
	Metrics     *metrics.SessionMetrics
	Logger      *logging.Logger

	// Now, Go and AfterFunc replace the clock, goroutine launch and timer
	// in tests.
	Now       func() time.Time
	Go        func(func())
	AfterFunc func(time.Duration, func()) Timer
}

// Manager is the registry of live sessions.
type Manager struct {
	cfg         Config
	interpreter *consultation.Interpreter
	events      *consultation.EventLogger
	fetcher     UpcomingFetcher
	store       Store
	bus         *Bus
	metrics     *metrics.SessionMetrics
	logger      *logging.Logger
	now         func() time.Time
	goAsync     func(func())
	afterFunc   func(time.Duration, func()) Timer

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager.
func NewManager(cfg Config, opts Options) *Manager {
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = 2 * time.Second
	}
	if len(cfg.Cues.Cues) == 0 {
		cfg.Cues = bookingflow.DefaultCues()
	}
	m := &Manager{
		cfg:         cfg,
		interpreter: opts.Interpreter,
		events:      opts.Events,
		fetcher:     opts.Fetcher,
		store:       opts.Store,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
		goAsync:     opts.Go,
		afterFunc:   opts.AfterFunc,
		sessions:    make(map[string]*Session),
	}
	if m.logger == nil {
		m.logger = logging.Default()
	}
	if m.interpreter == nil {
		m.interpreter = consultation.NewInterpreter(m.events, nil)
	}
	if m.fetcher == nil {
		m.fetcher = noUpcoming{}
	}
	if m.bus == nil {
		m.bus = NewBus(m.logger, m.metrics)
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.goAsync == nil {
		m.goAsync = func(fn func()) { go fn() }
	}
	if m.afterFunc == nil {
		m.afterFunc = func(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }
	}
	return m
}

// Bus returns the event bus sessions publish on.
func (m *Manager) Bus() *Bus { return m.bus }

// Create opens a session for a submitted mobile number and starts fetching
// the patient's upcoming appointments.
func (m *Manager) Create(ctx context.Context, mobile string) (*Session, error) {
	flow := bookingflow.NewController(m.cfg.Cues, m.cfg.CueTimeout, bookingflow.WithClock(m.now))
	if _, err := flow.SubmitMobile(mobile); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	now := m.now()
	s := &Session{
		m:          m,
		id:         uuid.NewString(),
		mobile:     mobile,
		status:     StatusNotStarted,
		state:      consultation.NewState(),
		flow:       flow,
		upcoming:   []appointments.Appointment{},
		lastUpdate: now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.mu.Lock()
	s.publishLocked(EventSessionCreated, nil)
	s.armStallLocked()
	s.mu.Unlock()

	m.logger.Info("session: created", "session_id", s.id)
	m.goAsync(func() { s.refreshUpcoming(context.WithoutCancel(ctx), 0, RefreshMobileSubmitted) })
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// View returns the view of a live session, falling back to the persisted
// snapshot.
func (m *Manager) View(ctx context.Context, id string) (View, error) {
	if s, err := m.Get(id); err == nil {
		return s.View(), nil
	}
	if m.store == nil {
		return View{}, ErrSessionNotFound
	}
	v, err := m.store.Load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return *v, nil
}

// Remove forgets a session, cancels its pending refresh and deletes its
// persisted snapshot. Sessions known only to the store can be removed too.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.mu.Lock()
		if s.refresh != nil {
			s.refresh.Stop()
			s.refresh = nil
		}
		if s.stall != nil {
			s.stall.Stop()
			s.stall = nil
		}
		s.publishLocked(EventSessionRemoved, nil)
		s.mu.Unlock()
	}

	if m.store == nil {
		if !ok {
			return ErrSessionNotFound
		}
		return nil
	}
	if !ok {
		if _, err := m.store.Load(ctx, id); err != nil {
			return err
		}
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: remove: %w", err)
	}
	m.logger.Info("session: removed", "session_id", id)
	return nil
}

// EventLog returns up to limit persisted events of a session, oldest first.
// Without a store a live session has an empty log.
func (m *Manager) EventLog(ctx context.Context, id string, limit int64) ([]StoredEvent, error) {
	_, liveErr := m.Get(id)
	if m.store == nil {
		if liveErr != nil {
			return nil, liveErr
		}
		return []StoredEvent{}, nil
	}
	events, err := m.store.Events(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		if liveErr != nil {
			return nil, liveErr
		}
		return []StoredEvent{}, nil
	}
	return events, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

type noUpcoming struct{}

func (noUpcoming) Upcoming(context.Context, string) ([]appointments.Appointment, error) {
	return []appointments.Appointment{}, nil
}
