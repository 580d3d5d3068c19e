package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/physio-voice-booking/internal/appointments"
	"github.com/wolfman30/physio-voice-booking/internal/archive"
	"github.com/wolfman30/physio-voice-booking/internal/bookingflow"
	"github.com/wolfman30/physio-voice-booking/internal/bookings"
	appconfig "github.com/wolfman30/physio-voice-booking/internal/config"
	"github.com/wolfman30/physio-voice-booking/internal/consultation"
	"github.com/wolfman30/physio-voice-booking/internal/events"
	"github.com/wolfman30/physio-voice-booking/internal/observability/metrics"
	"github.com/wolfman30/physio-voice-booking/internal/session"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

const consumerBuffer = 256

// Pipeline is the wired session core plus its background workers.
type Pipeline struct {
	Manager   *session.Manager
	Bookings  *bookings.Repository
	Deliverer *events.Deliverer
	Consumers []string
}

// BuildPipeline wires the interpretation chain, the session manager and
// every bus consumer the runtime supports. Consumers stop when ctx ends.
func BuildPipeline(ctx context.Context, cfg *appconfig.Config, rt *Runtime, reg prometheus.Registerer, logger *logging.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if rt == nil {
		rt = &Runtime{}
	}
	if logger == nil {
		logger = logging.Default()
	}

	cues, err := bookingflow.LoadCueTable(cfg.BookingCuesFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	eventLog := consultation.NewEventLogger(logger)
	interpreter := consultation.NewInterpreter(eventLog, metrics.NewInterpretationMetrics(reg))
	sessionMetrics := metrics.NewSessionMetrics(reg)

	opts := session.Options{
		Interpreter: interpreter,
		Events:      eventLog,
		Fetcher:     appointments.NewClient(cfg.AppointmentsBaseURL, cfg.AppointmentsUserID, cfg.AppointmentsTimeout, logger),
		Bus:         session.NewBus(logger, sessionMetrics),
		Metrics:     sessionMetrics,
		Logger:      logger,
	}
	store := session.NewRedisStore(rt.Redis, cfg.SessionTTL)
	if store != nil {
		opts.Store = store
	}
	manager := session.NewManager(session.Config{
		RefreshDelay: cfg.BookingRefreshDelay,
		CueTimeout:   cfg.BookingCueTimeout,
		Cues:         cues,
	}, opts)

	p := &Pipeline{Manager: manager}
	bus := manager.Bus()
	consume := func(name string, handle func(context.Context, session.Event) error, types ...session.EventType) {
		bus.Consume(ctx, name, consumerBuffer, handle, types...)
		p.Consumers = append(p.Consumers, name)
	}

	if store != nil {
		consume("redis-store", store.Handle)
	}
	if rt.Pool != nil {
		p.Bookings = bookings.NewRepository(rt.Pool)
		svc := bookings.NewService(p.Bookings, logger)
		consume("bookings-ledger", svc.Handle, session.EventAppointmentBooked)
	}
	if sink := p.eventSink(cfg, rt, logger); sink != nil {
		fwd := events.NewForwarder(sink, logger)
		consume("event-forwarder", fwd.Handle, session.EventAppointmentBooked, session.EventCallEnded)
	}
	if rt.S3 != nil {
		if archiver := archive.NewArchiver(archive.NewStore(rt.S3, cfg.TranscriptArchiveBucket, logger), logger); archiver != nil {
			consume("transcript-archive", archiver.Handle, session.EventCallEnded)
		}
	}

	logger.Info("session pipeline ready", "consumers", p.Consumers, "cues", len(cues.Cues))
	return p, nil
}

// eventSink picks where canonical events go: the Postgres outbox drained to
// SQS when both exist, SQS directly without a database.
func (p *Pipeline) eventSink(cfg *appconfig.Config, rt *Runtime, logger *logging.Logger) events.Sink {
	if rt.SQS == nil || cfg.BookingEventsQueueURL == "" {
		return nil
	}
	publisher := events.NewSQSPublisher(rt.SQS, cfg.BookingEventsQueueURL)
	if rt.Pool == nil {
		return publisher
	}
	outbox := events.NewOutboxStore(rt.Pool)
	p.Deliverer = events.NewDeliverer(outbox, publisher, logger)
	return outbox
}

// Start runs background workers until ctx ends.
func (p *Pipeline) Start(ctx context.Context) {
	if p.Deliverer != nil {
		go p.Deliverer.Start(ctx)
	}
}
