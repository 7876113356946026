package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fixline/backend/internal/api"
	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/cache"
	"github.com/fixline/backend/internal/catalog"
	"github.com/fixline/backend/internal/config"
	"github.com/fixline/backend/internal/dispatch"
	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/events"
	"github.com/fixline/backend/internal/match"
	"github.com/fixline/backend/internal/metrics"
	"github.com/fixline/backend/internal/notify"
	"github.com/fixline/backend/internal/pricing"
	"github.com/fixline/backend/internal/realtime"
	"github.com/fixline/backend/internal/scoring"
	"github.com/fixline/backend/internal/service"
	"github.com/fixline/backend/internal/sla"
	"github.com/fixline/backend/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	tuning, err := config.LoadTuning(os.Getenv("TUNING_FILE"))
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)
	log.Info("starting dispatch service", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// storage
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	c, err := cache.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer c.Close()

	// event stream: local bus, cross-instance mirror, outbox relay
	local := events.NewLocalBus()
	bus := events.NewRedisBus(c.Client(), local, "events:broadcast", log)
	go bus.Listen(ctx)

	relay := events.NewRelay(st, bus, 2*time.Second, 100, log)
	go relay.Run(ctx)
	defer relay.Stop()

	bridge, err := events.NewPubSubBridge(ctx, cfg.PubSubProject, cfg.PubSubTopic, log)
	if err != nil {
		return err
	}
	if bridge != nil {
		bridge.Attach(bus)
		defer bridge.Close()
	}

	m := metrics.New()
	m.AttachBus(bus)

	// push notifications
	var transport notify.Transport = notify.NewMemoryTransport()
	if cfg.TasksProject != "" {
		transport, err = notify.NewCloudTasksTransport(ctx, cfg.TasksProject, cfg.TasksLocation, cfg.TasksQueue, cfg.PushEndpoint, log)
		if err != nil {
			return err
		}
	}
	defer transport.Close()
	notify.NewNotifier(transport, log).AttachBus(bus)

	// domain engines
	cat := catalog.New(st)

	var holidays []time.Time
	for _, d := range cfg.HolidayDates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return fmt.Errorf("parse HOLIDAY_DATES entry %q: %w", d, err)
		}
		holidays = append(holidays, t)
	}
	pricer := pricing.New(st, nil, pricing.NewStaticHolidays(holidays), tuning.Pricing.MultiplierCeiling, tuning.WeatherTimeout())

	matcher := match.NewMatcher(st, tuning.Dispatch.MaxOfferResults)
	ledger := scoring.NewLedger(st)
	offerTTL := time.Duration(tuning.Dispatch.DefaultOfferTTLMin) * time.Minute
	coord := dispatch.NewCoordinator(st, matcher, ledger, offerTTL, log)

	tracker := realtime.NewLocationTracker(c, realtime.TrackerTuning{
		Throttle:    time.Duration(tuning.Realtime.LocationThrottleSec) * time.Second,
		TrackMax:    tuning.Realtime.TrackMaxEntries,
		AvgSpeedKmh: tuning.Realtime.AvgSpeedKmh,
	})

	svc := service.New(st, cat, pricer, coord, ledger, tracker, log)
	verifier := auth.NewVerifier(cfg.AuthHMACSecret, cfg.AuthPrevSecret)

	// background loops
	scanner := sla.NewScanner(st, c, &busEmitter{bus: bus, log: log}, sla.WarnWindows{
		Response:   time.Duration(tuning.Sla.WarnResponseMin) * time.Minute,
		Arrival:    time.Duration(tuning.Sla.WarnArrivalMin) * time.Minute,
		Completion: time.Duration(tuning.Sla.WarnCompletionMin) * time.Minute,
	}, time.Duration(tuning.Sla.ScanIntervalSec)*time.Second, log)
	go scanner.Run(ctx)
	defer scanner.Stop()

	runner := dispatch.NewRunner(coord, time.Duration(tuning.Dispatch.SweepIntervalSec)*time.Second, 100, log)
	go runner.Run(ctx)
	defer runner.Stop()

	recovery := scoring.NewRecoveryScheduler(ledger, 24*time.Hour, log)
	go recovery.Run(ctx)
	defer recovery.Stop()

	credScan := service.NewCredentialScanner(svc, 24*time.Hour, 100, log)
	go credScan.Run(ctx)
	defer credScan.Stop()

	// realtime surfaces
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	gateway, err := realtime.NewGateway(verifier, svc, tracker, redisOpts.Addr, log)
	if err != nil {
		return err
	}
	gateway.SetConnHook(m)
	gateway.AttachBus(bus)
	gateway.AttachEmergencyAlerts(bus)
	go func() {
		if err := gateway.Serve(); err != nil {
			log.Error("socket.io server stopped", "error", err)
		}
	}()
	defer gateway.Close()

	ops := realtime.NewOpsStream(verifier, cfg.AllowedOrigins, log)
	ops.AttachBus(bus)
	go ops.Run(ctx)

	// http
	server := api.NewServer(svc, verifier, tracker, m, api.Pagination{
		DefaultSize: cfg.DefaultPageSize,
		MaxSize:     cfg.MaxPageSize,
	}, cfg.AllowedOrigins, log)

	root := http.NewServeMux()
	root.Handle("/socket.io/", gateway.Server())
	root.Handle("/ws/events", ops)
	root.Handle("/", server.Router())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// busEmitter turns deduplicated deadline warnings into sla.warning events.
type busEmitter struct {
	bus events.Bus
	log *slog.Logger
}

func (e *busEmitter) EmitSlaWarning(ctx context.Context, w sla.Warning) {
	ev := events.Event{
		ID:         domain.NewID(),
		Type:       events.SlaWarning,
		JobID:      w.JobID,
		ProviderID: w.ProviderID,
		Payload:    events.MarshalPayload(w),
		OccurredAt: time.Now().UTC(),
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.log.Error("publish sla warning", "job_id", w.JobID, "error", err)
	}
}
