package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/api"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/app/verification"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/config"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/config/fileloader"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/attendance"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/detection"
	eventdispatcher "github.com/Sourav19o7/ppe-detector-sub002/internal/infra/event_dispatcher"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/eventbus/kafka"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/eventbus/memory"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/storage"
	auditmemory "github.com/Sourav19o7/ppe-detector-sub002/internal/infra/storage/audit/memory"
	auditpostgres "github.com/Sourav19o7/ppe-detector-sub002/internal/infra/storage/audit/postgres"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/tagbridge"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/otel"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/timeutil"
)

var build = "develop"

const serviceType = "gated"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	configPath := flag.String("config", os.Getenv("GATE_CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("GATED-%s", cfg.GateID)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"gate_id":  cfg.GateID,
		"site_id":  cfg.SiteID,
		"app":      serviceType,
		"build":    build,
	}

	logOut := os.Stdout
	if cfg.Keyboard {
		// Raw mode mangles line endings on stdout; keep logs off the terminal.
		logOut = os.Stderr
	}
	lg := logger.NewWithMetadata(logOut, parseLevel(cfg.LogLevel), svcName, traceIDFn, logEvents, metadata)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, lg, cfg); err != nil {
		lg.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// -------------------------------------------------------------------------
	// Telemetry
	var (
		tp trace.TracerProvider = tracenoop.NewTracerProvider()
		mp metric.MeterProvider = otel.NewMeterProvider(serviceType)
	)
	if cfg.OTLPEndpoint != "" {
		log.Info(ctx, "startup", "status", "initializing telemetry", "endpoint", cfg.OTLPEndpoint)
		providers, teardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      serviceType,
			ExporterEndpoint: cfg.OTLPEndpoint,
			Probability:      1,
			ResourceAttributes: map[string]string{
				"library.language": "go",
				"gate.id":          cfg.GateID,
				"site.id":          cfg.SiteID,
			},
			InsecureExporter: true,
		})
		if err != nil {
			return fmt.Errorf("starting telemetry: %w", err)
		}
		defer teardown(context.WithoutCancel(ctx))
		tp, mp = providers.Tracer, providers.Meter
	}
	tracer := tp.Tracer(serviceType)

	// -------------------------------------------------------------------------
	// Gate policy
	var pc *config.PolicyConfig
	if cfg.PolicyFile != "" {
		var err error
		if pc, err = fileloader.NewFileLoader(cfg.PolicyFile).Load(ctx); err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
	}
	policy, err := config.BuildPolicy(cfg, pc)
	if err != nil {
		return fmt.Errorf("building policy: %w", err)
	}
	aliases, err := config.MergeAliases(detection.DefaultAliases(), pc)
	if err != nil {
		return fmt.Errorf("building label aliases: %w", err)
	}
	log.Info(ctx, "startup", "status", "policy loaded",
		"items", policy.Items(), "total_checks", policy.TotalChecks(),
		"confidence_threshold", policy.ConfidenceThreshold())

	// -------------------------------------------------------------------------
	// Event bus
	bus := memory.NewBroker()
	defer bus.Close()

	if cfg.KafkaEnabled() {
		log.Info(ctx, "startup", "status", "connecting to kafka", "brokers", cfg.KafkaBrokers)
		producer, err := common.ConnectKafkaWithRetry(ctx, log, cfg.KafkaBrokers, svcClientID(cfg))
		if err != nil {
			return err
		}
		pubMetrics, err := kafka.NewPublisherMetrics(mp)
		if err != nil {
			return fmt.Errorf("creating kafka metrics: %w", err)
		}
		kpub, err := kafka.NewDomainEventPublisher(producer, &kafka.Config{
			Brokers:      cfg.KafkaBrokers,
			ClientID:     svcClientID(cfg),
			OutcomeTopic: cfg.KafkaOutcomeTopic,
			AuditTopic:   cfg.KafkaAuditTopic,
		}, log, pubMetrics, tracer)
		if err != nil {
			_ = producer.Close()
			return fmt.Errorf("creating kafka publisher: %w", err)
		}
		defer kpub.Close()

		dispatcher := eventdispatcher.New(tracer, log)
		dispatcher.Forward(ctx, kpub, allGateEvents...)
		if err := bus.Subscribe(ctx, dispatcher.EventTypes(), dispatcher.Dispatch); err != nil {
			return fmt.Errorf("subscribing kafka forwarder: %w", err)
		}
	}

	// -------------------------------------------------------------------------
	// Override audit store
	var audits gate.AuditRepository = auditmemory.NewAuditStore()
	if cfg.DatabaseURL != "" {
		log.Info(ctx, "startup", "status", "connecting to postgres")
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("parsing db config: %w", err)
		}
		poolCfg.MaxConns = 4
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("creating db pool: %w", err)
		}
		defer pool.Close()

		if err := storage.Migrate(pool, cfg.MigrationsDir); err != nil {
			return err
		}
		audits = auditpostgres.NewAuditStore(pool, tracer)
	}

	// -------------------------------------------------------------------------
	// Verification engine
	engineMetrics, err := verification.NewEngineMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating engine metrics: %w", err)
	}
	engineOpts := []verification.EngineOption{
		verification.WithPolicy(policy),
		verification.WithBudget(cfg.VerifyBudget),
		verification.WithAuditRepository(audits),
	}
	if cfg.AttendanceURL != "" {
		rec := attendance.NewClient(cfg.AttendanceURL, otel.NewHTTPClient(cfg.AttendanceTimeout), log, tracer)
		engineOpts = append(engineOpts, verification.WithAttendanceRecorder(rec, cfg.AttendanceTimeout))
	}
	engine := verification.NewEngine(bus, log, engineMetrics, tracer, engineOpts...)

	timer := verification.NewTimerController(engine, cfg.TickInterval, log, tracer)
	engine.AddObserver(timer)

	// -------------------------------------------------------------------------
	// Tag channel
	tagMetrics, err := tagbridge.NewTagMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating tag metrics: %w", err)
	}
	tagClient := tagbridge.NewClient(tagbridge.Config{
		BridgeURL:        cfg.TagBridgeURL,
		ControlURL:       cfg.TagControlURL,
		ReconnectBackoff: cfg.TagReconnectBackoff,
		RequestTimeout:   cfg.RequestTimeout,
	}, engine, log, tagMetrics, tracer)
	engine.AddObserver(tagClient)
	manual := tagbridge.NewManualSource(engine, log)

	// -------------------------------------------------------------------------
	// Detection channel
	frames := detection.NewFrameStore(cfg.FrameMaxAge, timeutil.Default())
	normalizer := detection.NewNormalizer(aliases)
	pollerMetrics, err := detection.NewPollerMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating poller metrics: %w", err)
	}
	pollerCfg := detection.PollerConfig{
		Interval:      cfg.PollInterval,
		IdentityFloor: policy.IdentityFloor(),
		MaxRPS:        cfg.DetectionMaxRPS,
	}
	var pollers []*detection.Poller
	httpClient := otel.NewHTTPClient(cfg.RequestTimeout)
	if cfg.DetectionNarrowURL != "" {
		pollers = append(pollers, detection.NewPoller(
			detection.NewNarrowClient(cfg.DetectionNarrowURL, httpClient, tracer),
			frames, engine, normalizer, pollerCfg, log, pollerMetrics, tracer))
	}
	if cfg.DetectionBroadURL != "" {
		pollers = append(pollers, detection.NewPoller(
			detection.NewBroadClient(cfg.DetectionBroadURL, httpClient, tracer),
			frames, engine, normalizer, pollerCfg, log, pollerMetrics, tracer))
	}
	for _, p := range pollers {
		engine.AddObserver(p)
	}

	// -------------------------------------------------------------------------
	// Control API
	apiMetrics, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}
	ready := new(atomic.Bool)
	server := api.NewServer(
		api.Config{Addr: cfg.APIAddr, GateID: cfg.GateID, SiteID: cfg.SiteID},
		api.Deps{Engine: engine, Manual: manual, Tag: tagClient, Frames: frames, Audits: audits, Ready: ready},
		log, apiMetrics, tracer,
	)

	// -------------------------------------------------------------------------
	// Run
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(timer.Run(gctx)) })
	for _, p := range pollers {
		p := p
		g.Go(func() error { return ignoreCanceled(p.Run(gctx)) })
	}
	if cfg.TagBridgeURL != "" {
		g.Go(func() error { return ignoreCanceled(tagClient.Run(gctx)) })
	} else {
		log.Warn(ctx, "startup", "status", "no tag bridge configured, manual input only")
	}
	g.Go(func() error { return server.Start(gctx) })

	if cfg.MetricsAddr != "" {
		metricsSrv, err := common.NewMetricsServer(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		g.Go(func() error { return serveUntilDone(gctx, metricsSrv) })
	}
	if cfg.HealthAddr != "" {
		g.Go(func() error { return serveUntilDone(gctx, common.NewHealthServer(cfg.HealthAddr, ready).Server()) })
	}
	if cfg.Keyboard {
		// Stdin reads cannot be interrupted, so the loop stays outside the
		// group and quitting from it cancels everything else.
		go func() {
			if err := runKeyboard(gctx, os.Stdin, keyboardActions{
				press: manual.Press,
				start: func(ctx context.Context) error {
					_, err := engine.Start(ctx, cfg.GateID, cfg.SiteID)
					return err
				},
				reset: engine.Reset,
			}, log); err != nil {
				log.Error(ctx, "keyboard", "err", err)
			}
			cancel()
		}()
	}

	ready.Store(true)
	log.Info(ctx, "startup", "status", "gate ready", "api_addr", cfg.APIAddr)

	err = g.Wait()
	ready.Store(false)

	log.Info(ctx, "shutdown", "status", "shutdown started")
	defer log.Info(ctx, "shutdown", "status", "shutdown complete")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancelShutdown()
	engine.Reset(shutdownCtx)
	if serr := engine.Shutdown(shutdownCtx); serr != nil {
		log.Warn(shutdownCtx, "shutdown", "status", "attendance calls abandoned", "error", serr)
	}
	return err
}

var allGateEvents = []events.EventType{
	gate.EventTypeSessionStarted,
	gate.EventTypeSessionFinalized,
	gate.EventTypeIdentityResolved,
	gate.EventTypeOverrideApproved,
	gate.EventTypeSessionReset,
}

func svcClientID(cfg *config.Config) string { return serviceType + "-" + cfg.GateID }

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveUntilDone(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
