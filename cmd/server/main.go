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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "organmatch/internal/jwt_token"
	"organmatch/internal/ledger"
	"organmatch/internal/ledger/archive"
	"organmatch/internal/ledger/relay"
	"organmatch/internal/matching/engine"
	"organmatch/internal/matching/handler"
	matchingmetrics "organmatch/internal/matching/metrics"
	"organmatch/internal/matching/scoring"
	"organmatch/internal/matching/service"
	"organmatch/internal/matching/store"
	"organmatch/internal/platform/config"
	"organmatch/internal/platform/httpserver"
	"organmatch/internal/platform/logger"
	"organmatch/internal/platform/metrics"
	"organmatch/internal/platform/middleware"
	"organmatch/pkg/platform/httputil"
	authmw "organmatch/pkg/platform/middleware/auth"
	"organmatch/pkg/platform/middleware/metadata"
	"organmatch/pkg/platform/middleware/requesttime"
)

// topicTailTimeout bounds reading the last relayed seq at startup.
const topicTailTimeout = 15 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("organmatch stopped with error", "error", err)
		os.Exit(1)
	}
}

// run wires the process and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var res closers
	defer res.closeAll(log)

	records, err := openRecords(ctx, cfg, &res)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	ledgerStore, err := openLedger(ctx, cfg.Ledger, &res)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	weights := scoring.Defaults()
	if cfg.Scoring.WeightsFile != "" {
		if weights, err = scoring.LoadWeights(cfg.Scoring.WeightsFile); err != nil {
			return err
		}
	}
	scorer, err := scoring.New(weights)
	if err != nil {
		return fmt.Errorf("scoring weights: %w", err)
	}

	ledgerMetrics := ledger.NewMetrics()
	events := ledger.New(ledgerStore, ledger.WithLogger(log), ledger.WithMetrics(ledgerMetrics))
	svc := service.New(
		store.New(records),
		engine.New(scorer),
		service.WithLogger(log),
		service.WithMetrics(matchingmetrics.New()),
		service.WithPublisher(events),
		service.WithMaxMedicalNotes(cfg.Scoring.MaxMedicalNotes),
	)

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
	router := newRouter(log, metrics.New(), jwttoken.NewJWTServiceAdapter(jwtService),
		handler.New(svc, events, log))

	g, gctx := errgroup.WithContext(ctx)

	srv := httpserver.New(cfg.Server, router)
	g.Go(func() error {
		log.Info("starting organmatch", "addr", cfg.Server.Addr,
			"store", cfg.Store.Backend, "ledger", cfg.Ledger.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Enabled() {
		sink, err := relay.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		defer sink.Close()
		if err := sink.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
			return fmt.Errorf("ensure ledger topic: %w", err)
		}
		tailCtx, cancelTail := context.WithTimeout(ctx, topicTailTimeout)
		checkpoint, err := sink.LastSeq(tailCtx)
		cancelTail()
		if err != nil {
			return fmt.Errorf("read ledger topic tail: %w", err)
		}
		r := relay.New(events, sink,
			relay.WithCheckpoint(checkpoint),
			relay.WithLogger(log),
			relay.WithMetrics(ledgerMetrics),
			relay.WithInterval(cfg.Kafka.Interval),
			relay.WithBatchSize(cfg.Kafka.BatchSize),
		)
		g.Go(func() error { return r.Run(gctx) })
	}

	if cfg.Archive.Enabled() {
		client, err := archive.NewS3Client(ctx, archive.ClientConfig{
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			PathStyle:       cfg.Archive.PathStyle,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
		a := archive.New(events, client, cfg.Archive.Bucket,
			archive.WithPrefix(cfg.Archive.Prefix),
			archive.WithInterval(cfg.Archive.Interval),
			archive.WithLogger(log),
			archive.WithMetrics(ledgerMetrics),
		)
		if err := a.Resume(ctx); err != nil {
			return fmt.Errorf("resume archive: %w", err)
		}
		g.Go(func() error { return a.Run(gctx) })
	}

	return g.Wait()
}

func newRouter(log *slog.Logger, m *metrics.Metrics, validator authmw.JWTValidator, h *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(log, m))
	r.Use(middleware.Recover(log))
	r.Use(requesttime.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(validator, log))
		h.Register(r)
	})
	return r
}
