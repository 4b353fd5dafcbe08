package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/packlane/packlane/config"
	trackingsapi "github.com/packlane/packlane/internal/api/trackings_api"
	"github.com/packlane/packlane/internal/broker/kafka"
	"github.com/packlane/packlane/internal/cache/rediscache"
	"github.com/packlane/packlane/internal/integrations/carrier"
	"github.com/packlane/packlane/internal/integrations/carrier/carrierhttp"
	"github.com/packlane/packlane/internal/integrations/carrier/fake"
	"github.com/packlane/packlane/internal/services/carrierfeed"
	"github.com/packlane/packlane/internal/services/trackingingest"
	"github.com/packlane/packlane/internal/storage/pgshipment"
)

type trackingIngestApp struct {
	ctx    context.Context
	cancel context.CancelFunc

	httpAddr string
	api      *trackingsapi.TrackingsAPI
	poller   *carrierfeed.Poller

	closeDB func()

	onListen func(httpAddr string)
}

func mustBootstrapTrackingIngest() *trackingIngestApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.Packlane.TrackingHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8081"
	}
	topic := cfg.Kafka.TrackingUpdatedTopicName
	if topic == "" {
		topic = "tracking.updated"
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	svc := trackingingest.New(producer, topic)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)

	api := trackingsapi.New(svc)
	if cfg.Packlane.IngestRateLimitPerMinute > 0 {
		api = api.WithRateLimiter(
			rediscache.NewRateLimiter(redisAddr),
			int64(cfg.Packlane.IngestRateLimitPerMinute),
		)
	}

	app := &trackingIngestApp{
		httpAddr: httpAddr,
		api:      api,
		closeDB:  func() {},
	}

	if cfg.CarrierFeed.Enabled {
		st := mustOpenPostgresWithRetry(postgresConnString(cfg), 60*time.Second)
		app.closeDB = st.Close
		app.poller = buildPoller(cfg, st, producer, redisAddr, topic)
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return app
}

func buildPoller(cfg *config.Config, st *pgshipment.Storage, producer *kafka.Producer, redisAddr, topic string) *carrierfeed.Poller {
	var client carrier.Client
	switch cfg.CarrierFeed.Mode {
	case "", "http":
		client = carrierhttp.New(cfg.CarrierFeed.BaseURL, cfg.CarrierFeed.APIKey)
	case "fake":
		client = fake.New()
	default:
		panic(fmt.Sprintf("unknown carrier_feed.mode %q", cfg.CarrierFeed.Mode))
	}

	var rl carrierfeed.RateLimiter
	if cfg.CarrierFeed.RateLimitPerMinute > 0 {
		rl = rediscache.NewRateLimiter(redisAddr)
	}

	p := carrierfeed.New(st, client, producer, rl, topic).
		WithSettings(
			time.Duration(cfg.CarrierFeed.PollIntervalSeconds)*time.Second,
			cfg.CarrierFeed.BatchSize,
			cfg.CarrierFeed.Concurrency,
			time.Duration(cfg.CarrierFeed.LeaseSeconds)*time.Second,
			int64(cfg.CarrierFeed.RateLimitPerMinute),
		)

	if cfg.CarrierFeed.InTransitMinSeconds > 0 || cfg.CarrierFeed.InTransitMaxSeconds > 0 {
		pc := carrierfeed.DefaultPlannerConfig()
		pc.InTransitMinDelay = time.Duration(cfg.CarrierFeed.InTransitMinSeconds) * time.Second
		pc.InTransitMaxDelay = time.Duration(cfg.CarrierFeed.InTransitMaxSeconds) * time.Second
		p = p.WithPlanner(pc)
	}
	return p
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipment.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipment.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackingIngestApp) Run() error {
	lis, err := net.Listen("tcp", a.httpAddr)
	if err != nil {
		return err
	}
	if a.onListen != nil {
		a.onListen(lis.Addr().String())
	}

	if a.poller != nil {
		go func() {
			slog.Info("carrier feed poller started")
			if err := a.poller.Run(a.ctx); err != nil && err != context.Canceled {
				slog.Error("carrier feed poller stopped", "err", err)
			}
		}()
	}

	return runIngestServer(a.ctx, lis, a.api, a.poller)
}

func (a *trackingIngestApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func runIngestServer(ctx context.Context, lis net.Listener, api *trackingsapi.TrackingsAPI, poller *carrierfeed.Poller) error {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/trackings", func(r chi.Router) {
		api.Routes(r)
	})

	if poller != nil {
		r.Get("/poller/stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(poller.Stats())
		})
		r.Post("/poller/trigger", func(w http.ResponseWriter, r *http.Request) {
			poller.Trigger()
			w.WriteHeader(http.StatusAccepted)
		})
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("tracking ingest listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
