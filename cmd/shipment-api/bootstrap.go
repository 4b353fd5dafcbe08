package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packlane/packlane/config"
	"github.com/packlane/packlane/internal/auth"
	"github.com/packlane/packlane/internal/broker/kafka"
	"github.com/packlane/packlane/internal/cache/rediscache"
	"github.com/packlane/packlane/internal/services/shipments"
	"github.com/packlane/packlane/internal/storage/pgshipment"
)

type shipmentAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     shipmentAPIOpts
	svc      *shipments.Service
	resolver auth.Resolver
	brokers  []string
	closeDB  func()
}

func mustBootstrapShipmentAPI() *shipmentAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.Packlane.ShipmentHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Packlane.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "shipment-api"
	}
	topic := cfg.Kafka.TrackingUpdatedTopicName
	if topic == "" {
		topic = "tracking.updated"
	}

	publicTTL := time.Duration(cfg.Packlane.PublicTrackingTTLSeconds) * time.Second
	if publicTTL <= 0 {
		publicTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	policy := auth.Policy{CompanySharing: cfg.Packlane.CompanySharingEnabled}
	svc := shipments.New(st, policy, rc, publicTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &shipmentAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shipmentAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   os.Getenv("swaggerPath"),
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		resolver: mustBuildResolver(cfg),
		brokers:  []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)},
		closeDB:  st.Close,
	}
}

func mustBuildResolver(cfg *config.Config) auth.Resolver {
	switch cfg.Packlane.AuthMode {
	case "", "headers":
		return auth.NewHeaderResolver()
	case "jwt":
		if cfg.Packlane.JWTSecret == "" {
			panic("auth_mode jwt requires jwt_secret")
		}
		return auth.NewJWTResolver(cfg.Packlane.JWTSecret)
	default:
		panic(fmt.Sprintf("unknown auth_mode %q", cfg.Packlane.AuthMode))
	}
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

func (a *shipmentAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *shipmentAPIApp) Run() error {
	newConsumer := func() kafkaConsumer {
		return kafka.NewConsumer(a.brokers, a.opts.topic, a.opts.consumerGroup)
	}
	return runShipmentAPI(a.ctx, a.opts, a.svc, a.resolver, newConsumer)
}
