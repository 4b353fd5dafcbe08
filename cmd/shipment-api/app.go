package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"

	shipmentsapi "github.com/packlane/packlane/internal/api/shipments_api"
	"github.com/packlane/packlane/internal/auth"
	"github.com/packlane/packlane/internal/broker/messages"
	"github.com/packlane/packlane/internal/models"
	"github.com/packlane/packlane/internal/services/shipments"
)

type shipmentAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

// consumerFactory builds a fresh reader. After a handler failure the current
// reader is closed and a new one joins the group, so the uncommitted offset
// is redelivered.
type consumerFactory func() kafkaConsumer

func runShipmentAPI(ctx context.Context, opts shipmentAPIOpts, svc *shipments.Service, resolver auth.Resolver, newConsumer consumerFactory) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, opts.swaggerPath, svc, resolver)
	}()

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		runConsumerLoop(ctx, newConsumer, svc)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, swaggerPath string, svc *shipments.Service, resolver auth.Resolver) error {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(resolver))
		shipmentsapi.New(svc).Routes(r)
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}

// runConsumerLoop keeps a pull subscription alive until the context ends.
// Poison messages are committed and dropped inside the handler; any other
// failure tears down the reader so the message is redelivered.
func runConsumerLoop(ctx context.Context, newConsumer consumerFactory, svc *shipments.Service) {
	for {
		c := newConsumer()
		err := c.Consume(ctx, func(_key, value []byte) error {
			return handleTrackingUpdate(ctx, svc, value)
		})
		_ = c.Close()

		if ctx.Err() != nil {
			return
		}
		slog.Error("kafka consume failed, restarting", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func handleTrackingUpdate(ctx context.Context, svc *shipments.Service, value []byte) error {
	var msg messages.TrackingUpdate
	if err := json.Unmarshal(value, &msg); err != nil {
		// Poison message: commit and drop, otherwise it redelivers forever.
		slog.Warn("dropping undecodable tracking update", "err", err)
		return nil
	}

	if err := svc.ApplyUpdate(ctx, msg); err != nil {
		if errors.Is(err, models.ErrInvalidArgument) {
			slog.Warn("dropping poison tracking update", "shipment_id", msg.ShipmentID, "err", err)
			return nil
		}
		// NotFound included: likely a race with shipment creation, retry
		// via redelivery.
		return err
	}
	return nil
}
