package server

import (
	"fmt"
	"net/http"
	"time"

	adactor "github.com/berfenger/vedirect2mqtt/internal/adapter/actor"
	"github.com/berfenger/vedirect2mqtt/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
)

type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	chargeLimit *adactor.ChargeLimitClient
	gatherer    prometheus.Gatherer
}

// NewServer builds the HTTP server. A nil gatherer disables /metrics.
func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, gatherer prometheus.Gatherer) *http.Server {
	NewServer := newServer(cfg, rootContext, masterActor, gatherer)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}

func newServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, gatherer prometheus.Gatherer) *Server {
	timeout := cfg.RequestTimeout()
	return &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		chargeLimit: adactor.NewChargeLimitClient(rootContext, masterActor, timeout),
		httpLog:     cfg.HttpLog,
		gatherer:    gatherer,
	}
}
