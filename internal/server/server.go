// Package server wires the store, the field services and the HTTP API.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeblew999/plat-fields/internal/api"
	"github.com/joeblew999/plat-fields/internal/config"
	"github.com/joeblew999/plat-fields/internal/db"
	"github.com/joeblew999/plat-fields/internal/logger"
	"github.com/joeblew999/plat-fields/internal/notify"
	"github.com/joeblew999/plat-fields/internal/service"
	"github.com/joeblew999/plat-fields/internal/store"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreDuckDB = "duckdb"
)

// Config holds the server configuration.
type Config struct {
	Host      string
	Port      string
	DataDir   string
	Store     string // memory or duckdb
	Policy    config.Policy
	QueueSize int // notification queue size
	Log       logger.Logger
}

// Server is the field HTTP server.
type Server struct {
	config   Config
	log      logger.Logger
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	repo     service.Repository
	registry *prometheus.Registry
	notifier *notify.Notifier
	services *api.Services
}

// New opens the store and builds the services and routes.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Log == nil {
		cfg.Log = logger.Default()
	}
	if cfg.Store == "" {
		cfg.Store = StoreMemory
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		log:      cfg.Log,
		mux:      http.NewServeMux(),
		registry: prometheus.NewRegistry(),
	}

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}
	if err := s.buildServices(); err != nil {
		s.Close()
		return nil, err
	}

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-fields API", api.Version)
	humaConfig.Info.Description = "Field boundaries, adjacency discovery and tiered field visibility."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())
	s.humaAPI = humago.New(s.mux, humaConfig)

	s.routes()
	return s, nil
}

func (s *Server) openStore(ctx context.Context) error {
	switch s.config.Store {
	case StoreMemory:
		m, err := store.NewMemory(s.config.DataDir)
		if err != nil {
			return fmt.Errorf("opening memory store: %w", err)
		}
		s.repo = m
	case StoreDuckDB:
		conn, err := db.Open(ctx, db.Config{DataDir: s.config.DataDir})
		if err != nil {
			return err
		}
		s.db = conn
		s.repo = store.NewDuckDB(conn)
		if !db.SpatialLoaded(ctx, conn) {
			s.log.Warn("duckdb spatial extension not loaded, overlap checks fall back to exact comparison")
		}
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", s.config.Store, StoreMemory, StoreDuckDB)
	}
	s.log.Info("store opened", "store", s.config.Store, "data_dir", s.config.DataDir)
	return nil
}

func (s *Server) buildServices() error {
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics, err := service.NewMetrics(s.registry)
	if err != nil {
		return err
	}
	notifyMetrics, err := notify.NewMetrics(s.registry)
	if err != nil {
		return err
	}

	bus := service.NewEventBus()
	s.notifier = notify.New(notify.Options{QueueSize: s.config.QueueSize}, s.log, notifyMetrics,
		notify.LogSender{Log: s.log},
		notify.BusSender{Bus: bus},
	)

	policy := s.config.Policy
	proximity := service.NewProximityEngine(s.repo, policy, s.log, metrics)
	overlap := service.NewOverlapValidator(s.repo, policy, s.log, metrics)

	s.services = &api.Services{
		Fields:      service.NewFieldService(s.repo, overlap, proximity, bus, s.log),
		Proximity:   proximity,
		Overlap:     overlap,
		Permissions: service.NewPermissionService(s.repo, s.notifier, bus, s.log, metrics),
		Access:      service.NewAccessProjector(s.repo, s.log, metrics),
		Providers:   service.NewProviderAccessService(s.repo, bus, s.log),
		Users:       s.repo,
		Bus:         bus,
	}
	if stats, ok := s.repo.(api.StatsSource); ok {
		s.services.Stats = stats
	}
	return nil
}

func (s *Server) routes() {
	api.RegisterRoutes(s.humaAPI, s.services)

	_, spatial := s.repo.(service.SpatialIndex)
	if s.db != nil {
		spatial = spatial && db.SpatialLoaded(context.Background(), s.db)
	}
	api.NewInfoHandler(s.config.Store, spatial, s.config.Policy).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the wired services to the CLI subcommands.
func (s *Server) Services() *api.Services {
	return s.services
}

// Close drains pending notifications and closes the database.
func (s *Server) Close() error {
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
