/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/friendsincode/benchbook/internal/api"
	"github.com/friendsincode/benchbook/internal/audit"
	"github.com/friendsincode/benchbook/internal/booking"
	"github.com/friendsincode/benchbook/internal/builder"
	"github.com/friendsincode/benchbook/internal/cache"
	"github.com/friendsincode/benchbook/internal/config"
	"github.com/friendsincode/benchbook/internal/db"
	"github.com/friendsincode/benchbook/internal/eventbus"
	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/integrity"
	"github.com/friendsincode/benchbook/internal/inventory"
	"github.com/friendsincode/benchbook/internal/lablock"
	"github.com/friendsincode/benchbook/internal/leadership"
	"github.com/friendsincode/benchbook/internal/notifications"
	"github.com/friendsincode/benchbook/internal/store"
	"github.com/friendsincode/benchbook/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db              *gorm.DB
	cache           *cache.Cache
	redis           redis.UniversalClient
	store           *store.Store
	bus             events.Broker
	api             *api.API
	auditSvc        *audit.Service
	builderSvc      *builder.Builder
	notificationSvc *notifications.Service
	leaderAware     *leadership.LeaderAware

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("benchbook-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long-lived; everything else gets a request deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for the event stream; the middleware timeout covers the rest.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return err
	}

	if s.needsRedis() {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		s.DeferClose(func() error { return s.redis.Close() })
	}

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	s.store = store.New(database, s.cache, s.logger)

	bus, err := s.newEventBus()
	if err != nil {
		return err
	}
	s.bus = bus

	var locker booking.LabLocker
	switch s.cfg.LabLockBackend {
	case config.LabLockRedis:
		locker = lablock.NewRedisLocker(s.redis, lablock.Config{TTL: s.cfg.LabLockTTL}, s.logger)
	default:
		locker = booking.NewLocalLocker()
	}

	bookingSvc := booking.NewService(s.store, s.cfg.Planner(), locker, s.bus, booking.Options{
		HorizonDays: s.cfg.BookingHorizonDays,
	}, s.logger)
	inventorySvc := inventory.NewService(s.store, s.bus, s.logger)
	s.builderSvc = builder.New(s.store, s.bus, builder.Options{IdleTTL: s.cfg.BuilderIdleTTL}, s.logger)
	integritySvc := integrity.NewService(database, s.bus, s.logger)
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	s.notificationSvc = notifications.NewService(s.store, s.bus, notifications.Config{
		Lead:          s.cfg.ReminderLead,
		CheckInterval: s.cfg.ReminderCheckInterval,
		Location:      s.cfg.Location,
	}, s.logger)

	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.DefaultConfig()
		electionConfig.ElectionKey = "benchbook:leader:reminders"
		if s.cfg.InstanceID != "" {
			electionConfig.InstanceID = s.cfg.InstanceID
		}
		election, err := leadership.NewElectionWithClient(s.redis, electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.leaderAware = leadership.NewLeaderAware(s.notificationSvc, election, "reminders", s.logger)
		s.DeferClose(func() error { return s.leaderAware.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionConfig.InstanceID).
			Msg("leader election enabled for reminders")
	}

	s.api = api.New(api.Deps{
		Store:           s.store,
		Booking:         bookingSvc,
		Inventory:       inventorySvc,
		Builder:         s.builderSvc,
		Integrity:       integritySvc,
		Audit:           s.auditSvc,
		Bus:             s.bus,
		JWTSecret:       []byte(s.cfg.JWTSigningKey),
		SlotSearchRate:  rate.Limit(s.cfg.SlotSearchRPS),
		SlotSearchBurst: s.cfg.SlotSearchBurst,
	}, s.logger)

	return nil
}

func (s *Server) needsRedis() bool {
	return s.cfg.LeaderElectionEnabled || s.cfg.LabLockBackend == config.LabLockRedis
}

func (s *Server) newEventBus() (events.Broker, error) {
	nodeID := eventbus.NodeID(s.cfg.InstanceID)
	switch s.cfg.EventBus {
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		bus, err := eventbus.NewRedisBus(redisCfg, nodeID, s.logger)
		if err != nil {
			return nil, fmt.Errorf("redis event bus: %w", err)
		}
		s.DeferClose(bus.Close)
		return bus, nil
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		bus, err := eventbus.NewNATSBus(natsCfg, nodeID, s.logger)
		if err != nil {
			return nil, fmt.Errorf("nats event bus: %w", err)
		}
		s.DeferClose(bus.Close)
		return bus, nil
	default:
		return events.NewBus(), nil
	}
}

// HTTPServer returns the API listener.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer returns the metrics listener, or nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.auditSvc.Start(ctx)

	if s.leaderAware != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAware.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware reminders exited")
			}
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.notificationSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("reminder loop exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		_ = s.builderSvc.Run(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.auditSvc.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if s.leaderAware != nil {
			resp["leader"] = s.leaderAware.IsLeader()
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			leaderID, err := s.leaderAware.Leader(ctx)
			cancel()
			if err != nil {
				s.logger.Debug().Err(err).Msg("healthz: leader lookup failed")
			} else {
				resp["leader_id"] = leaderID
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})

	s.api.Routes(s.router)
}
