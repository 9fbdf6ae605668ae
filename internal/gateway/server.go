// Package gateway wires the store, bus, router, hub and interfaces into one
// process and owns their lifecycle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	"airguard.dev/gateway/internal/api"
	"airguard.dev/gateway/internal/broadcast"
	"airguard.dev/gateway/internal/ingest"
	"airguard.dev/gateway/internal/mirror"
	"airguard.dev/gateway/internal/relay"
	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/metrics"
	"airguard.dev/gateway/pkg/mq"
	"airguard.dev/gateway/pkg/mqtt"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Bus drivers.
const (
	BusMQTT = "mqtt"
	BusAMQP = "amqp"
)

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Store configuration. DB is required for the postgres driver.
	StoreDriver string
	DB          *store.DBConfig

	// Bus configuration. Bus, when set, replaces the configured driver.
	BusDriver string
	Bus       mq.Bus
	MQTT      *mqtt.Config
	AMQPURL   string
	QueueName string

	// Optional mirror sinks
	RedisAddr   string
	RedisStream string
	RedisMaxLen int64
	Cloud       *mirror.CloudConfig

	// Interfaces
	HTTPAddr     string
	GRPCAddr     string
	SharedSecret string

	// ReadyTimeout bounds the initial bus connection.
	ReadyTimeout time.Duration

	// Registry receives every gateway metric. Defaults to metrics.Registry.
	Registry *prometheus.Registry
}

// Server represents the gateway process.
type Server struct {
	logger *slog.Logger
	config *ServerConfig

	db     *gorm.DB
	store  store.Store
	bus    mq.Bus
	redis  *redis.Client
	hub    *broadcast.Hub
	mirror *mirror.Mirror
	relay  *relay.Relay

	httpServer *http.Server
	grpcServer *grpc.Server

	mu       sync.Mutex
	httpAddr string
	grpcAddr string
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	switch cfg.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if cfg.DB == nil {
			return nil, errors.New("database config cannot be nil")
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.Bus == nil {
		switch cfg.BusDriver {
		case BusMQTT:
			if cfg.MQTT == nil {
				return nil, errors.New("mqtt config cannot be nil")
			}
		case BusAMQP:
			if cfg.AMQPURL == "" {
				return nil, errors.New("rabbitmq URL cannot be empty")
			}
			if cfg.QueueName == "" {
				return nil, errors.New("queue name cannot be empty")
			}
		default:
			return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
		}
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("http address cannot be empty")
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("gRPC address cannot be empty")
	}

	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}

	if cfg.Registry == nil {
		cfg.Registry = metrics.Registry
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the gateway and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting gateway")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	reg := s.config.Registry
	ingestMetrics := metrics.NewIngestMetrics(reg)
	mqMetrics := metrics.NewMQMetrics(reg)

	if err := s.openStore(ingestMetrics); err != nil {
		return err
	}

	if err := s.openBus(ctx, mqMetrics); err != nil {
		_ = s.Shutdown()
		return err
	}

	s.hub = broadcast.NewHub(s.logger, metrics.NewBroadcastMetrics(reg))

	if err := s.startMirror(ctx, metrics.NewMirrorMetrics(reg)); err != nil {
		_ = s.Shutdown()
		return err
	}

	routerCfg := &ingest.RouterConfig{
		Logger:      s.logger,
		Store:       s.store,
		Broadcaster: s.hub,
		Metrics:     ingestMetrics,
	}
	if s.mirror != nil {
		routerCfg.Mirror = s.mirror
	}
	router, err := ingest.NewRouter(routerCfg)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	s.relay, err = relay.New(&relay.Config{
		Logger:     s.logger,
		Subscriber: s.bus,
		Router:     router,
	})
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize relay: %w", err)
	}
	if err := s.relay.Start(ctx); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to start relay: %w", err)
	}

	httpErr, err := s.startHTTP(router, metrics.NewHTTPMetrics(reg))
	if err != nil {
		_ = s.Shutdown()
		return err
	}

	grpcErr, err := s.startGRPC(ctx)
	if err != nil {
		_ = s.Shutdown()
		return err
	}

	s.logger.Info("gateway started successfully")

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		s.logger.Error("http server error", "error", err)
		runErr = err
	case err := <-grpcErr:
		s.logger.Error("gRPC server error", "error", err)
		runErr = err
	case <-s.relay.Done():
		runErr = errors.New("bus subscription ended unexpectedly")
		s.logger.Error("relay stopped", "error", runErr)
	}
	cancel()

	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// HTTPAddr returns the bound HTTP address once the server is listening.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address once the server is listening.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

func (s *Server) openStore(m *metrics.IngestMetrics) error {
	if s.config.StoreDriver == StoreMemory {
		s.logger.Warn("using in-memory store; samples are lost on restart")
		s.store = store.NewMemory()
		return nil
	}

	dbCfg := *s.config.DB
	dbCfg.Logger = s.logger

	db, err := store.NewDB(&dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	s.store, err = store.NewGormStore(db, s.logger, m)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	s.logger.Info("database initialized successfully")
	return nil
}

func (s *Server) openBus(ctx context.Context, m *metrics.MQMetrics) error {
	switch {
	case s.config.Bus != nil:
		s.bus = s.config.Bus

	case s.config.BusDriver == BusMQTT:
		mqttCfg := *s.config.MQTT
		mqttCfg.Logger = s.logger
		mqttCfg.Metrics = m
		client, err := mqtt.New(&mqttCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt client: %w", err)
		}
		s.bus = client

	default:
		client := mq.New(s.config.QueueName, s.config.AMQPURL, s.logger.With("component", "mq-client"))
		client.SetMetrics(m)
		s.bus = client
	}

	readyCtx, cancel := context.WithTimeout(ctx, s.config.ReadyTimeout)
	defer cancel()

	if err := s.bus.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}

	s.logger.Info("message bus connected")
	return nil
}

func (s *Server) startMirror(ctx context.Context, m *metrics.MirrorMetrics) error {
	var sinks []mirror.Sink

	if s.config.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: s.config.RedisAddr})
		sink, err := mirror.NewRedisStreamSink(s.redis, s.config.RedisStream, s.config.RedisMaxLen)
		if err != nil {
			return fmt.Errorf("failed to initialize redis sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if s.config.Cloud != nil && s.config.Cloud.URL != "" {
		sink, err := mirror.NewCloudSink(s.config.Cloud)
		if err != nil {
			return fmt.Errorf("failed to initialize cloud sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if len(sinks) == 0 {
		return nil
	}

	mr, err := mirror.New(&mirror.Config{
		Logger:  s.logger,
		Sinks:   sinks,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mirror: %w", err)
	}
	mr.Start(ctx)
	s.mirror = mr

	s.logger.Info("mirror started", "sinks", len(sinks))
	return nil
}

func (s *Server) startHTTP(router *ingest.Router, m *metrics.HTTPMetrics) (<-chan error, error) {
	handler, err := api.New(&api.Config{
		Logger:       s.logger,
		Ingester:     router,
		Store:        s.store,
		Subscribers:  s.hub,
		Bus:          s.bus,
		Metrics:      m,
		Gatherer:     s.config.Registry,
		SharedSecret: s.config.SharedSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize api: %w", err)
	}

	lis, err := net.Listen("tcp", s.config.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.HTTPAddr, err)
	}

	s.httpServer = &http.Server{
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpAddr = lis.Addr().String()
	s.mu.Unlock()

	s.logger.Info("starting http server", "address", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
		close(errCh)
	}()

	return errCh, nil
}

func (s *Server) startGRPC(ctx context.Context) (<-chan error, error) {
	reporter := api.NewHealthReporter(s.store, s.bus, s.logger, 0)

	s.grpcServer = grpc.NewServer()
	reporter.Register(s.grpcServer)

	lis, err := net.Listen("tcp", s.config.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.GRPCAddr, err)
	}

	s.mu.Lock()
	s.grpcAddr = lis.Addr().String()
	s.mu.Unlock()

	s.logger.Info("starting gRPC server", "address", lis.Addr().String())

	go reporter.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown stops every component in reverse start order.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down gateway")

	var errs []error

	if s.httpServer != nil {
		s.logger.Info("stopping http server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown error: %w", err))
		}
		cancel()
	}

	if s.hub != nil {
		s.hub.Close()
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
	}

	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("relay shutdown error: %w", err))
		}
	}

	if s.mirror != nil {
		s.mirror.Stop()
	}

	if s.bus != nil {
		s.logger.Info("closing message bus")
		if err := s.bus.Close(); err != nil && !errors.Is(err, mq.ErrShutdown) {
			s.logger.Warn("failed to close message bus", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if s.db != nil {
		s.logger.Info("closing database connection")
		if err := store.CloseDB(s.db, s.logger); err != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("gateway shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("gateway shutdown completed successfully")
	return nil
}
