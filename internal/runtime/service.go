package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/cdcsync/internal/runtime/config"
	"github.com/drblury/cdcsync/internal/runtime/deadletter"
	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
	"github.com/drblury/cdcsync/internal/runtime/latency"
	loggingpkg "github.com/drblury/cdcsync/internal/runtime/logging"
	metricspkg "github.com/drblury/cdcsync/internal/runtime/metrics"
	"github.com/drblury/cdcsync/internal/runtime/sink"
	transportpkg "github.com/drblury/cdcsync/internal/runtime/transport"
	"github.com/drblury/cdcsync/transport"
)

// HandlerName is the router handler name of the change consumer.
const HandlerName = "cdcsync"

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// openSink is replaced in tests.
var openSink = func(ctx context.Context, cfg sink.Config, recorder metricspkg.Recorder) (*sink.Sink, error) {
	return sink.Open(ctx, cfg, recorder)
}

// TransportError reports that the router could not subscribe or stopped with
// an error. It ends Start; per-message failures never produce it.
type TransportError struct {
	PubSubSystem string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cdcsync: transport %q: %v", e.PubSubSystem, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to build them from the configuration.
type ServiceDependencies struct {
	// Sink replaces the destination opened from DestinationConnection. The
	// Service does not close it.
	Sink Applier
	// Registry receives every collector. Defaults to a fresh registry.
	Registry                  *prometheus.Registry
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	Hooks                     Hooks
}

// Service wires a Watermill router, the transport, the destination sink and
// the Driver into a running consumer.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	transport  transportpkg.Transport
	router     *message.Router

	driver     *Driver
	sink       Applier
	ownedSink  *sink.Sink
	deadLetter *deadletter.Publisher

	registry     *prometheus.Registry
	recorder     *metricspkg.Prometheus
	stats        *ConsumerStats
	capabilities transport.Capabilities

	httpServers   map[int]*http.ServeMux
	runningHTTP   []*http.Server
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewService builds every collaborator from conf. The returned Service owns
// the transport and, unless one was injected, the destination pool.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if conf.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating change consumer", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"topic":         conf.Topic,
		"config":        conf.String(),
	})

	s := &Service{
		Conf:     conf,
		Logger:   log,
		registry: deps.Registry,
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.recorder = metricspkg.NewPrometheus(s.registry)
	if err := s.recorder.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if err := s.openDestination(ctx, deps.Sink); err != nil {
		return nil, err
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		_ = s.closeSink()
		return nil, &TransportError{PubSubSystem: conf.PubSubSystem, Err: err}
	}
	s.transport = tr
	s.publisher = tr.Publisher
	s.subscriber = tr.Subscriber
	s.warnAboutDelivery(factory)

	if err := s.build(deps); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) openDestination(ctx context.Context, injected Applier) error {
	if injected != nil {
		s.sink = injected
		return nil
	}
	if s.Conf.DestinationConnection == "" {
		return errspkg.ErrDestinationRequired
	}

	dest, err := openSink(ctx, sink.Config{
		Driver:          s.Conf.DestinationDriver,
		DSN:             s.Conf.DestinationConnection,
		Table:           s.Conf.DestinationTable,
		MaxOpenConns:    s.Conf.DestinationMaxOpenConns,
		MaxIdleConns:    s.Conf.DestinationMaxIdleConns,
		ConnMaxLifetime: s.Conf.DestinationConnMaxLife,
	}, s.recorder)
	if err != nil {
		return err
	}
	if s.Conf.DestinationCreateTable {
		if err := dest.EnsureTable(ctx); err != nil {
			_ = dest.Close()
			return err
		}
	}
	s.Logger.Info("Connected to destination", loggingpkg.LogFields{
		"driver": dest.Driver(),
		"table":  dest.Table(),
	})
	s.sink = dest
	s.ownedSink = dest
	return nil
}

func (s *Service) warnAboutDelivery(factory transportpkg.Factory) {
	caps := factory.Capabilities(s.Conf)
	s.capabilities = caps
	if caps.Name != "" && !caps.PreservesRowOrder() {
		s.Logger.Info("WARNING: transport does not guarantee ordered delivery; changes to the same row may be applied out of order", loggingpkg.LogFields{
			"pubsub_system": s.Conf.PubSubSystem,
		})
	}
	if s.Conf.EphemeralConsumerGroup() {
		s.Logger.Info("WARNING: no consumer group configured; using a fresh group, the topic is re-read from the initial offset on every start", loggingpkg.LogFields{
			"consumer_group": s.Conf.KafkaConsumerGroup,
		})
	}
}

func (s *Service) build(deps ServiceDependencies) error {
	if s.Conf.DeadLetterTopic != "" {
		dl, err := deadletter.New(s.publisher, s.Conf.DeadLetterTopic)
		if err != nil {
			return fmt.Errorf("dead letter: %w", err)
		}
		s.deadLetter = dl
	}

	s.stats = NewConsumerStats()
	driver, err := NewDriver(DriverConfig{
		Sink:       s.sink,
		Observer:   latency.NewObserver(s.recorder),
		DeadLetter: s.deadLetter,
		Recorder:   s.recorder,
		Logger:     s.Logger,
		Retry: RetryPolicy{
			MaxRetries:      s.Conf.RetryMaxRetries,
			InitialInterval: s.Conf.RetryInitialInterval,
			MaxInterval:     s.Conf.RetryMaxInterval,
		},
		Hooks: s.stats.Hooks().Merge(deps.Hooks),
	})
	if err != nil {
		return err
	}
	s.driver = driver

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return err
	}
	s.router.AddNoPublisherHandler(HandlerName, s.Conf.Topic, s.subscriber, s.driver.Handle)

	if s.Conf.MetricsEnabled && s.Conf.MetricsPort > 0 {
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}))
		s.RegisterHTTPHandler(s.Conf.MetricsPort, StatusPath, http.HandlerFunc(s.handleStatus))
	}
	return nil
}

// Start serves the HTTP endpoints and runs the router until ctx is cancelled,
// a shutdown signal arrives, or the transport fails. Resources are released
// before Start returns.
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.router == nil {
		return errspkg.ErrServiceNotRunnable
	}
	s.startHTTPServers()
	runErr := routerRun(s.router, ctx)
	closeErr := s.Close()
	if runErr != nil {
		return &TransportError{PubSubSystem: s.Conf.PubSubSystem, Err: runErr}
	}
	return closeErr
}

// Running is closed once the router has started its handlers.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Driver returns the message Driver.
func (s *Service) Driver() *Driver {
	return s.driver
}

// Stats returns the aggregated Driver outcomes.
func (s *Service) Stats() *ConsumerStats {
	return s.stats
}

// Registry returns the Prometheus registry holding the service collectors.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Metrics returns the cdcsync recorder.
func (s *Service) Metrics() *metricspkg.Prometheus {
	return s.recorder
}

// Publisher returns the transport publisher, for example to publish test envelopes.
func (s *Service) Publisher() message.Publisher {
	return s.publisher
}

// Close stops the router, then releases the transport, the destination pool
// and the HTTP servers. Safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.routerStarted() {
			if err := s.router.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close router: %w", err))
			}
		}
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		if err := s.closeSink(); err != nil {
			errs = append(errs, fmt.Errorf("close destination: %w", err))
		}
		if err := s.stopHTTPServers(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// routerStarted reports whether Run brought the router up. Closing a router
// that never ran blocks for the whole CloseTimeout.
func (s *Service) routerStarted() bool {
	if s.router == nil {
		return false
	}
	select {
	case <-s.router.Running():
		return true
	default:
		return false
	}
}

func (s *Service) closeSink() error {
	if s.ownedSink == nil {
		return nil
	}
	return s.ownedSink.Close()
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// RegisterHTTPHandler mounts handler on the server for port. Servers start with Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.runningHTTP = append(s.runningHTTP, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

func (s *Service) stopHTTPServers() error {
	s.httpServersMu.Lock()
	servers := s.runningHTTP
	s.runningHTTP = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
