// Package controlserver runs the process that owns one device: a commanding
// endpoint for JSON-RPC calls, a service endpoint for process control and a
// monitoring endpoint streaming housekeeping.
package controlserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"

	"github.com/SaraRegibo/cgse/internal/audit"
	"github.com/SaraRegibo/cgse/internal/auth"
	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/proxy"
	"github.com/SaraRegibo/cgse/internal/registry"
	"github.com/SaraRegibo/cgse/internal/storage"
	"github.com/SaraRegibo/cgse/internal/telemetry"
)

// Options carry the optional collaborators of a Server.
type Options struct {
	// Registry receives the service registration; nil skips registration.
	Registry registry.Registry
	// Store keeps housekeeping samples; nil skips storage.
	Store *storage.Store
	Audit *audit.Logger
	// Verifier enables bearer authentication on the commanding endpoint.
	Verifier *auth.Verifier
	// Hub is created when nil and stopped with the server.
	Hub    *telemetry.Hub
	Logger *slog.Logger
}

// Status is reported on the service and monitoring endpoints.
type Status struct {
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	DeviceID       string    `json:"device_id"`
	Mode           string    `json:"mode"`
	Connected      bool      `json:"connected"`
	Hostname       string    `json:"hostname"`
	CommandingPort int       `json:"commanding_port"`
	ServicePort    int       `json:"service_port"`
	MonitoringPort int       `json:"monitoring_port"`
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSec      float64   `json:"uptime"`
}

// Modes reported in Status.
const (
	ModeSimulator = "simulator"
	ModeDevice    = "device"
)

// Server is the control server of one device.
type Server struct {
	deviceID string
	settings config.ControlServerSettings
	protocol Protocol

	runner     *Runner
	dispatcher *commands.Dispatcher
	hub        *telemetry.Hub
	ownHub     bool
	reg        registry.Registry
	store      *storage.Store
	authMW     *auth.Middleware
	logger     *slog.Logger

	started  time.Time
	ready    chan struct{}
	quit     chan struct{}
	quitOnce sync.Once

	mu         sync.Mutex
	commanding net.Listener
	service    net.Listener
	monitoring net.Listener
	serviceID  string
}

// New prepares a control server for p. Serve starts it.
func New(deviceID string, settings config.ControlServerSettings, p Protocol, opts Options) *Server {
	if settings.ServiceType == "" {
		settings.ServiceType = p.ServiceType()
	}
	if settings.ProcessName == "" {
		settings.ProcessName = settings.ServiceType
	}
	if settings.StorageMnemonic == "" {
		settings.StorageMnemonic = deviceID
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "controlserver", "device_id", deviceID)

	hub := opts.Hub
	ownHub := hub == nil
	if ownHub {
		hub = telemetry.NewHub(telemetry.DefaultOptions())
	}

	runner := NewRunner(deviceID, settings.CommandTimeoutDuration(), opts.Audit, hub, logger)
	reg := commands.NewRegistry()
	reg.Register(commands.PingHandler())
	reg.Register(p.Handlers()...)

	s := &Server{
		deviceID:   deviceID,
		settings:   settings,
		protocol:   p,
		runner:     runner,
		dispatcher: commands.NewDispatcher(reg, runner.Invoke, logger),
		hub:        hub,
		ownHub:     ownHub,
		reg:        opts.Registry,
		store:      opts.Store,
		logger:     logger,
		started:    time.Now(),
		ready:      make(chan struct{}),
		quit:       make(chan struct{}),
	}
	if opts.Verifier != nil {
		s.authMW = auth.NewMiddleware(opts.Verifier)
		runner.RequireAuth(true)
	}
	return s
}

// Ready is closed once the three endpoints are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Quit asks Serve to return. It is safe to call more than once.
func (s *Server) Quit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Endpoint returns the address of the running server.
func (s *Server) Endpoint() proxy.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return proxy.Endpoint{
		DeviceID:       s.deviceID,
		Protocol:       s.settings.Protocol,
		Host:           s.settings.Hostname,
		Port:           listenerPort(s.commanding),
		ServicePort:    listenerPort(s.service),
		MonitoringPort: listenerPort(s.monitoring),
		Timeout:        proxy.DefaultTimeout,
	}
}

// Status describes the server and the device connection.
func (s *Server) Status() Status {
	ep := s.Endpoint()
	mode := ModeDevice
	if s.protocol.Device().IsSimulator() {
		mode = ModeSimulator
	}
	return Status{
		Name:           s.settings.ProcessName,
		Type:           s.settings.ServiceType,
		DeviceID:       s.deviceID,
		Mode:           mode,
		Connected:      s.runner.Connected(),
		Hostname:       ep.Host,
		CommandingPort: ep.Port,
		ServicePort:    ep.ServicePort,
		MonitoringPort: ep.MonitoringPort,
		PID:            os.Getpid(),
		StartedAt:      s.started.UTC(),
		UptimeSec:      time.Since(s.started).Seconds(),
	}
}

// Serve binds the endpoints, registers the service and publishes
// housekeeping until ctx is cancelled or quit_server is received. The
// registration is removed and everything is closed before it returns.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.listen(); err != nil {
		return err
	}
	s.runner.SetConnected(s.protocol.Device().IsConnected(ctx))

	cmdSrv := &http.Server{
		Handler:      s.commandingRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.settings.CommandTimeoutDuration() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	monSrv := &http.Server{
		Handler:           s.monitoringRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	svc := newServiceServer(s.service, s.settings.AllowedCIDRs, s.serviceMethods(), s.logger)

	errCh := make(chan error, 2)
	go func() {
		if err := cmdSrv.Serve(s.commanding); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("commanding endpoint: %w", err)
		}
	}()
	go func() {
		if err := monSrv.Serve(s.monitoring); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("monitoring endpoint: %w", err)
		}
	}()
	svcDone := make(chan struct{})
	go func() {
		svc.serve(ctx)
		close(svcDone)
	}()

	if err := s.register(ctx); err != nil {
		s.logger.Warn("service registration failed, clients need a fixed commanding port", "error", err)
	}

	status := s.Status()
	s.logger.Info("control server started",
		"commanding_port", status.CommandingPort,
		"service_port", status.ServicePort,
		"monitoring_port", status.MonitoringPort,
		"mode", status.Mode)
	s.hub.Publish(telemetry.Event{
		Type:   telemetry.TypeReady,
		Device: s.deviceID,
		Data:   map[string]interface{}{"device": s.deviceID, "mode": status.Mode},
	})
	close(s.ready)

	hkCtx, hkCancel := context.WithCancel(ctx)
	hkDone := make(chan struct{})
	go func() {
		s.housekeepingLoop(hkCtx)
		close(hkDone)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, stopping control server")
	case <-s.quit:
		s.logger.Info("quit_server received, stopping control server")
	case serveErr = <-errCh:
		s.logger.Error("endpoint failed, stopping control server", "error", serveErr)
	}

	hkCancel()
	<-hkDone

	err := multierr.Append(serveErr, s.deregister())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.ownHub {
		s.hub.Stop()
	}
	if cerr := cmdSrv.Shutdown(shutdownCtx); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("shutdown commanding endpoint: %w", cerr))
	}
	if cerr := monSrv.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close monitoring endpoint: %w", cerr))
	}
	err = multierr.Append(err, svc.close())
	<-svcDone

	if derr := s.protocol.Device().Disconnect(); derr != nil {
		err = multierr.Append(err, fmt.Errorf("disconnect device: %w", derr))
	}
	s.logger.Info("control server stopped")
	return err
}

func (s *Server) listen() error {
	bind := func(port int) (net.Listener, error) {
		return net.Listen("tcp", net.JoinHostPort(s.settings.Hostname, strconv.Itoa(port)))
	}

	commanding, err := bind(s.settings.CommandingPort)
	if err != nil {
		return fmt.Errorf("failed to bind commanding port: %w", err)
	}
	service, err := bind(s.settings.ServicePort)
	if err != nil {
		commanding.Close()
		return fmt.Errorf("failed to bind service port: %w", err)
	}
	monitoring, err := bind(s.settings.MonitoringPort)
	if err != nil {
		commanding.Close()
		service.Close()
		return fmt.Errorf("failed to bind monitoring port: %w", err)
	}

	s.mu.Lock()
	s.commanding, s.service, s.monitoring = commanding, service, monitoring
	s.mu.Unlock()
	return nil
}

func listenerPort(l net.Listener) int {
	if l == nil {
		return 0
	}
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *Server) register(ctx context.Context) error {
	if s.reg == nil {
		return nil
	}
	ep := s.Endpoint()
	id, err := s.reg.Register(ctx, registry.Service{
		Name:     s.settings.ProcessName,
		Type:     s.settings.ServiceType,
		Protocol: s.settings.Protocol,
		Host:     ep.Host,
		Port:     ep.Port,
		Metadata: map[string]string{
			registry.MetaServicePort:    strconv.Itoa(ep.ServicePort),
			registry.MetaMonitoringPort: strconv.Itoa(ep.MonitoringPort),
			registry.MetaDeviceID:       s.deviceID,
		},
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.serviceID = id
	s.mu.Unlock()
	return nil
}

func (s *Server) deregister() error {
	s.mu.Lock()
	id := s.serviceID
	s.serviceID = ""
	s.mu.Unlock()
	if s.reg == nil || id == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.reg.Deregister(ctx, id); err != nil {
		return fmt.Errorf("deregister %s: %w", s.settings.ServiceType, err)
	}
	return nil
}

func (s *Server) housekeepingLoop(ctx context.Context) {
	interval := s.settings.HKDelayDuration()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectHousekeeping(ctx)
		}
	}
}

func (s *Server) collectHousekeeping(ctx context.Context) {
	hkCtx, cancel := context.WithTimeout(ctx, s.runner.timeout)
	hk := s.protocol.Housekeeping(hkCtx)
	cancel()

	s.hub.Publish(telemetry.Event{Type: telemetry.TypeHousekeeping, Device: s.deviceID, Data: hk})

	if s.store == nil {
		return
	}
	rec := storage.Record{Origin: s.settings.StorageMnemonic, Timestamp: time.Now().UTC(), Data: hk}
	if err := s.store.Save(ctx, rec); err != nil && ctx.Err() == nil {
		s.logger.Warn("could not store housekeeping", "origin", rec.Origin, "error", err)
	}
}

func (s *Server) commandingRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(s.logger))
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.authMW != nil {
			r.Use(s.authMW.RequireAuth)
		}
		r.Handle(commands.Path, s.dispatcher)
		r.Get("/commands", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.dispatcher.Registry().Info())
		})
	})
	return r
}

func (s *Server) monitoringRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(s.logger))

	r.Get(proxy.MonitoringPath, func(w http.ResponseWriter, r *http.Request) {
		if err := s.hub.Subscribe(r.Context(), w, r); err != nil {
			s.logger.Debug("monitoring client ended", "error", err)
		}
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})
	return r
}

// IsActive reports whether a control server answers ping on its commanding
// endpoint within timeout.
func IsActive(ctx context.Context, ep proxy.Endpoint, timeout time.Duration) bool {
	if ep.Port == 0 {
		return false
	}
	ep.Timeout = timeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return proxy.NewClient(ep).Ping(ctx) == nil
}
