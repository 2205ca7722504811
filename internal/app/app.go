// Package app wires all Centralino subsystems into a running server.
//
// New builds and connects every subsystem from the configuration; Run serves
// the Twilio webhook, the media-stream websocket, and the operational
// endpoints until the context is cancelled; Shutdown tears the subsystems
// down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithTranscriber, etc.). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/trattoria-labs/centralino/internal/call"
	"github.com/trattoria-labs/centralino/internal/config"
	"github.com/trattoria-labs/centralino/internal/extract"
	"github.com/trattoria-labs/centralino/internal/health"
	"github.com/trattoria-labs/centralino/internal/menu"
	"github.com/trattoria-labs/centralino/internal/notify"
	"github.com/trattoria-labs/centralino/internal/observe"
	"github.com/trattoria-labs/centralino/internal/order"
	"github.com/trattoria-labs/centralino/internal/realtime"
	"github.com/trattoria-labs/centralino/internal/telephony"
	"github.com/trattoria-labs/centralino/internal/transcribe"
)

// shutdownGrace is the time in-flight requests and live calls get to finish
// after the serve context is cancelled.
const shutdownGrace = 15 * time.Second

// conversationPolicy is appended to the operator's instructions so the
// assistant uses the exact formulations the live session listens for.
const conversationPolicy = `When the caller asks to speak with a human or a manager, say exactly: "I'll connect you with our manager now. Please hold the line."
When the conversation is over, always end with a farewell sentence that contains the word "Goodbye".`

// App owns all subsystem lifetimes.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	catalog     *menu.Catalog
	store       order.Store
	rtClient    *realtime.Client
	transcriber transcribe.Transcriber
	extractor   *extract.Extractor
	notifier    *notify.Notifier
	redirector  call.Redirector
	metrics     *observe.Metrics
	health      *health.Handler

	instructions string
	greeting     string

	// serveCtx is the context live call sessions run under; set by Run.
	serveCtx context.Context
	calls    sync.WaitGroup

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an order store instead of connecting to PostgreSQL.
func WithStore(s order.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTranscriber injects a transcriber instead of building one from config.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithRedirector injects a call redirector instead of the Twilio REST client.
func WithRedirector(r call.Redirector) Option {
	return func(a *App) { a.redirector = r }
}

// WithNotifier injects a notifier instead of one backed by the Twilio REST client.
func WithNotifier(n *notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the application from cfg. The config must already be validated.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
	}
	for _, o := range opts {
		o(a)
	}

	catalog, err := menu.Load(cfg.Restaurant.MenuPath)
	if err != nil {
		return nil, fmt.Errorf("app: load menu: %w", err)
	}
	a.catalog = catalog

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initTranscriber(); err != nil {
		return nil, fmt.Errorf("app: init transcriber: %w", err)
	}
	if err := a.initExtractor(); err != nil {
		return nil, fmt.Errorf("app: init extractor: %w", err)
	}
	a.initTelephony()
	a.initRealtime()

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.health = health.New(a.probes()...)

	a.instructions = buildInstructions(cfg.Restaurant.Instructions, catalog)
	a.greeting = cfg.Restaurant.Greeting
	if a.greeting == "" {
		a.greeting = fmt.Sprintf(
			"Hello there! Thank you for calling %s, I am your friendly virtual assistant here to take your order or to answer your questions. If at any point you would like to speak with our manager, simply press 0 or say connect me to the manager. What can I do for you today?",
			cfg.Restaurant.Name)
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	store, err := order.NewPostgresStore(ctx, a.cfg.Store.PostgresDSN, a.cfg.Location())
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) initTranscriber() error {
	if a.transcriber != nil {
		return nil
	}
	switch a.cfg.Transcribe.Kind {
	case config.TranscriberWhisperServer:
		t, err := transcribe.NewWhisperServer(a.cfg.Transcribe.BaseURL)
		if err != nil {
			return err
		}
		a.transcriber = t
	default:
		t, err := transcribe.NewOpenAI(a.cfg.Realtime.APIKey)
		if err != nil {
			return err
		}
		a.transcriber = t
	}
	return nil
}

func (a *App) initExtractor() error {
	locations := make([]string, 0, len(a.cfg.Restaurant.Locations))
	for name := range a.cfg.Restaurant.Locations {
		locations = append(locations, name)
	}
	e, err := extract.New(a.cfg.Realtime.APIKey, a.catalog,
		locations, a.cfg.Restaurant.DefaultLocation, a.cfg.Location())
	if err != nil {
		return err
	}
	a.extractor = e
	return nil
}

func (a *App) initTelephony() {
	var opts []telephony.RestOption
	if a.cfg.Twilio.BaseURL != "" {
		opts = append(opts, telephony.WithRestBaseURL(a.cfg.Twilio.BaseURL))
	}
	rest := telephony.NewRestClient(
		a.cfg.Twilio.AccountSID, a.cfg.Twilio.AuthToken,
		a.cfg.Twilio.MessagingServiceSID, opts...)

	if a.redirector == nil {
		a.redirector = rest
	}
	if a.notifier == nil {
		a.notifier = notify.New(rest, a.cfg.Twilio.ManagerNumber, a.cfg.Restaurant.Locations)
	}
}

func (a *App) initRealtime() {
	var opts []realtime.Option
	if a.cfg.Realtime.Model != "" {
		opts = append(opts, realtime.WithModel(a.cfg.Realtime.Model))
	}
	if a.cfg.Realtime.BaseURL != "" {
		opts = append(opts, realtime.WithBaseURL(a.cfg.Realtime.BaseURL))
	}
	a.rtClient = realtime.NewClient(a.cfg.Realtime.APIKey, opts...)
}

// probes builds the readiness probe list from whatever the wired store
// supports. An injected in-memory store has nothing to probe.
func (a *App) probes() []health.Probe {
	var probes []health.Probe
	if p, ok := a.store.(interface {
		Ping(ctx context.Context) error
	}); ok {
		probes = append(probes, health.Probe{Name: "postgres", Check: p.Ping})
	}
	return probes
}

// buildInstructions composes the assistant's system instructions: operator
// policy, then the rendered menu, then the fixed conversation phrasing.
func buildInstructions(operator string, catalog *menu.Catalog) string {
	parts := []string{}
	if operator = strings.TrimSpace(operator); operator != "" {
		parts = append(parts, operator)
	}
	parts = append(parts, catalog.InstructionText(), conversationPolicy)
	return strings.Join(parts, "\n\n")
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled, then drains in-flight calls and returns.
func (a *App) Run(ctx context.Context) error {
	a.serveCtx = ctx

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Warn("http shutdown error", "error", err)
			srv.Close()
		}
		// Media-stream connections are hijacked, so the HTTP shutdown does
		// not cover them; sessions observe the serve context instead.
		a.calls.Wait()
		return nil
	})

	a.logger.Info("server listening",
		"addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// Routes builds the HTTP mux: the Twilio webhook, the media-stream
// websocket, the health probes, and the metrics scrape endpoint.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/incoming-call", telephony.IncomingCallHandler(a.cfg.Server.PublicHost, a.logger))
	mux.HandleFunc("GET /media-stream", a.handleMediaStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return mux
}

// handleMediaStream runs one call session on the incoming websocket. The
// handler blocks for the life of the call; each call is fully isolated.
func (a *App) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	leg, err := telephony.Accept(w, r, a.logger)
	if err != nil {
		a.logger.Warn("media-stream accept failed", "error", err)
		return
	}

	ctx := a.serveCtx
	if ctx == nil {
		ctx = r.Context()
	}

	a.calls.Add(1)
	defer a.calls.Done()

	deps := call.Deps{
		Logger:      a.logger,
		Realtime:    a.rtClient,
		Transcriber: a.transcriber,
		Extractor:   a.extractor,
		Store:       a.store,
		Notifier:    a.notifier,
		Redirector:  a.redirector,
		Metrics:     a.metrics,
	}
	params := call.Params{
		Voice:         a.cfg.Realtime.Voice,
		Instructions:  a.instructions,
		Greeting:      a.greeting,
		CallerID:      a.cfg.Twilio.PhoneNumber,
		ManagerNumber: a.cfg.Twilio.ManagerNumber,
		Location:      a.cfg.Location(),
		Timing:        a.cfg.Call,
	}
	if err := call.Run(ctx, deps, params, leg); err != nil {
		a.logger.Error("call session failed", "error", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down the subsystems in order. It respects the context
// deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}
	})
	return shutdownErr
}
