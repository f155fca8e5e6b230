// Package pharmachat wires the pharmaceutical Q&A agent into an HTTP server:
// configuration, the completion client, the data-source tools, the
// conversation store and the HTTP API.
package pharmachat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"pharmachat/agent"
	"pharmachat/handlers"
	"pharmachat/hooks"
	"pharmachat/llm"
	"pharmachat/metrics"
	"pharmachat/tokens"
	"pharmachat/tools"
	"pharmachat/tracing"
	"pharmachat/web"
)

const shutdownTimeout = 10 * time.Second

// Server owns the agent and everything it depends on. Create one with
// NewServer, then call Start.
type Server struct {
	cfg    *AppConfig
	logger *slog.Logger

	agent   *agent.Agent
	model   string
	store   *agent.ConversationStore
	metrics *metrics.Collector
	issuer  *TokenIssuer
	handler http.Handler

	closers []func(context.Context) error
	srv     *http.Server
}

type serverOptions struct {
	client    llm.Client
	model     string
	graph     tools.GraphRunner
	reportsFs afero.Fs
	extract   tools.PageExtractor
}

// Option configures a Server.
type Option func(*serverOptions)

// WithLLMClient uses client instead of resolving one from the config.
func WithLLMClient(client llm.Client, model string) Option {
	return func(o *serverOptions) {
		o.client = client
		o.model = model
	}
}

// WithGraphRunner uses runner instead of connecting to Neo4j.
func WithGraphRunner(runner tools.GraphRunner) Option {
	return func(o *serverOptions) { o.graph = runner }
}

// WithReportsFs reads reports from fs instead of the host filesystem.
func WithReportsFs(fs afero.Fs) Option {
	return func(o *serverOptions) { o.reportsFs = fs }
}

// WithPageExtractor replaces the PDF text extractor.
func WithPageExtractor(fn tools.PageExtractor) Option {
	return func(o *serverOptions) { o.extract = fn }
}

// NewServer validates cfg and builds the agent. It connects to Neo4j when
// a URI is configured, so ctx bounds startup.
func NewServer(ctx context.Context, cfg *AppConfig, logger *slog.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	client, model := o.client, o.model
	if client == nil {
		var err error
		client, model, err = llm.Resolve(ctx, cfg.LLM.ProviderConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create completion client: %w", err)
		}
	}
	s.model = model
	counter := tokens.NewCounter(model)

	graph := o.graph
	if graph == nil && cfg.Neo4j.URI != "" {
		runner, err := tools.NewNeo4jRunner(ctx, cfg.Neo4j, logger.With("component", "neo4j"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, runner.Close)
		graph = runner
	}
	deps := tools.Deps{
		Graph:      graph,
		FDA:        cfg.OpenFDA,
		ReportsFs:  o.reportsFs,
		ReportsDir: cfg.Reports.Dir,
		Extract:    o.extract,
		Counter:    counter,
		Logger:     logger,
	}
	if graph != nil {
		deps.Generator = tools.NewLLMQueryGenerator(client, model)
	}
	registry, err := tools.NewRegistry(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build tools: %w", err)
	}

	bus := handlers.NewEventBus()
	s.store = agent.NewConversationStore(
		agent.WithSessionTTL(cfg.Agent.SessionTTL),
		agent.WithSessionListener(bus.Publish),
	)
	s.metrics = metrics.New()
	s.metrics.TrackSessions(s.store.Len)

	chain := []agent.Hook{
		tracing.NewHook(),
		s.metrics.Hook(),
		hooks.NewLogging(logger),
		hooks.NewOutputBudget(cfg.Agent.ToolOutputTokens, counter),
	}
	s.agent = agent.NewAgent(agent.Config{
		Step: agent.StepConfig{
			SystemPrompt: cfg.Agent.SystemPrompt,
			Model:        model,
			Temperature:  cfg.LLM.Temperature,
			MaxTokens:    cfg.LLM.MaxTokens,
		},
		MaxIterations: cfg.Agent.MaxIterations,
		Parallelism:   cfg.Agent.ParallelTools,
	}, client, registry, s.store, chain, agent.WithObserver(s.metrics))

	if cfg.Auth.JWTSecret != "" {
		s.issuer, err = NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, &handlers.Deps{
		Agent:   s.agent,
		Model:   model,
		Traces:  tracing.NewStore(tracing.DefaultStoreSize),
		Events:  bus,
		Metrics: s.metrics.Handler(),
		UI:      web.Handler(),
		Logger:  logger,
	})
	s.handler = corsMiddleware(authMiddleware(s.issuer, mux))

	logger.Info("agent ready",
		"model", model,
		"tools", registry.Names(),
		"max_iterations", cfg.Agent.MaxIterations,
		"auth", s.issuer != nil,
	)
	ok = true
	return s, nil
}

// Agent returns the agent shared by every transport.
func (s *Server) Agent() *agent.Agent { return s.agent }

// Model returns the effective model name.
func (s *Server) Model() string { return s.model }

// Handler returns the HTTP handler with CORS and auth applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disable for SSE
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("pharmachat starting", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the store and the graph connection.
func (s *Server) Close() error {
	if s.store != nil {
		s.store.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
