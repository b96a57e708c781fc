// Package server exposes the chat orchestrator over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportrelay/pkg/chat"
	"github.com/papercomputeco/supportrelay/pkg/completion"
	"github.com/papercomputeco/supportrelay/pkg/llm"
	"github.com/papercomputeco/supportrelay/pkg/session"
)

// Server is the HTTP front of the relay. The same fiber app backs both the
// long-running listener and the net/http handler used for function-style
// deployments.
type Server struct {
	config       Config
	store        session.Store
	orchestrator *chat.Orchestrator
	logger       *zap.Logger
	app          *fiber.App
}

// New creates a Server with the store backend and OpenAI completer named in config.
func New(config Config, logger *zap.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var store session.Store
	switch config.Store {
	case StoreSQLite:
		s, err := session.NewSQLiteStore(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		store = s
		logger.Info("using in-memory SQLite session store")
	default:
		store = session.NewMemoryStore()
		logger.Info("using in-memory session store")
	}

	completer, err := completion.NewOpenAICompleter(completion.OpenAIConfig{
		APIKey:  config.APIKey,
		BaseURL: config.BaseURL,
		Options: config.Options,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create completer: %w", err)
	}

	return NewWithDeps(config, store, completion.NewTracingCompleter(completer), logger), nil
}

// NewWithDeps creates a Server around an existing store and completer.
func NewWithDeps(config Config, store session.Store, completer completion.Completer, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		store:  store,
		orchestrator: chat.NewOrchestrator(chat.Config{
			Model:   config.Model,
			Timeout: config.UpstreamTimeout,
		}, store, completer, logger),
		logger: logger,
		app:    app,
	}

	app.Use(recover.New())
	app.Use(s.corsMiddleware())

	app.Post("/api/chat", s.handleChat)
	app.All("/api/chat", s.handleMethodNotAllowed)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	app.Get("/api/stats", s.handleStats)

	return s
}

// Handler returns the app as a net/http handler.
func (s *Server) Handler() http.HandlerFunc {
	return adaptor.FiberApp(s.app)
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting relay server",
		zap.String("listen", s.config.ListenAddr),
		zap.String("model", s.config.Model),
		zap.String("cors_origin", s.config.CORSOrigin),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener serves on an existing listener.
func (s *Server) RunWithListener(ln net.Listener) error {
	s.logger.Info("starting relay server",
		zap.String("listen", ln.Addr().String()),
		zap.String("model", s.config.Model),
	)
	return s.app.Listener(ln)
}

// ShutdownWithContext stops accepting connections and waits for in-flight
// requests until ctx is done.
func (s *Server) ShutdownWithContext(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// Close releases the session store.
func (s *Server) Close() error {
	return s.store.Close()
}

func (s *Server) corsMiddleware() fiber.Handler {
	origin := s.config.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	return cors.New(cors.Config{
		AllowOrigins: origin,
		AllowMethods: "GET,POST",
		// Credentials cannot be combined with a wildcard origin.
		AllowCredentials: origin != "*",
	})
}

// handleChat runs one chat turn. An empty body is treated as a request
// without a message.
func (s *Server) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()

	var req llm.ChatRequest
	if body := bytes.TrimSpace(c.Body()); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.logger.Debug("failed to parse request", zap.Error(err))
			return s.writeError(c, &chat.ValidationError{Field: "body", Reason: "invalid request body"})
		}
	}

	result, err := s.orchestrator.HandleTurn(c.UserContext(), req.SessionID, req.Text())
	if err != nil {
		return s.writeError(c, err)
	}

	s.logger.Info("chat turn completed",
		zap.String("session_id", result.SessionID),
		zap.Int("history_length", len(result.History)),
		zap.Duration("duration", time.Since(startTime)),
	)

	return c.JSON(llm.ChatResponse{
		Message:   result.Message,
		History:   result.History,
		SessionID: result.SessionID,
	})
}

func (s *Server) handleMethodNotAllowed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAllow, fiber.MethodPost)
	return c.Status(fiber.StatusMethodNotAllowed).JSON(llm.ErrorResponse{Error: "Method not allowed"})
}

// handleStats reports how many sessions the store holds.
func (s *Server) handleStats(c *fiber.Ctx) error {
	n, err := s.store.Sessions(c.UserContext())
	if err != nil {
		s.logger.Error("failed to count sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to count sessions"})
	}
	return c.JSON(map[string]int{"sessions": n})
}
