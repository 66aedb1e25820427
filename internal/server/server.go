// Package server exposes the keepalive endpoint, the Telegram webhook and
// operational views over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	tb "gopkg.in/tucnak/telebot.v2"

	"liqwatch/config"
	"liqwatch/internal/metrics"
	"liqwatch/internal/notifier"
	"liqwatch/logger"
)

// Replier answers a chat command.
type Replier interface {
	Reply(ctx context.Context, chatID, threadID int64, msg notifier.Message) error
}

// Deps are the collaborators the routes call into. Any of them may be nil.
type Deps struct {
	Replier Replier
	// Status renders the /status reply.
	Status func() string
	// Metrics serves the Prometheus exposition.
	Metrics http.Handler
}

// Server hosts the Gin router for liqwatch.
type Server struct {
	cfg           config.ServerConfig
	log           *logger.Log
	deps          Deps
	counters      *counterStore
	failures      *failureLog
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
}

func NewServer(cfg config.ServerConfig, log *logger.Log, deps Deps) *Server {
	cfg.Address = normalizeAddress(cfg.Address)

	counters := newCounterStore()
	handlerID := metrics.RegisterMetricHandler(counters.handle)

	failures := newFailureLog(100)
	log.AddHook(failures)

	return &Server{
		cfg:           cfg,
		log:           log,
		deps:          deps,
		counters:      counters,
		failures:      failures,
		metricHandler: handlerID,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("http_server").WithField("address", s.cfg.Address).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.failures != nil {
		s.failures.close()
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	if s.cfg.Webhook {
		router.POST("/webhook", s.handleWebhook)
	}

	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	router.GET("/api/counters", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sources": s.counters.snapshot()})
	})

	router.GET("/api/failures", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"failures": s.failures.snapshot()})
	})

	return router, nil
}

func (s *Server) handleWebhook(c *gin.Context) {
	log := s.log.WithComponent("webhook")

	var update tb.Update
	if err := json.NewDecoder(c.Request.Body).Decode(&update); err != nil {
		log.WithError(err).Warn("failed to decode telegram update")
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	if err := s.processUpdate(c.Request.Context(), &update); err != nil {
		log.WithError(err).WithField("update_id", update.ID).Error("failed to process telegram update")
		c.String(http.StatusBadRequest, "error")
		return
	}
	c.String(http.StatusOK, "ok")
}

// statusText joins the app status with per-source counters and the latest
// failure.
func (s *Server) statusText() string {
	parts := []string{"✅ liqwatch is running."}
	if s.deps.Status != nil {
		parts[0] = s.deps.Status()
	}
	if counters := s.counters.summary(); counters != "" {
		parts = append(parts, counters)
	}
	if f, ok := s.failures.last(); ok {
		line := fmt.Sprintf("Last failure: %s %s: %s", f.Timestamp.UTC().Format("2006-01-02 15:04 MST"), f.Component, f.Message)
		if f.Error != "" {
			line += " (" + f.Error + ")"
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n\n")
}

// processUpdate answers /start and /status. Everything else is ignored.
func (s *Server) processUpdate(ctx context.Context, update *tb.Update) error {
	m := update.Message
	if m == nil || m.Chat == nil {
		return nil
	}

	var reply string
	switch command(m.Text) {
	case "/start":
		reply = "👋 liqwatch is running. Large liquidations will be posted here. Send /status for details."
	case "/status":
		reply = s.statusText()
	default:
		return nil
	}

	if s.deps.Replier == nil {
		return fmt.Errorf("no replier configured")
	}
	if err := s.deps.Replier.Reply(ctx, m.Chat.ID, 0, notifier.Message{Text: reply}); err != nil {
		return fmt.Errorf("reply to %s: %w", command(m.Text), err)
	}
	return nil
}

// command extracts "/cmd" from "/cmd@botname args".
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
