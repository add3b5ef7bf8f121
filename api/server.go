// Package api exposes the assistant, meal planning and shopping lists over
// HTTP, and receives the Telegram and LINE webhooks.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"souschef"
	"souschef/assistant"
	"souschef/mealgen"
	"souschef/shopping"
	"souschef/storage"
	"souschef/store"
	"souschef/tools"
)

// UserHeader identifies the calling user. Authentication happens upstream.
const UserHeader = "X-User-ID"

type Assistant interface {
	Respond(ctx context.Context, req assistant.ChatRequest) (assistant.Reply, error)
}

type Users interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	UserByChannel(ctx context.Context, channel, externalID string) (*store.User, error)
	GetPlan(ctx context.Context, id string) (*store.MealPlan, error)
}

// LineReplier answers LINE webhook events.
type LineReplier interface {
	Reply(ctx context.Context, replyToken, userID, text string) error
}

type Deps struct {
	Users     Users
	Assistant Assistant
	Planner   tools.Planner
	Shopping  tools.ShoppingLists
	// Exports receives shopping lists requested with ?export=true. Optional.
	Exports  storage.Writer
	Telegram souschef.Messenger
	Line     LineReplier
	Channels souschef.ChannelConfig
	Metrics  *Metrics
	Now      func() time.Time
}

type Server struct {
	deps   Deps
	router *gin.Engine
}

func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), deps.Metrics.HTTPMiddleware())

	s := &Server{deps: deps, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	v1 := s.router.Group("/api", s.requireUser)
	{
		v1.POST("/assistant/chat", s.Chat)
		v1.POST("/meal-plans/generate", s.GeneratePlan)
		v1.POST("/meal-plans/:id/replace", s.ReplaceMeal)
		v1.GET("/meal-plans/:id/shopping-list", s.ShoppingList)
	}

	hooks := s.router.Group("/webhooks")
	{
		hooks.POST("/telegram", s.TelegramWebhook)
		hooks.POST("/line", s.LineWebhook)
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API: Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("API: Shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("API: Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

const userKey = "user"

func (s *Server) requireUser(c *gin.Context) {
	id := c.GetHeader(UserHeader)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": UserHeader + " header is required"})
		return
	}
	u, err := s.deps.Users.GetUser(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Set(userKey, u)
	c.Next()
}

func currentUser(c *gin.Context) *store.User {
	u, _ := c.MustGet(userKey).(*store.User)
	return u
}

// abort maps domain errors to HTTP statuses.
func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, assistant.ErrEmptyMessage),
		errors.Is(err, tools.ErrInvalidInput),
		errors.Is(err, mealgen.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, mealgen.ErrPlanNotOwned), errors.Is(err, shopping.ErrPlanNotOwned):
		status = http.StatusForbidden
	case errors.Is(err, mealgen.ErrAttemptsExhausted):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		slog.Error("API: Request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
