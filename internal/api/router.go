// Package api exposes the audit engine's write path over HTTP: a free-form
// log ingest endpoint and a health check. There is deliberately no query
// surface; reading historical audit data is out of scope for the engine.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/change-ledger/change-ledger/internal/actor"
	"github.com/change-ledger/change-ledger/internal/recorder"
	"github.com/change-ledger/change-ledger/internal/telemetry"
)

type ctxKey string

const (
	userIDKey   ctxKey = "audit.user_id"
	clientIPKey ctxKey = "audit.client_ip"
)

// NewActorResolver returns a Resolver that reads the identity the actorContext
// middleware stashed into the request context. Requests without an
// X-Audit-User header resolve to an empty (unknown) principal.
func NewActorResolver() *actor.Resolver {
	return actor.NewResolver(
		func(ctx context.Context) (string, error) {
			id, _ := ctx.Value(userIDKey).(string)
			return id, nil
		},
		func(ctx context.Context) (string, error) {
			ip, _ := ctx.Value(clientIPKey).(string)
			return ip, nil
		},
	)
}

// NewRouter builds the ingest router.
func NewRouter(rec *recorder.Recorder) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metricsMiddleware(), actorContext())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.POST("/log", logHandler(rec))

	return router
}

// actorContext copies the caller's identity headers and remote address into
// the request context, where the actor resolver picks them up.
func actorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader("X-Audit-User"); id != "" {
			ctx = context.WithValue(ctx, userIDKey, id)
		}
		ctx = context.WithValue(ctx, clientIPKey, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// metricsMiddleware records request counts and latencies, labelled by route
// template rather than raw URL to keep label cardinality bounded.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		telemetry.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(time.Since(start).Seconds())
	}
}

type logRequest struct {
	Title   string `json:"title" binding:"required"`
	Details string `json:"details"`
	UserID  string `json:"user_id"`
	UserIP  string `json:"user_ip"`
}

type logResponse struct {
	ID string `json:"id,omitempty"`
}

func logHandler(rec *recorder.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req logRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var opts []recorder.LogOption
		if req.UserID != "" {
			opts = append(opts, recorder.WithUser(req.UserID))
		}
		if req.UserIP != "" {
			opts = append(opts, recorder.WithUserIP(req.UserIP))
		}

		entry, err := rec.Log(c.Request.Context(), req.Title, req.Details, opts...)
		switch {
		case errors.Is(err, recorder.ErrEmptyTitle):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		case entry == nil:
			// Recording disabled or persisted best-effort; nothing to return.
			c.Status(http.StatusAccepted)
		default:
			c.JSON(http.StatusCreated, logResponse{ID: entry.ID})
		}
	}
}
