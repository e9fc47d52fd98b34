// Package api is the trustee node's HTTP surface.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trustee/store"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trusteeapi"
)

// ShareStore is the part of store.Store the handlers need.
type ShareStore interface {
	Save(ctx context.Context, loanID uint64, ac string, index int, value []byte) error
	Release(ctx context.Context, loanID uint64, ac string, epoch int64) (*store.HeldShare, error)
}

type Handler struct {
	trusteeID string
	secret    []byte
	shares    ShareStore
	logger    logging.Logger
}

func NewHandler(trusteeID string, secret []byte, shares ShareStore, logger logging.Logger) *Handler {
	return &Handler{
		trusteeID: trusteeID,
		secret:    secret,
		shares:    shares,
		logger:    logger.With("trustee_id", trusteeID),
	}
}

func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "trusteeId": h.trusteeID})
	})

	authed := router.Group("/", h.requireToken())
	authed.POST(trusteeapi.PathReceiveShare, h.ReceiveShare)
	authed.POST(trusteeapi.PathRequestShare, h.RequestShare)

	return router
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.logger.Debug(c.Request.Context(), "request",
			"method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status())
	}
}
