package handler

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stroymat/matrag/internal/fallback"
	"github.com/stroymat/matrag/internal/sshtunnel"
)

type HealthHandler struct {
	db      *sql.DB
	tunnel  *sshtunnel.Tunnel
	search  *fallback.Manager
	aiReady bool
}

func NewHealthHandler(db *sql.DB, tunnel *sshtunnel.Tunnel, search *fallback.Manager, aiReady bool) *HealthHandler {
	return &HealthHandler{db: db, tunnel: tunnel, search: search, aiReady: aiReady}
}

type healthStatus struct {
	Database bool `json:"database"`
	Tunnel   bool `json:"tunnel"`
	Qdrant   bool `json:"qdrant"`
	AI       bool `json:"ai"`
}

// Health answers 503 only when Postgres is down; a dead Qdrant or
// tunnel degrades the service but the API keeps working. The ai flag
// reports whether a generator provider is configured, not a live probe.
func (h *HealthHandler) Health(c *gin.Context) {
	status := healthStatus{Tunnel: true, AI: h.aiReady}
	if h.db != nil {
		status.Database = h.db.PingContext(c.Request.Context()) == nil
	}
	if h.tunnel != nil {
		status.Tunnel = h.tunnel.Healthy()
	}
	if h.search != nil {
		status.Qdrant = h.search.PrimaryHealthy(c.Request.Context())
	}
	code := http.StatusOK
	if !status.Database {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
