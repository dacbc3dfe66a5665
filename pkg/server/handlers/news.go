package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/newsdedup"
	"github.com/soundprediction/newsdedup/pkg/server/dto"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// NewsHandler serves the dedup operations.
type NewsHandler struct {
	dedup  newsdedup.Deduplicator
	logger *slog.Logger
}

// NewNewsHandler creates a news handler.
func NewNewsHandler(d newsdedup.Deduplicator, logger *slog.Logger) *NewsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NewsHandler{dedup: d, logger: logger}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.ErrorResponse{
		Error:     code,
		Message:   message,
		Code:      status,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	})
}

// AddNews handles POST /api/v1/news
func (h *NewsHandler) AddNews(c *gin.Context) {
	var req dto.AddNewsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	item, err := req.NewsItem()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.dedup.AddNews(c.Request.Context(), item)
	switch {
	case errors.Is(err, types.ErrInvalidNews):
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, newsdedup.ErrEmbeddingUnavailable):
		writeError(c, http.StatusServiceUnavailable, "embedding_unavailable", err.Error())
		return
	case err != nil:
		h.logger.Error("add news failed", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	status := http.StatusOK
	if res.Accepted {
		status = http.StatusCreated
	}
	c.JSON(status, dto.NewAddNewsResponse(res))
}

// GetUnique handles GET /api/v1/news/unique. Optional query parameters:
// ticker limits entries to one ticker, since drops older entries.
func (h *NewsHandler) GetUnique(c *gin.Context) {
	since, err := dto.Since(c.Query("since"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "since must be RFC 3339")
		return
	}
	ticker := strings.TrimSpace(c.Query("ticker"))

	all := h.dedup.GetUnique()
	items := make([]types.AcceptedNewsEntry, 0, len(all))
	for _, e := range all {
		if e.AcceptedAt.Before(since) {
			continue
		}
		if ticker != "" && !contains(e.Tickers, ticker) {
			continue
		}
		items = append(items, e)
	}
	c.JSON(http.StatusOK, dto.UniqueNewsResponse{Count: len(items), Items: items})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
