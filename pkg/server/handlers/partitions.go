package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/newsdedup/pkg/server/dto"
)

type partitionErrer interface {
	PartitionErr(ticker string) error
}

func (h *NewsHandler) summary(ticker string) dto.PartitionSummary {
	s := dto.PartitionSummary{Ticker: ticker, Size: h.dedup.PartitionSize(ticker)}
	if pe, ok := h.dedup.(partitionErrer); ok {
		if err := pe.PartitionErr(ticker); err != nil {
			s.Error = err.Error()
		}
	}
	return s
}

// ListPartitions handles GET /api/v1/partitions
func (h *NewsHandler) ListPartitions(c *gin.Context) {
	tickers := h.dedup.Partitions()
	out := make([]dto.PartitionSummary, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, h.summary(t))
	}
	c.JSON(http.StatusOK, dto.PartitionsResponse{Count: len(out), Partitions: out})
}

// GetPartition handles GET /api/v1/partitions/:ticker
func (h *NewsHandler) GetPartition(c *gin.Context) {
	ticker := strings.TrimSpace(c.Param("ticker"))
	if !h.dedup.HasPartition(ticker) {
		writeError(c, http.StatusNotFound, "not_found", dto.ErrPartitionNotFound.Error())
		return
	}
	c.JSON(http.StatusOK, dto.PartitionResponse{
		PartitionSummary: h.summary(ticker),
		Records:          h.dedup.Records(ticker),
	})
}
