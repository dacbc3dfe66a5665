package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/newsdedup"
	"github.com/soundprediction/newsdedup/pkg/pipeline"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// Request limits
const (
	MaxTextLength   = 64 * 1024
	MaxTickersCount = 64
	MaxTickerLength = 32
)

// Validation errors
var (
	ErrTextTooLong    = fmt.Errorf("text exceeds maximum length (%d bytes)", MaxTextLength)
	ErrTooManyTickers = fmt.Errorf("tickers count exceeds maximum (%d)", MaxTickersCount)
	ErrTickerTooLong  = fmt.Errorf("ticker exceeds maximum length (%d)", MaxTickerLength)
)

// AddNewsRequest is the body of POST /api/v1/news.
type AddNewsRequest struct {
	Text      string   `json:"text" binding:"required"`
	Tickers   []string `json:"tickers" binding:"required"`
	Polarity  string   `json:"polarity" binding:"required"`
	Intensity int      `json:"intensity" binding:"required"`
}

// Validate enforces request size limits. Field semantics are checked by the
// engine.
func (r *AddNewsRequest) Validate() error {
	if len(r.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	if len(r.Tickers) > MaxTickersCount {
		return ErrTooManyTickers
	}
	for _, t := range r.Tickers {
		if len(strings.TrimSpace(t)) > MaxTickerLength {
			return ErrTickerTooLong
		}
	}
	return nil
}

// NewsItem converts the request. Polarity is accepted in any casing.
func (r *AddNewsRequest) NewsItem() (types.NewsItem, error) {
	p, err := types.ParsePolarity(r.Polarity)
	if err != nil {
		return types.NewsItem{}, err
	}
	return types.NewsItem{
		Text:      r.Text,
		Tickers:   r.Tickers,
		Polarity:  p,
		Intensity: r.Intensity,
	}, nil
}

// AddNewsResponse reports the outcome of one submission.
type AddNewsResponse struct {
	Accepted        bool                        `json:"accepted"`
	ID              *uuid.UUID                  `json:"id,omitempty"`
	AcceptedTickers []string                    `json:"accepted_tickers"`
	Rejected        []string                    `json:"rejected"`
	Failed          map[string]string           `json:"failed,omitempty"`
	Verdicts        map[string]pipeline.Verdict `json:"verdicts"`
}

// NewAddNewsResponse flattens an engine result for JSON.
func NewAddNewsResponse(res *newsdedup.AddResult) AddNewsResponse {
	out := AddNewsResponse{
		Accepted:        res.Accepted,
		AcceptedTickers: nonNil(res.AcceptedTickers),
		Rejected:        nonNil(res.Rejected),
		Verdicts:        res.Verdicts,
	}
	if res.Entry != nil {
		id := res.Entry.ID
		out.ID = &id
	}
	if len(res.Failed) > 0 {
		out.Failed = make(map[string]string, len(res.Failed))
		for t, err := range res.Failed {
			out.Failed[t] = err.Error()
		}
	}
	return out
}

// UniqueNewsResponse is returned by GET /api/v1/news/unique.
type UniqueNewsResponse struct {
	Count int                       `json:"count"`
	Items []types.AcceptedNewsEntry `json:"items"`
}

// PartitionSummary describes one ticker partition.
type PartitionSummary struct {
	Ticker string `json:"ticker"`
	Size   int    `json:"size"`
	Error  string `json:"error,omitempty"`
}

// PartitionsResponse is returned by GET /api/v1/partitions.
type PartitionsResponse struct {
	Count      int                `json:"count"`
	Partitions []PartitionSummary `json:"partitions"`
}

// PartitionResponse is returned by GET /api/v1/partitions/:ticker.
type PartitionResponse struct {
	PartitionSummary
	Records []types.DuplicateRecord `json:"records"`
}

// ErrPartitionNotFound is reported for unknown tickers.
var ErrPartitionNotFound = errors.New("partition not found")

// Since parses an optional RFC 3339 "since" filter.
func Since(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
