package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/soundprediction/newsdedup/pkg/sketch"
)

const (
	// MinIntensity is the lowest accepted sentiment intensity.
	MinIntensity = 1
	// MaxIntensity is the highest accepted sentiment intensity.
	MaxIntensity = 10
)

// Polarity is the sign of a sentiment label.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// ParsePolarity accepts any casing ("POSITIVE", "Positive", ...).
func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(strings.ToLower(strings.TrimSpace(s))); p {
	case PolarityPositive, PolarityNegative, PolarityNeutral:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolarity, s)
	}
}

// Valid reports whether p is one of the known polarities.
func (p Polarity) Valid() bool {
	switch p {
	case PolarityPositive, PolarityNegative, PolarityNeutral:
		return true
	}
	return false
}

// Sentiment is a polarity with an intensity in [MinIntensity, MaxIntensity].
type Sentiment struct {
	Polarity  Polarity `json:"polarity"`
	Intensity int      `json:"intensity"`
}

// Relation is the label returned by a textual-relation classifier.
type Relation string

const (
	RelationEntailment    Relation = "entailment"
	RelationNeutral       Relation = "neutral"
	RelationContradiction Relation = "contradiction"
)

// ParseRelation maps classifier output onto a Relation.
func ParseRelation(s string) (Relation, error) {
	switch r := Relation(strings.ToLower(strings.TrimSpace(s))); r {
	case RelationEntailment, RelationNeutral, RelationContradiction:
		return r, nil
	default:
		return "", fmt.Errorf("unknown relation label %q", s)
	}
}

// NewsItem is an incoming text with precomputed tickers and sentiment.
type NewsItem struct {
	Text      string   `json:"text" yaml:"text"`
	Tickers   []string `json:"tickers" yaml:"tickers"`
	Polarity  Polarity `json:"polarity" yaml:"polarity"`
	Intensity int      `json:"intensity" yaml:"intensity"`
}

// Sentiment returns the item's polarity and intensity.
func (n NewsItem) Sentiment() Sentiment {
	return Sentiment{Polarity: n.Polarity, Intensity: n.Intensity}
}

// Validate checks the item before any partition is touched.
// shingleSize is the minimum text length in runes.
func (n *NewsItem) Validate(shingleSize int) error {
	if utf8.RuneCountInString(n.Text) < shingleSize {
		return newValidationError("text", ErrTextTooShort)
	}
	if len(n.Tickers) == 0 {
		return newValidationError("tickers", ErrNoTickers)
	}
	for _, t := range n.Tickers {
		if strings.TrimSpace(t) == "" {
			return newValidationError("tickers", ErrEmptyTicker)
		}
	}
	if !n.Polarity.Valid() {
		return newValidationError("polarity", ErrInvalidPolarity)
	}
	if n.Intensity < MinIntensity || n.Intensity > MaxIntensity {
		return newValidationError("intensity", ErrInvalidIntensity)
	}
	return nil
}

// UniqueTickers returns the tickers with duplicates removed, keeping first-seen order.
func (n NewsItem) UniqueTickers() []string {
	seen := make(map[string]struct{}, len(n.Tickers))
	out := make([]string, 0, len(n.Tickers))
	for _, t := range n.Tickers {
		t = strings.TrimSpace(t)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// DuplicateRecord is a text stored in a ticker partition. It is written once
// at insertion time and never mutated.
type DuplicateRecord struct {
	ID        int              `json:"id"`
	Text      string           `json:"text"`
	Polarity  Polarity         `json:"polarity"`
	Intensity int              `json:"intensity"`
	Signature sketch.Signature `json:"-"`
	Embedding []float32        `json:"-"`
	Verb      string           `json:"verb,omitempty"`
	Object    string           `json:"object,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Clone returns a copy of r whose signature and embedding are not shared.
func (r DuplicateRecord) Clone() DuplicateRecord {
	r.Signature = r.Signature.Clone()
	r.Embedding = slices.Clone(r.Embedding)
	return r
}

// Sentiment returns the record's polarity and intensity.
func (r DuplicateRecord) Sentiment() Sentiment {
	return Sentiment{Polarity: r.Polarity, Intensity: r.Intensity}
}

// AcceptedNewsEntry is the result of a successful AddNews call. Tickers holds
// only the tickers for which the text was judged unique.
type AcceptedNewsEntry struct {
	ID         uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	Tickers    []string  `json:"tickers"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// RecordTuple is the durable form of an inserted record, produced for
// downstream persistence. Signature is the versioned binary encoding from
// sketch.Signature.MarshalBinary.
type RecordTuple struct {
	Ticker    string    `json:"ticker" parquet:"ticker"`
	RecordID  int       `json:"record_id" parquet:"record_id"`
	Text      string    `json:"text" parquet:"text"`
	Polarity  Polarity  `json:"polarity" parquet:"polarity"`
	Intensity int       `json:"intensity" parquet:"intensity"`
	Signature []byte    `json:"signature" parquet:"signature"`
	Embedding []float32 `json:"embedding" parquet:"embedding"`
	Verb      string    `json:"verb,omitempty" parquet:"verb"`
	Object    string    `json:"object,omitempty" parquet:"object"`
	CreatedAt time.Time `json:"created_at" parquet:"created_at"`
}

// NewRecordTuple encodes a stored record for the given ticker.
func NewRecordTuple(ticker string, r DuplicateRecord) (RecordTuple, error) {
	sig, err := r.Signature.MarshalBinary()
	if err != nil {
		return RecordTuple{}, fmt.Errorf("encode signature: %w", err)
	}
	emb := make([]float32, len(r.Embedding))
	copy(emb, r.Embedding)
	return RecordTuple{
		Ticker:    ticker,
		RecordID:  r.ID,
		Text:      r.Text,
		Polarity:  r.Polarity,
		Intensity: r.Intensity,
		Signature: sig,
		Embedding: emb,
		Verb:      r.Verb,
		Object:    r.Object,
		CreatedAt: r.CreatedAt,
	}, nil
}

// Record decodes the tuple back into a DuplicateRecord.
func (t RecordTuple) Record() (DuplicateRecord, error) {
	var sig sketch.Signature
	if err := sig.UnmarshalBinary(t.Signature); err != nil {
		return DuplicateRecord{}, fmt.Errorf("decode signature: %w", err)
	}
	return DuplicateRecord{
		ID:        t.RecordID,
		Text:      t.Text,
		Polarity:  t.Polarity,
		Intensity: t.Intensity,
		Signature: sig,
		Embedding: t.Embedding,
		Verb:      t.Verb,
		Object:    t.Object,
		CreatedAt: t.CreatedAt,
	}, nil
}
