// Package pipeline implements the duplicate decision for one news item
// against the candidate records of one ticker partition.
//
// Candidates are visited in ascending id order and the first duplicate wins.
// With a relation escalator the tiered policy applies:
//
//	sentiment gate -> verb/object gate -> cosine tiers -> relation classifier
//
// Without one, the baseline rule j >= ThresholdJaccard AND s >= ThresholdCosine
// is used for sentiment-compatible candidates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/soundprediction/newsdedup/pkg/relation"
	"github.com/soundprediction/newsdedup/pkg/sentiment"
	"github.com/soundprediction/newsdedup/pkg/sketch"
	"github.com/soundprediction/newsdedup/pkg/types"
	"github.com/soundprediction/newsdedup/pkg/utils"
)

// Policy holds the decision thresholds.
type Policy struct {
	LowThresh        float64 `mapstructure:"low_thresh"`
	HighThresh       float64 `mapstructure:"high_thresh"`
	SentThresh       float64 `mapstructure:"sent_thresh"`
	ThresholdJaccard float64 `mapstructure:"threshold_jaccard"`
	ThresholdCosine  float64 `mapstructure:"threshold_cosine"`
	// Alpha weights the diagnostic combined score alpha*cos + (1-alpha)*j.
	Alpha float64 `mapstructure:"alpha"`
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LowThresh:        0.7,
		HighThresh:       0.9,
		SentThresh:       0.2,
		ThresholdJaccard: 0.1,
		ThresholdCosine:  0.4,
		Alpha:            0.5,
	}
}

// Midpoint is the cosine a neutral classifier verdict must reach.
func (p Policy) Midpoint() float64 { return (p.LowThresh + p.HighThresh) / 2 }

// Validate checks ranges and ordering of the thresholds.
func (p Policy) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"low_thresh":        p.LowThresh,
		"high_thresh":       p.HighThresh,
		"sent_thresh":       p.SentThresh,
		"threshold_cosine":  p.ThresholdCosine,
		"alpha":             p.Alpha,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1], got %v", name, v))
		}
	}
	// the LSH band layout is undefined at 0 and 1
	if p.ThresholdJaccard <= 0 || p.ThresholdJaccard >= 1 {
		errs = append(errs, fmt.Errorf("threshold_jaccard must be in (0, 1), got %v", p.ThresholdJaccard))
	}
	if p.LowThresh >= p.HighThresh {
		errs = append(errs, fmt.Errorf("low_thresh (%v) must be below high_thresh (%v)", p.LowThresh, p.HighThresh))
	}
	return errors.Join(errs...)
}

// Tier names the rule that produced a duplicate verdict.
type Tier string

const (
	TierNone            Tier = ""
	TierHighSimilarity  Tier = "high_similarity"
	TierEntailment      Tier = "entailment"
	TierNeutralMidpoint Tier = "neutral_midpoint"
	TierBaseline        Tier = "baseline"
)

// Probe is the incoming text with everything computed for it once per call.
type Probe struct {
	Text       string
	Sentiment  types.Sentiment
	Signature  sketch.Signature
	Embedding  []float32
	VerbObject relation.VerbObject
}

// Record builds the record stored when the probe is accepted. Each call
// returns its own copy of the signature and embedding.
func (p Probe) Record() types.DuplicateRecord {
	return types.DuplicateRecord{
		Text:      p.Text,
		Polarity:  p.Sentiment.Polarity,
		Intensity: p.Sentiment.Intensity,
		Signature: p.Signature.Clone(),
		Embedding: slices.Clone(p.Embedding),
		Verb:      p.VerbObject.Verb,
		Object:    p.VerbObject.Object,
	}
}

// Verdict is the outcome of evaluating a probe. The similarity fields describe
// the matching candidate for a duplicate, otherwise the last candidate scored.
type Verdict struct {
	Duplicate  bool           `json:"duplicate"`
	MatchID    int            `json:"match_id"`
	Tier       Tier           `json:"tier,omitempty"`
	Jaccard    float64        `json:"jaccard"`
	Cosine     float64        `json:"cosine"`
	Alpha      float64        `json:"alpha_score"`
	Relation   types.Relation `json:"relation,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"`
	Candidates int            `json:"candidates"`
}

// Unique reports a verdict with no match.
func Unique(candidates int) Verdict {
	return Verdict{MatchID: -1, Candidates: candidates}
}

// Pipeline evaluates probes against candidate records.
type Pipeline struct {
	policy    Policy
	gate      sentiment.Gate
	escalator *relation.Escalator
	logger    *slog.Logger
}

// New creates a Pipeline. A nil escalator selects the baseline rule.
func New(policy Policy, gate sentiment.Gate, escalator *relation.Escalator, logger *slog.Logger) (*Pipeline, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision policy: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{policy: policy, gate: gate, escalator: escalator, logger: logger}, nil
}

// Policy returns the thresholds in use.
func (p *Pipeline) Policy() Policy { return p.policy }

// Tiered reports whether the escalator-backed policy is active.
func (p *Pipeline) Tiered() bool { return p.escalator != nil }

// Evaluate decides whether probe duplicates any of candidates. The only error
// is a classifier failure under the propagate policy.
func (p *Pipeline) Evaluate(ctx context.Context, probe Probe, candidates []types.DuplicateRecord) (Verdict, error) {
	v := Unique(len(candidates))
	if len(candidates) == 0 || probe.Signature.Empty() {
		return v, nil
	}

	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, func(a, b types.DuplicateRecord) int { return a.ID - b.ID })

	for _, c := range sorted {
		if err := ctx.Err(); err != nil {
			return Unique(len(candidates)), err
		}
		if c.Signature.Empty() {
			continue
		}
		if !p.gate.Compatible(probe.Sentiment, c.Sentiment()) {
			continue
		}

		j, err := sketch.Jaccard(probe.Signature, c.Signature)
		if err != nil {
			return Unique(len(candidates)), fmt.Errorf("compare with record %d: %w", c.ID, err)
		}
		s := utils.DotProduct(probe.Embedding, c.Embedding)
		v.Jaccard, v.Cosine = j, s
		v.Alpha = p.policy.Alpha*s + (1-p.policy.Alpha)*j

		var dup bool
		if p.escalator == nil {
			dup = j >= p.policy.ThresholdJaccard && s >= p.policy.ThresholdCosine
			if dup {
				v.Tier = TierBaseline
			}
		} else {
			dup, err = p.tiered(ctx, probe, c, s, &v)
			if err != nil {
				return Unique(len(candidates)), err
			}
		}

		if dup {
			v.Duplicate = true
			v.MatchID = c.ID
			return v, nil
		}
		v.Relation, v.Degraded = "", false
	}
	return v, nil
}

func (p *Pipeline) tiered(ctx context.Context, probe Probe, c types.DuplicateRecord, s float64, v *Verdict) (bool, error) {
	if !consistent(probe.VerbObject, relation.VerbObject{Verb: c.Verb, Object: c.Object}, p.escalator.ObjectThreshold()) {
		return false, nil
	}
	if s < p.policy.LowThresh {
		return false, nil
	}
	if s >= p.policy.HighThresh {
		v.Tier = TierHighSimilarity
		return true, nil
	}
	if sentiment.NormalizedDiff(probe.Sentiment, c.Sentiment()) >= p.policy.SentThresh {
		return false, nil
	}

	rel, degraded, err := p.escalator.Relate(ctx, c.Text, probe.Text)
	if err != nil {
		return false, fmt.Errorf("classify against record %d: %w", c.ID, err)
	}
	v.Relation, v.Degraded = rel, degraded

	switch rel {
	case types.RelationEntailment:
		v.Tier = TierEntailment
		return true, nil
	case types.RelationNeutral:
		if s >= p.policy.Midpoint() {
			v.Tier = TierNeutralMidpoint
			return true, nil
		}
	}
	return false, nil
}

// consistent is the verb/object gate: a pair fails only when both sides name
// a verb (or an object) and those differ.
func consistent(a, b relation.VerbObject, objectRatio float64) bool {
	if a.Verb != "" && b.Verb != "" && !relation.SameVerb(a.Verb, b.Verb) {
		return false
	}
	if a.Object != "" && b.Object != "" && !relation.SameObject(a.Object, b.Object, objectRatio) {
		return false
	}
	return true
}
