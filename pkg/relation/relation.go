// Package relation decides, for lexically or semantically close news pairs,
// whether they describe the same event. It compares the main verb and object
// of each text and, for ambiguous pairs, asks a textual-relation classifier
// whether one text entails or contradicts the other.
package relation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// ErrClassifierUnavailable wraps classifier failures and timeouts.
var ErrClassifierUnavailable = errors.New("relation classifier unavailable")

// DefaultObjectRatio is the minimum fuzzy ratio (0..100) for two objects to match.
const DefaultObjectRatio = 80

// DefaultTimeout bounds a single classifier call.
const DefaultTimeout = 10 * time.Second

// VerbObject is the main predicate of a sentence and its object. Either may
// be empty when extraction found nothing.
type VerbObject struct {
	Verb   string `json:"verb"`
	Object string `json:"object"`
}

// Extractor finds the main verb and object of a text.
type Extractor interface {
	ExtractVerbObject(ctx context.Context, text string) (VerbObject, error)
}

// Classifier labels the relation of hypothesis to premise.
type Classifier interface {
	Classify(ctx context.Context, premise, hypothesis string) (types.Relation, error)
}

// FailurePolicy says what a classifier error means for the pair being judged.
type FailurePolicy string

const (
	// FailOpen treats the pair as neutral.
	FailOpen FailurePolicy = "fail_open"
	// FailClosed treats the pair as not duplicate.
	FailClosed FailurePolicy = "fail_closed"
	// Propagate returns the error to the caller.
	Propagate FailurePolicy = "propagate"
)

// ParseFailurePolicy accepts the config spelling; empty means FailOpen.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return FailOpen, nil
	case FailOpen, FailClosed, Propagate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// ObjectRatio returns a 0..100 similarity of two strings computed from a
// character diff: 200 * matched runes / total runes. Comparison ignores case
// and surrounding space.
func ObjectRatio(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	dmp := diffmatchpatch.New()
	matched := 0
	for _, d := range dmp.DiffMain(a, b, false) {
		if d.Type == diffmatchpatch.DiffEqual {
			matched += utf8.RuneCountInString(d.Text)
		}
	}
	return 200 * float64(matched) / float64(total)
}

// SameObject reports whether two objects match at minRatio. Two empty objects
// are equal; one empty object never matches a non-empty one.
func SameObject(a, b string, minRatio float64) bool {
	ea, eb := strings.TrimSpace(a) == "", strings.TrimSpace(b) == ""
	if ea || eb {
		return ea && eb
	}
	return ObjectRatio(a, b) >= minRatio
}

// SameVerb compares verbs case-insensitively.
func SameVerb(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Escalator bundles the extractor and classifier with the policy used when
// they fail.
type Escalator struct {
	extractor   Extractor
	classifier  Classifier
	objectRatio float64
	timeout     time.Duration
	policy      FailurePolicy
	logger      *slog.Logger
}

// Option configures an Escalator.
type Option func(*Escalator)

// WithObjectRatio sets the SameObject threshold.
func WithObjectRatio(r float64) Option { return func(e *Escalator) { e.objectRatio = r } }

// WithTimeout bounds each classifier call; zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(e *Escalator) { e.timeout = d } }

// WithFailurePolicy sets the classifier failure policy.
func WithFailurePolicy(p FailurePolicy) Option { return func(e *Escalator) { e.policy = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Escalator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEscalator creates an Escalator. extractor may be nil, in which case
// verb/object gating is skipped.
func NewEscalator(extractor Extractor, classifier Classifier, opts ...Option) *Escalator {
	e := &Escalator{
		extractor:   extractor,
		classifier:  classifier,
		objectRatio: DefaultObjectRatio,
		timeout:     DefaultTimeout,
		policy:      FailOpen,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the configured failure policy.
func (e *Escalator) Policy() FailurePolicy { return e.policy }

// ObjectThreshold returns the SameObject ratio.
func (e *Escalator) ObjectThreshold() float64 { return e.objectRatio }

// Extract returns the verb and object of text. Extraction failures degrade to
// an empty VerbObject so that the verb/object gates are skipped.
func (e *Escalator) Extract(ctx context.Context, text string) VerbObject {
	if e.extractor == nil {
		return VerbObject{}
	}
	vo, err := e.extractor.ExtractVerbObject(ctx, text)
	if err != nil {
		e.logger.Warn("verb/object extraction failed", "error", err)
		return VerbObject{}
	}
	return VerbObject{Verb: strings.TrimSpace(vo.Verb), Object: strings.TrimSpace(vo.Object)}
}

// Relate classifies hypothesis against premise. When the classifier fails,
// the failure policy decides the outcome: FailOpen yields neutral, FailClosed
// yields contradiction, Propagate returns an error wrapping
// ErrClassifierUnavailable. degraded is true whenever the label came from the
// policy rather than the classifier.
func (e *Escalator) Relate(ctx context.Context, premise, hypothesis string) (rel types.Relation, degraded bool, err error) {
	if e.classifier == nil {
		return e.onFailure(errors.New("no classifier configured"))
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	rel, err = e.classifier.Classify(ctx, premise, hypothesis)
	if err != nil {
		return e.onFailure(err)
	}
	return rel, false, nil
}

func (e *Escalator) onFailure(cause error) (types.Relation, bool, error) {
	switch e.policy {
	case Propagate:
		return "", true, fmt.Errorf("%w: %w", ErrClassifierUnavailable, cause)
	case FailClosed:
		e.logger.Warn("relation classifier failed, treating pair as distinct", "error", cause)
		return types.RelationContradiction, true, nil
	default:
		e.logger.Warn("relation classifier failed, treating pair as neutral", "error", cause)
		return types.RelationNeutral, true, nil
	}
}
