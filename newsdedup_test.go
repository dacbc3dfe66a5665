package newsdedup

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/soundprediction/newsdedup/pkg/ann"
	"github.com/soundprediction/newsdedup/pkg/pipeline"
	"github.com/soundprediction/newsdedup/pkg/relation"
	"github.com/soundprediction/newsdedup/pkg/sketch"
	"github.com/soundprediction/newsdedup/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dims = 256

// fakeEmbedder returns fixed vectors for known texts and a pseudo-random
// gaussian vector seeded by the text for everything else. Unrelated texts
// land far below any cosine threshold.
type fakeEmbedder struct {
	vecs  map[string][]float32
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	rng := rand.New(rand.NewPCG(xxhash.Sum64String(text), 7))
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v, nil
}

func (f *fakeEmbedder) Dimensions() int { return dims }
func (f *fakeEmbedder) Close() error    { return nil }

// at returns a vector whose cosine with at(1) is s.
func at(s float64) []float32 {
	v := make([]float32, dims)
	v[0] = float32(s)
	v[1] = float32(math.Sqrt(1 - s*s))
	return v
}

type mapExtractor map[string]relation.VerbObject

func (m mapExtractor) ExtractVerbObject(_ context.Context, text string) (relation.VerbObject, error) {
	vo, ok := m[text]
	if !ok {
		return relation.VerbObject{}, errors.New("no parse")
	}
	return vo, nil
}

type fixedClassifier struct {
	rel types.Relation
	err error
}

func (c fixedClassifier) Classify(context.Context, string, string) (types.Relation, error) {
	return c.rel, c.err
}

type memorySink struct {
	mu     sync.Mutex
	tuples []types.RecordTuple
}

func (s *memorySink) Write(_ context.Context, tuples []types.RecordTuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuples = append(s.tuples, tuples...)
	return nil
}

func newEngine(t *testing.T, emb *fakeEmbedder, opts ...Option) *Engine {
	t.Helper()
	if emb == nil {
		emb = &fakeEmbedder{}
	}
	e, err := New(emb, DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func item(text string, pol types.Polarity, intensity int, tickers ...string) types.NewsItem {
	return types.NewsItem{Text: text, Tickers: tickers, Polarity: pol, Intensity: intensity}
}

const profit = "Company A reports record quarterly profit"

func TestIdempotence(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	ok, err := e.Add(ctx, profit, []string{"A"}, types.PolarityPositive, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Add(ctx, profit, []string{"A"}, types.PolarityPositive, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Len(t, e.GetUnique(), 1)
	assert.Equal(t, 1, e.PartitionSize("A"))
}

func TestPartitionIndependence(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	_, err := e.AddNews(ctx, item(profit, types.PolarityPositive, 7, "A"))
	require.NoError(t, err)

	res, err := e.AddNews(ctx, item(profit, types.PolarityPositive, 7, "A", "B"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, []string{"B"}, res.AcceptedTickers)
	assert.Equal(t, []string{"A"}, res.Rejected)
	assert.True(t, res.Verdicts["A"].Duplicate)

	unique := e.GetUnique()
	require.Len(t, unique, 2)
	assert.Equal(t, []string{"B"}, unique[1].Tickers)
	assert.Equal(t, []string{"A", "B"}, e.Partitions())
}

func TestRejectedEverywhereMutatesNothing(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	_, err := e.AddNews(ctx, item(profit, types.PolarityPositive, 7, "A", "B"))
	require.NoError(t, err)

	res, err := e.AddNews(ctx, item(profit, types.PolarityPositive, 7, "B", "A", "A"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Nil(t, res.Entry)
	assert.ElementsMatch(t, []string{"A", "B"}, res.Rejected)
	assert.Len(t, e.GetUnique(), 1)
	assert.Equal(t, 1, e.PartitionSize("A"))
	assert.Equal(t, 1, e.PartitionSize("B"))
}

func TestSentimentHardBlock(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	ok, err := e.Add(ctx, profit, []string{"A"}, types.PolarityPositive, 7)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Add(ctx, profit, []string{"A"}, types.PolarityNegative, 7)
	require.NoError(t, err)
	assert.True(t, ok, "opposite polarity is never a duplicate")

	ok, err = e.Add(ctx, profit, []string{"A"}, types.PolarityPositive, 2)
	require.NoError(t, err)
	assert.True(t, ok, "intensity gap above tolerance is never a duplicate")
}

func TestVerbObjectAntonymImmunity(t *testing.T) {
	rose := "Shares of Company A rose sharply on Monday"
	fell := "Shares of Company A fell sharply on Monday"
	emb := &fakeEmbedder{vecs: map[string][]float32{rose: at(1), fell: at(1)}}
	esc := relation.NewEscalator(mapExtractor{
		rose: {Verb: "rise", Object: "share"},
		fell: {Verb: "fall", Object: "share"},
	}, fixedClassifier{rel: types.RelationEntailment})
	e := newEngine(t, emb, WithEscalator(esc))
	ctx := context.Background()

	ok, err := e.Add(ctx, rose, []string{"A"}, types.PolarityPositive, 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Add(ctx, fell, []string{"A"}, types.PolarityPositive, 5)
	require.NoError(t, err)
	assert.True(t, ok, "different verbs are distinct events even at cosine 1")

	recs := e.Records("A")
	require.Len(t, recs, 2)
	assert.Equal(t, "rise", recs[0].Verb)
	assert.Equal(t, "fall", recs[1].Verb)
}

func TestScenario(t *testing.T) {
	first := "Company A reports record quarterly profit"
	reworded := "Company A announces record profit for the quarter"
	loss := "Company A reports record quarterly loss"

	emb := &fakeEmbedder{vecs: map[string][]float32{
		first:    at(1),
		reworded: at(0.93),
		loss:     at(0.95),
	}}
	esc := relation.NewEscalator(mapExtractor{
		first:    {Verb: "report", Object: "profit"},
		reworded: {Verb: "report", Object: "profit"},
		loss:     {Verb: "report", Object: "loss"},
	}, fixedClassifier{rel: types.RelationContradiction})
	e := newEngine(t, emb, WithEscalator(esc))
	ctx := context.Background()

	res, err := e.AddNews(ctx, item(first, types.PolarityPositive, 7, "A"))
	require.NoError(t, err)
	require.True(t, res.Accepted)

	res, err = e.AddNews(ctx, item(reworded, types.PolarityPositive, 7, "A"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	v := res.Verdicts["A"]
	assert.Equal(t, pipeline.TierHighSimilarity, v.Tier)
	assert.Equal(t, 0, v.MatchID)
	assert.InDelta(t, 0.93, v.Cosine, 1e-4)

	res, err = e.AddNews(ctx, item(loss, types.PolarityNegative, 3, "A"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestAppendOnlyIDs(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	texts := []string{
		"Central bank keeps the key rate unchanged",
		"Oil output cut extended until the end of the year",
		"Retailer opens two hundred new stores",
		"Airline suspends flights to the south",
	}
	for _, text := range texts {
		ok, err := e.Add(ctx, text, []string{"X"}, types.PolarityNeutral, 5)
		require.NoError(t, err)
		require.True(t, ok, text)
	}
	recs := e.Records("X")
	require.Len(t, recs, len(texts))
	for i, r := range recs {
		assert.Equal(t, i, r.ID)
		assert.Equal(t, texts[i], r.Text)
		assert.InDelta(t, 1.0, norm(r.Embedding), 1e-5)
	}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestValidationBeforeMutation(t *testing.T) {
	emb := &fakeEmbedder{}
	e := newEngine(t, emb)
	ctx := context.Background()

	tests := []struct {
		name string
		item types.NewsItem
		want error
	}{
		{"short text", item("hi", types.PolarityPositive, 5, "A"), ErrTextTooShort},
		{"no tickers", item(profit, types.PolarityPositive, 5), ErrNoTickers},
		{"blank ticker", item(profit, types.PolarityPositive, 5, " "), ErrEmptyTicker},
		{"intensity", item(profit, types.PolarityPositive, 11, "A"), ErrInvalidIntensity},
		{"polarity", item(profit, "bullish", 5, "A"), ErrInvalidPolarity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddNews(ctx, tt.item)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidNews)
		})
	}
	assert.Empty(t, e.Partitions())
	assert.Zero(t, emb.calls.Load())
}

func TestEmbeddingUnavailable(t *testing.T) {
	e := newEngine(t, &fakeEmbedder{err: errors.New("connection refused")})

	ok, err := e.Add(context.Background(), profit, []string{"A", "B"}, types.PolarityPositive, 5)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Empty(t, e.Partitions())
	assert.Empty(t, e.GetUnique())
}

func TestZeroEmbeddingRejected(t *testing.T) {
	e := newEngine(t, &fakeEmbedder{vecs: map[string][]float32{"1234 5678": make([]float32, dims)}})

	_, err := e.AddNews(context.Background(), item("1234 5678", types.PolarityNeutral, 5, "A"))
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestClassifierPropagateIsPerTicker(t *testing.T) {
	first := "Company A signs supply deal with B"
	second := "Company A and B agree on a supply contract"
	emb := &fakeEmbedder{vecs: map[string][]float32{first: at(1), second: at(0.8)}}
	esc := relation.NewEscalator(nil, fixedClassifier{err: errors.New("503")},
		relation.WithFailurePolicy(relation.Propagate))
	e := newEngine(t, emb, WithEscalator(esc))
	ctx := context.Background()

	_, err := e.AddNews(ctx, item(first, types.PolarityPositive, 5, "A"))
	require.NoError(t, err)

	res, err := e.AddNews(ctx, item(second, types.PolarityPositive, 5, "A", "B"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.AcceptedTickers)
	require.Contains(t, res.Failed, "A")
	assert.ErrorIs(t, res.Failed["A"], ErrRelationClassifierUnavailable)
	assert.ErrorIs(t, res.Err(), ErrRelationClassifierUnavailable)
	assert.Equal(t, 1, e.PartitionSize("A"))
}

type failingIndex struct{ ann.Index }

func (failingIndex) Insert(int, []float32) error { return errors.New("index rebuild failed") }

func TestCorruptedPartitionIsolated(t *testing.T) {
	factory := func(ticker string) (ann.Index, error) {
		idx := ann.NewHNSW(ann.DefaultHNSWConfig())
		if ticker == "BAD" {
			return failingIndex{idx}, nil
		}
		return idx, nil
	}
	e := newEngine(t, nil, WithANNFactory(factory))
	ctx := context.Background()

	res, err := e.AddNews(ctx, item(profit, types.PolarityPositive, 5, "BAD", "GOOD"))
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOD"}, res.AcceptedTickers)
	assert.ErrorIs(t, res.Failed["BAD"], ErrPartitionCorrupted)
	assert.ErrorIs(t, e.PartitionErr("BAD"), ErrPartitionCorrupted)

	res, err = e.AddNews(ctx, item("Another unrelated headline entirely", types.PolarityPositive, 5, "BAD", "GOOD"))
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOD"}, res.AcceptedTickers)
	assert.ErrorIs(t, res.Failed["BAD"], ErrPartitionCorrupted)
	assert.Equal(t, 2, e.PartitionSize("GOOD"))
}

func TestSinkAndRestore(t *testing.T) {
	sink := &memorySink{}
	fixed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	e := newEngine(t, nil, WithSink(sink), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	_, err := e.AddNews(ctx, item(profit, types.PolarityPositive, 7, "A", "B"))
	require.NoError(t, err)
	_, err = e.AddNews(ctx, item("Central bank keeps the key rate unchanged", types.PolarityNeutral, 4, "A"))
	require.NoError(t, err)

	require.Len(t, sink.tuples, 3)
	for _, tup := range sink.tuples {
		assert.Equal(t, fixed, tup.CreatedAt)
		assert.NotEmpty(t, tup.Signature)
	}
	assert.Equal(t, fixed, e.GetUnique()[0].AcceptedAt)

	emb := &fakeEmbedder{}
	restored := newEngine(t, emb)
	require.NoError(t, restored.Restore(ctx, sink.tuples))
	assert.Equal(t, 2, restored.PartitionSize("A"))
	assert.Equal(t, 1, restored.PartitionSize("B"))
	assert.Zero(t, emb.calls.Load())
	assert.Empty(t, restored.GetUnique())

	ok, err := restored.Add(ctx, profit, []string{"B"}, types.PolarityPositive, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreRejectsGaps(t *testing.T) {
	sink := &memorySink{}
	e := newEngine(t, nil, WithSink(sink))
	_, err := e.AddNews(context.Background(), item(profit, types.PolarityPositive, 7, "A"))
	require.NoError(t, err)

	tuple := sink.tuples[0]
	tuple.RecordID = 3
	assert.Error(t, newEngine(t, nil).Restore(context.Background(), []types.RecordTuple{tuple}))
}

func TestRestoreRejectsForeignHasher(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	cfg := DefaultConfig()
	cfg.Seed = 99
	src, err := New(&fakeEmbedder{}, cfg, WithSink(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	_, err = src.AddNews(ctx, item(profit, types.PolarityPositive, 7, "A"))
	require.NoError(t, err)
	require.Len(t, sink.tuples, 1)

	e := newEngine(t, nil)
	err = e.Restore(ctx, sink.tuples)
	require.ErrorIs(t, err, sketch.ErrIncompatible)
	assert.Zero(t, e.PartitionSize("A"))

	ok, err := e.Add(ctx, "Central bank keeps the key rate unchanged", []string{"A"}, types.PolarityNeutral, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Add(ctx, profit, []string{"A"}, types.PolarityPositive, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRestoreValidatesAllTuplesFirst(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	src := newEngine(t, nil, WithSink(sink))
	_, err := src.AddNews(ctx, item(profit, types.PolarityPositive, 7, "A", "B"))
	require.NoError(t, err)
	require.Len(t, sink.tuples, 2)

	tuples := slices.Clone(sink.tuples)
	for i := range tuples {
		if tuples[i].Ticker == "B" {
			tuples[i].Embedding = make([]float32, dims)
		}
	}
	e := newEngine(t, nil)
	require.ErrorIs(t, e.Restore(ctx, tuples), ann.ErrZeroVector)
	assert.False(t, e.HasPartition("A"))
	assert.False(t, e.HasPartition("B"))
}

func TestWithTickers(t *testing.T) {
	e := newEngine(t, nil, WithTickers("SBER", "GAZP"))
	assert.True(t, e.HasPartition("SBER"))
	assert.True(t, e.HasPartition("GAZP"))
	assert.False(t, e.HasPartition("LKOH"))
	assert.Zero(t, e.PartitionSize("SBER"))
	assert.Nil(t, e.Records("LKOH"))
}

func TestConcurrentIdenticalSubmissions(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.Add(ctx, profit, []string{"A", "B"}, types.PolarityPositive, 7)
			assert.NoError(t, err)
			if ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, e.PartitionSize("A"))
	assert.Equal(t, 1, e.PartitionSize("B"))
	total := 0
	for _, entry := range e.GetUnique() {
		total += len(entry.Tickers)
	}
	assert.Equal(t, 2, total)
	assert.GreaterOrEqual(t, accepted.Load(), int32(1))
}

func TestGetUniqueReturnsCopy(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.AddNews(context.Background(), item(profit, types.PolarityPositive, 7, "A"))
	require.NoError(t, err)

	got := e.GetUnique()
	got[0].Tickers[0] = "Z"
	assert.Equal(t, "A", e.GetUnique()[0].Tickers[0])
}

func TestRecordsDoNotAliasAcrossPartitions(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.AddNews(context.Background(), item(profit, types.PolarityPositive, 7, "A", "B"))
	require.NoError(t, err)

	b := e.Records("B")[0]
	a := e.Records("A")[0]
	a.Embedding[0] = 42
	a.Signature.Values[0] = 7

	assert.Equal(t, b.Embedding[0], e.Records("B")[0].Embedding[0])
	assert.Equal(t, b.Embedding[0], e.Records("A")[0].Embedding[0])
	assert.Equal(t, b.Signature.Values[0], e.Records("A")[0].Signature.Values[0])
}

func TestNewRequiresEmbedder(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestNewRejectsBadPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.LowThresh = 0.95
	_, err := New(&fakeEmbedder{}, cfg)
	assert.Error(t, err)
}

func TestNewRejectsZeroJaccardThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.ThresholdJaccard = 0
	_, err := New(&fakeEmbedder{}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold_jaccard")
}
