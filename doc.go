// Package newsdedup detects near-duplicate news per ticker.
//
// Each ticker owns an independent partition holding the texts already
// accepted for it, indexed two ways: a MinHash LSH index over character
// shingles and an approximate nearest-neighbour index over embeddings. An
// incoming text is compared with the candidates both indexes return and is
// accepted for every ticker where no candidate is judged a duplicate.
//
// # Basic Usage
//
//	emb := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{Model: "text-embedding-3-small"})
//	engine, err := newsdedup.New(emb, newsdedup.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	res, err := engine.AddNews(ctx, types.NewsItem{
//		Text:      "Company A reports record quarterly profit",
//		Tickers:   []string{"A"},
//		Polarity:  types.PolarityPositive,
//		Intensity: 7,
//	})
//
// res.AcceptedTickers lists the tickers for which the text was new. GetUnique
// returns every accepted entry in insertion order.
//
// # Decision Policy
//
// Without further options a candidate is a duplicate when its sentiment is
// compatible and both the Jaccard estimate and the cosine similarity reach
// their thresholds. WithEscalator enables the tiered policy: verb/object
// agreement, a high-similarity tier, and a relation classifier for the
// ambiguous band between low and high cosine. See package pipeline.
//
// # Persistence
//
// The engine keeps its state in memory. WithSink receives a types.RecordTuple
// for every inserted record, and Restore rebuilds partitions from such tuples
// without calling the embedder again.
package newsdedup
