// Package queue feeds news items from a Redis list into the dedup engine.
//
// Producers RPUSH JSON-encoded news items onto the queue key; the consumer
// BLPOPs them in order. Items that fail validation or cannot be decoded go to
// the dead-letter list. Items whose tickers failed for transient reasons are
// pushed back with only the failed tickers until MaxAttempts is reached.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soundprediction/newsdedup"
	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/soundprediction/newsdedup/pkg/types"
	"github.com/soundprediction/newsdedup/pkg/utils"
)

// DefaultMaxAttempts bounds how often an item with failed tickers is retried.
const DefaultMaxAttempts = 3

// writeTimeout bounds requeue and dead-letter writes. They run detached from
// the worker context so an item popped before shutdown is not dropped.
const writeTimeout = 5 * time.Second

// Lists is the subset of the Redis client the consumer uses.
type Lists interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// Adder is implemented by newsdedup.Engine.
type Adder interface {
	AddNews(ctx context.Context, item types.NewsItem) (*newsdedup.AddResult, error)
}

// Message is the queued form of a news item.
type Message struct {
	types.NewsItem
	Attempts int `json:"attempts,omitempty"`
}

// DeadLetter records why an item was dropped.
type DeadLetter struct {
	Payload string    `json:"payload"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Connect parses url, which may be a redis:// URL or a bare host:port, and
// pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opt.Addr, err)
	}
	return client, nil
}

// Consumer pops news items and hands them to an Adder.
type Consumer struct {
	lists       Lists
	adder       Adder
	key         string
	deadKey     string
	pollTimeout time.Duration
	workers     int
	maxAttempts int
	logger      *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats counts consumer outcomes.
type Stats struct {
	Processed int `json:"processed"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
}

// NewConsumer creates a Consumer from cfg.
func NewConsumer(lists Lists, adder Adder, cfg config.QueueConfig, logger *slog.Logger) (*Consumer, error) {
	if lists == nil || adder == nil {
		return nil, errors.New("queue consumer needs a redis client and an adder")
	}
	if cfg.Key == "" {
		return nil, errors.New("queue key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		lists:       lists,
		adder:       adder,
		key:         cfg.Key,
		deadKey:     cfg.DeadLetterKey,
		pollTimeout: cfg.PollTimeout,
		workers:     cfg.MaxConcurrency,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.With("queue", cfg.Key),
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 5 * time.Second
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	return c, nil
}

// Stats returns a copy of the counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Push enqueues item.
func Push(ctx context.Context, lists Lists, key string, item types.NewsItem) error {
	data, err := json.Marshal(Message{NewsItem: item})
	if err != nil {
		return err
	}
	return lists.RPush(ctx, key, data).Err()
}

// Run starts the workers and blocks until ctx is cancelled or a worker hits a
// Redis error. A cancelled context is not reported as an error.
func (c *Consumer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.logger.Info("queue consumer started", "workers", c.workers)
	errs := make(chan error, c.workers)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			if err := c.loop(ctx); err != nil {
				errs <- fmt.Errorf("worker %d: %w", worker, err)
				cancel()
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	c.logger.Info("queue consumer stopped", "processed", c.Stats().Processed)
	return errors.Join(all...)
}

func (c *Consumer) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Poll waits up to the poll timeout for one item and processes it. It
// reports whether an item was handled.
func (c *Consumer) Poll(ctx context.Context) (bool, error) {
	res, err := c.lists.BLPop(ctx, c.pollTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop from %s: %w", c.key, err)
	}
	if len(res) < 2 {
		return false, nil
	}
	payload := res[1]

	if err := c.safeHandle(ctx, payload); err != nil {
		c.logger.Error("queued item failed", "error", err)
		c.deadLetter(ctx, payload, err)
	}
	return true, nil
}

func (c *Consumer) safeHandle(ctx context.Context, payload string) (err error) {
	defer utils.RecoverAsError(&err)
	return c.handle(ctx, payload)
}

func (c *Consumer) handle(ctx context.Context, payload string) error {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("decode queued item: %w", err)
	}

	result, err := c.adder.AddNews(ctx, msg.NewsItem)
	c.count(func(s *Stats) { s.Processed++ })
	switch {
	case errors.Is(err, types.ErrInvalidNews):
		return err
	case err != nil:
		// Embedding failures happen before any partition is touched, so the
		// whole item is retried.
		return c.retry(ctx, msg, msg.Tickers, err)
	}

	c.count(func(s *Stats) {
		if result.Entry != nil {
			s.Accepted++
		} else if len(result.Failed) == 0 {
			s.Rejected++
		}
	})
	if len(result.Failed) == 0 {
		c.logger.Debug("queued item processed",
			"accepted", result.AcceptedTickers, "rejected", result.Rejected)
		return nil
	}
	failed := make([]string, 0, len(result.Failed))
	for t := range result.Failed {
		failed = append(failed, t)
	}
	return c.retry(ctx, msg, failed, result.Err())
}

// retry pushes msg back with only tickers. An attempt interrupted by
// cancellation of ctx does not count against MaxAttempts.
func (c *Consumer) retry(ctx context.Context, msg Message, tickers []string, cause error) error {
	if ctx.Err() == nil {
		msg.Attempts++
	}
	if msg.Attempts >= c.maxAttempts {
		return fmt.Errorf("giving up after %d attempts: %w", msg.Attempts, cause)
	}
	msg.Tickers = tickers
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.push(ctx, c.key, data); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	c.count(func(s *Stats) { s.Retried++ })
	c.logger.Warn("queued item requeued", "tickers", tickers, "attempt", msg.Attempts, "error", cause)
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, payload string, cause error) {
	c.count(func(s *Stats) { s.Dead++ })
	if c.deadKey == "" {
		return
	}
	data, err := json.Marshal(DeadLetter{Payload: payload, Error: cause.Error(), At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := c.push(ctx, c.deadKey, data); err != nil {
		c.logger.Error("failed to write dead letter", "error", err, "payload", payload)
	}
}

func (c *Consumer) push(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return c.lists.RPush(ctx, key, data).Err()
}

func (c *Consumer) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// Depth returns the number of items waiting on the queue.
func (c *Consumer) Depth(ctx context.Context) (int64, error) {
	return c.lists.LLen(ctx, c.key).Result()
}
