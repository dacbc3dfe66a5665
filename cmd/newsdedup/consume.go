package newsdedup

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soundprediction/newsdedup/pkg/queue"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume news items from a Redis list",
	Long: `Pop JSON news items from the configured Redis list and run each through
the detector. Producers RPUSH items such as

  {"text": "...", "tickers": ["SBER"], "polarity": "positive", "intensity": 6}

Invalid items are moved to the dead-letter list.`,
	RunE: runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
	consumeCmd.Flags().String("redis-url", "", "Redis URL (default from queue.url or REDIS_URL)")
	consumeCmd.Flags().String("key", "", "Redis list to consume")
}

func runConsume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if url, _ := cmd.Flags().GetString("redis-url"); url != "" {
		rt.cfg.Queue.URL = url
	}
	if key, _ := cmd.Flags().GetString("key"); key != "" {
		rt.cfg.Queue.Key = key
	}

	client, err := queue.Connect(ctx, rt.cfg.Queue.URL)
	if err != nil {
		return err
	}
	defer client.Close()

	consumer, err := queue.NewConsumer(client, rt.engine, rt.cfg.Queue, rt.logger)
	if err != nil {
		return err
	}
	if err := consumer.Run(ctx); err != nil {
		return err
	}
	s := consumer.Stats()
	rt.logger.Info("consumer finished",
		"processed", s.Processed, "accepted", s.Accepted, "rejected", s.Rejected,
		"retried", s.Retried, "dead", s.Dead)
	return nil
}
