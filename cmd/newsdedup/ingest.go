package newsdedup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soundprediction/newsdedup/pkg/checkpoint"
	"github.com/soundprediction/newsdedup/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run a batch of news items through the detector",
	Long: `Read news items from a YAML (or JSON) file, submit them in order and print
the unique ones. The file is either a list of items or a mapping with a
"news" list:

  news:
    - text: "Sberbank raised its dividend"
      tickers: [SBER]
      polarity: POSITIVE
      intensity: 6

Use --file - to read from stdin.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringP("file", "f", "", "YAML or JSON file with news items")
	ingestCmd.Flags().Bool("quiet", false, "Do not print unique news")
	ingestCmd.Flags().String("checkpoint-dir", "", "Record progress here and resume an interrupted batch (needs a replayed store)")
	ingestCmd.MarkFlagRequired("file")
}

type ingestItem struct {
	Text      string   `yaml:"text"`
	Tickers   []string `yaml:"tickers"`
	Polarity  string   `yaml:"polarity"`
	Intensity int      `yaml:"intensity"`
}

// decodeItems accepts a top-level list or a {news: [...]} document.
func decodeItems(r io.Reader) ([]types.NewsItem, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var raw []ingestItem
	if err := yaml.Unmarshal(data, &raw); err != nil {
		var doc struct {
			News []ingestItem `yaml:"news"`
		}
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("decode news file: %w", err)
		}
		raw = doc.News
	}

	items := make([]types.NewsItem, 0, len(raw))
	for i, it := range raw {
		p, err := types.ParsePolarity(it.Polarity)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, types.NewsItem{
			Text:      it.Text,
			Tickers:   it.Tickers,
			Polarity:  p,
			Intensity: it.Intensity,
		})
	}
	return items, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	quiet, _ := cmd.Flags().GetBool("quiet")

	checkpointDir, _ := cmd.Flags().GetString("checkpoint-dir")

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	items, err := decodeItems(bytes.NewReader(data))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var mgr *checkpoint.Manager
	cp := &checkpoint.BatchCheckpoint{Total: len(items)}
	if checkpointDir != "" {
		if mgr, err = checkpoint.NewManager(checkpointDir); err != nil {
			return err
		}
		if cp, err = mgr.Start(ctx, checkpoint.BatchID(data), path, len(items)); err != nil {
			return err
		}
		if cp.Next > 0 {
			if !rt.cfg.Store.Replay {
				rt.logger.Warn("resuming without store replay; earlier items are not in the partitions")
			}
			rt.logger.Info("resuming batch", "batch", cp.BatchID, "next", cp.Next+1, "total", cp.Total)
		}
	}

	failed := 0
	for i := cp.Next; i < len(items); i++ {
		res, err := rt.engine.AddNews(ctx, items[i])
		switch {
		case errors.Is(err, types.ErrInvalidNews):
			rt.logger.Warn("skipping invalid item", "item", i+1, "error", err)
			cp.Invalid++
		case err != nil:
			err = fmt.Errorf("item %d: %w", i+1, err)
			if mgr != nil {
				if saveErr := mgr.RecordError(ctx, cp, err); saveErr != nil {
					rt.logger.Error("failed to save checkpoint", "error", saveErr)
				}
			}
			return err
		default:
			if res.Accepted {
				cp.Accepted++
			} else {
				cp.Rejected++
			}
			if err := res.Err(); err != nil {
				rt.logger.Warn("item partially failed", "item", i+1, "error", err)
				failed++
			}
		}
		cp.Next = i + 1
		if mgr != nil {
			if err := mgr.Save(ctx, cp); err != nil {
				return err
			}
		}
	}
	if mgr != nil {
		if err := mgr.Delete(ctx, cp.BatchID); err != nil {
			rt.logger.Warn("failed to remove checkpoint", "error", err)
		}
	}

	unique := rt.engine.GetUnique()
	rt.logger.Info("ingest finished",
		"items", len(items), "unique", len(unique), "invalid", cp.Invalid, "partial_failures", failed)
	if !quiet {
		printUnique(cmd.OutOrStdout(), unique)
	}
	return nil
}

func printUnique(w io.Writer, entries []types.AcceptedNewsEntry) {
	for i, e := range entries {
		fmt.Fprintf(w, "%d. [%s] %s\n", i+1, strings.Join(e.Tickers, ", "), e.Text)
	}
}
