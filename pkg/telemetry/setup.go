package telemetry

import (
	"errors"
	"log/slog"

	"github.com/soundprediction/newsdedup/pkg/config"
)

// Wrap layers the handlers enabled in cfg over next. The returned close
// function flushes and releases them.
func Wrap(next slog.Handler, cfg config.TelemetryConfig) (slog.Handler, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	h := next
	if cfg.ParquetPath != "" {
		ph, err := NewParquetHandler(h, cfg.ParquetPath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, ph.Close)
		h = ph
	}
	if cfg.SQLitePath != "" {
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		h = NewSQLHandler(h, db)
	}
	return h, closeAll, nil
}
