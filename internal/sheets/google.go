package sheets

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Config points the sink at a spreadsheet.
type Config struct {
	SpreadsheetID   string
	Tab             string
	CredentialsFile string
	// Timeout bounds each values API call; zero means DefaultTimeout.
	Timeout time.Duration
}

// New connects to Google Sheets with a service-account file. A missing id,
// a missing credentials file or a failed client build all return a disabled
// sink, so a run can proceed as a dry run.
func New(ctx context.Context, cfg Config, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SpreadsheetID == "" {
		logger.Info("sheet sink disabled: no spreadsheet id")
		return Disabled(logger)
	}
	if _, err := os.Stat(cfg.CredentialsFile); err != nil {
		logger.Warn("sheet sink disabled: credentials unavailable",
			zap.String("credentials_file", cfg.CredentialsFile), zap.Error(err))
		return Disabled(logger)
	}
	svc, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		logger.Warn("sheet sink disabled: build client", zap.Error(err))
		return Disabled(logger)
	}
	return NewWithAPI(&googleValues{svc: svc, spreadsheetID: cfg.SpreadsheetID}, cfg.Tab, logger).
		WithTimeout(cfg.Timeout)
}

type googleValues struct {
	svc           *gsheets.Service
	spreadsheetID string
}

func (g *googleValues) Get(ctx context.Context, rng string) ([][]any, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (g *googleValues) Update(ctx context.Context, rng string, values [][]any, inputOption string) error {
	_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, &gsheets.ValueRange{Values: values}).
		ValueInputOption(inputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (g *googleValues) Append(ctx context.Context, rng string, values [][]any, inputOption string) error {
	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, rng, &gsheets.ValueRange{Values: values}).
		ValueInputOption(inputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append %s: %w", rng, err)
	}
	return nil
}
