package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gregtusar/greeks-sentiment/internal/config"
	"github.com/gregtusar/greeks-sentiment/internal/logging"
	"github.com/gregtusar/greeks-sentiment/pkg/gsheets"
	"github.com/gregtusar/greeks-sentiment/pkg/kite"
	"github.com/gregtusar/greeks-sentiment/pkg/ledger"
	"github.com/gregtusar/greeks-sentiment/pkg/market"
	"github.com/gregtusar/greeks-sentiment/pkg/sentiment"
	"google.golang.org/api/sheets/v4"
)

// app holds what every command builds from the config.
type app struct {
	cfg      *config.Config
	calendar *market.Calendar
	sheets   *sheets.Service
	tokens   *gsheets.TokenStore
	closer   io.Closer
}

// brokerSession is the resolved Kite credential pair and where it came from.
type brokerSession struct {
	apiKey      string
	accessToken string
	fromSheet   bool
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	configured, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger = configured

	calendar, err := market.NewCalendar(cfg.Market.Timezone, cfg.Market.SessionOpen, cfg.Market.SessionClose, cfg.Market.Holidays)
	if err != nil {
		closer.Close()
		return nil, err
	}

	a := &app{cfg: cfg, calendar: calendar, closer: closer}

	if cfg.SheetsEnabled() {
		srv, err := gsheets.NewService(ctx, cfg.Sheets.Credentials)
		if err != nil {
			closer.Close()
			return nil, err
		}
		a.sheets = srv
		if cfg.Sheets.TokenSheetID != "" {
			a.tokens = gsheets.NewTokenStore(gsheets.NewTab(srv, cfg.Sheets.TokenSheetID, cfg.Sheets.TokenTab))
		}
	}

	return a, nil
}

func (a *app) Close() error {
	return a.closer.Close()
}

// credentials prefers explicit configuration and falls back to the token sheet.
func (a *app) credentials(ctx context.Context) (brokerSession, error) {
	if a.cfg.Kite.APIKey != "" && a.cfg.Kite.AccessToken != "" {
		return brokerSession{apiKey: a.cfg.Kite.APIKey, accessToken: a.cfg.Kite.AccessToken}, nil
	}

	if a.tokens == nil {
		return brokerSession{}, errors.New("no Kite credentials: set KITE_API_KEY and KITE_ACCESS_TOKEN or configure the token sheet")
	}

	creds, err := a.tokens.Load(ctx)
	if err != nil {
		return brokerSession{}, err
	}
	logger.Info("Loaded Kite credentials from token sheet")

	return brokerSession{apiKey: creds.APIKey, accessToken: creds.AccessToken, fromSheet: true}, nil
}

// writeBackToken keeps the token sheet in step with a token supplied from elsewhere.
func (a *app) writeBackToken(ctx context.Context, session brokerSession) {
	if session.fromSheet || a.tokens == nil || !a.cfg.Sheets.WriteBackToken {
		return
	}
	if err := a.tokens.SaveAccessToken(ctx, session.accessToken); err != nil {
		logger.WithError(err).Warn("Failed to write access token back to sheet")
		return
	}
	logger.Info("Access token saved to token sheet")
}

func (a *app) kiteClient(session brokerSession) *kite.Client {
	return kite.NewClient(session.apiKey, session.accessToken, a.cfg.Kite.BaseURL, logger)
}

func (a *app) aggregator() (*sentiment.Aggregator, error) {
	return sentiment.NewAggregator(sentiment.Band{
		Lower: a.cfg.Sentiment.DeltaLower,
		Upper: a.cfg.Sentiment.DeltaUpper,
	})
}

// fanout returns the CSV log, mirrored to the sheet tab when one is configured.
func (a *app) fanout(csvPath, tab string) ledger.Log {
	var remote ledger.Log
	if a.sheets != nil && a.cfg.Sheets.GreeksSheetID != "" {
		remote = ledger.NewSheetLog(gsheets.NewTab(a.sheets, a.cfg.Sheets.GreeksSheetID, tab))
	}
	return ledger.NewFanout(ledger.NewCSVLog(csvPath), remote)
}
