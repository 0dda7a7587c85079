package main

import (
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gregtusar/greeks-sentiment/api"
	"github.com/gregtusar/greeks-sentiment/pkg/chain"
	"github.com/gregtusar/greeks-sentiment/pkg/greeks"
	"github.com/gregtusar/greeks-sentiment/pkg/gsheets"
	"github.com/gregtusar/greeks-sentiment/pkg/ledger"
	"github.com/gregtusar/greeks-sentiment/pkg/market"
	"github.com/gregtusar/greeks-sentiment/pkg/tracker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dryRun  bool
	iv      float64
	date    string
	logger  = logrus.New()
)

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})

	rootCmd := &cobra.Command{
		Use:           "greeks-sentiment",
		Short:         "Option Greeks sentiment tracker",
		Long:          `Pulls the nearest-expiry index option chain, sums Delta, Vega and Theta across a delta band and appends the result to a CSV and spreadsheet log`,
		RunE:          runTrack,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	trackCmd := &cobra.Command{
		Use:   "track",
		Short: "Fetch the option chain once and log the aggregate",
		RunE:  runTrack,
	}
	for _, cmd := range []*cobra.Command{rootCmd, trackCmd} {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "aggregate and print without writing any log")
	}

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Rebuild a day of Greeks from index candles at a fixed implied volatility",
		RunE:  runBackfill,
	}
	backfillCmd.Flags().Float64Var(&iv, "iv", 0, "implied volatility as a decimal, e.g. 0.15")
	backfillCmd.Flags().StringVar(&date, "date", "", "trading day YYYY-MM-DD (default is the last trading day)")
	_ = backfillCmd.MarkFlagRequired("iv")

	ohlcCmd := &cobra.Command{
		Use:   "ohlc",
		Short: "Append the last trading day's index candles to the OHLC sheet",
		RunE:  runOHLC,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the greeks log to the dashboard",
		RunE:  runServe,
	}

	rootCmd.AddCommand(trackCmd, backfillCmd, ohlcCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

func runTrack(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	creds, err := a.credentials(ctx)
	if err != nil {
		return err
	}
	client := a.kiteClient(creds)

	agg, err := a.aggregator()
	if err != nil {
		return err
	}

	source := chain.NewKiteSource(client, a.cfg.Kite.Exchange, a.cfg.Kite.Symbol, a.calendar.Location(), logger).
		WithIndex(a.cfg.Kite.IndexKey)

	var log, openLog ledger.Log
	if dryRun {
		log, openLog = ledger.NewMemory(), ledger.NewMemory()
	} else {
		log = a.fanout(a.cfg.Output.LogCSV, a.cfg.Sheets.LogTab)
		openLog = a.fanout(a.cfg.Output.OpenCSV, a.cfg.Sheets.OpenTab)
	}

	t := tracker.NewTracker(source, agg, log, a.calendar, logger).
		WithOpenLog(openLog).
		SkipClosedMarket(a.cfg.Market.SkipClosed)
	if a.cfg.Kite.ValidateToken {
		t.WithProfileCheck(client)
	}

	result, err := t.Run(ctx)
	if errors.Is(err, market.ErrMarketClosed) {
		return nil
	}
	if result != nil {
		tracker.PrintSummary(os.Stdout, a.calendar.Location(), *result)
	}
	if err != nil {
		return err
	}

	if !dryRun {
		a.writeBackToken(ctx, creds)
	}
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	day := a.calendar.LastTradingDay(time.Now())
	if date != "" {
		if day, err = a.calendar.ParseDay(date); err != nil {
			return err
		}
	}

	creds, err := a.credentials(ctx)
	if err != nil {
		return err
	}

	agg, err := a.aggregator()
	if err != nil {
		return err
	}

	backfill := tracker.NewBackfill(
		a.kiteClient(creds),
		greeks.NewCalculator(a.cfg.Sentiment.RiskFreeRate),
		agg,
		a.calendar,
		ledger.NewCSVLog(a.cfg.Output.OpenCSV),
		tracker.BackfillConfig{
			Exchange:       a.cfg.Kite.Exchange,
			Symbol:         a.cfg.Kite.Symbol,
			IndexToken:     a.cfg.Kite.IndexToken,
			Interval:       a.cfg.Sentiment.CandleInterval,
			HistoricalPath: a.cfg.Output.HistoricalCSV,
		},
		logger,
	)

	changes, err := backfill.Run(ctx, day, iv)
	if err != nil {
		return err
	}

	logger.WithField("rows", len(changes)).Info("Backfill complete")
	return nil
}

func runOHLC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.sheets == nil || a.cfg.Sheets.OHLCSheetID == "" {
		return errors.New("ohlc export needs sheets.credentials and sheets.ohlc_sheet_id")
	}

	creds, err := a.credentials(ctx)
	if err != nil {
		return err
	}

	tab := gsheets.NewTab(a.sheets, a.cfg.Sheets.OHLCSheetID, a.cfg.Sheets.OHLCTab)
	export := tracker.NewOHLCExport(a.kiteClient(creds), tab, a.calendar, a.cfg.Kite.IndexToken, a.cfg.Sentiment.CandleInterval, logger)

	_, err = export.Run(ctx)
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var log, openLog ledger.Log
	switch a.cfg.Server.Source {
	case "sheet":
		if a.sheets == nil || a.cfg.Sheets.GreeksSheetID == "" {
			return errors.New("server.source=sheet needs sheets.credentials and sheets.greeks_sheet_id")
		}
		log = ledger.NewSheetLog(gsheets.NewTab(a.sheets, a.cfg.Sheets.GreeksSheetID, a.cfg.Sheets.LogTab))
		openLog = ledger.NewSheetLog(gsheets.NewTab(a.sheets, a.cfg.Sheets.GreeksSheetID, a.cfg.Sheets.OpenTab))
	default:
		log = ledger.NewCSVLog(a.cfg.Output.LogCSV)
		openLog = ledger.NewCSVLog(a.cfg.Output.OpenCSV)
	}

	server := api.NewServer(log, openLog, a.calendar, logger, api.Options{
		Port:            strconv.Itoa(a.cfg.Server.Port),
		JWTSecret:       a.cfg.Server.JWTSecret,
		RefreshInterval: time.Duration(a.cfg.Server.RefreshInterval) * time.Second,
	})

	logger.Info("Dashboard API is running. Press Ctrl+C to stop.")
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("Dashboard API stopped")
	return nil
}
