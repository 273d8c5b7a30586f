package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/pricewatch/internal/config"
	"github.com/elonfeng/pricewatch/internal/logging"
	"github.com/elonfeng/pricewatch/internal/scheduler"
	"github.com/elonfeng/pricewatch/internal/store"
	"github.com/elonfeng/pricewatch/pkg/alert"
	"github.com/elonfeng/pricewatch/pkg/fetch"
	"github.com/elonfeng/pricewatch/pkg/price"
	"github.com/elonfeng/pricewatch/pkg/server"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func buildScheduler(cfg *config.Config, db store.Store, logger *zap.Logger) *scheduler.Scheduler {
	fetcher := fetch.NewClient(cfg.Fetch.ParseTimeout(), cfg.Fetch.UserAgent)
	extractor := price.NewExtractor(cfg.Extract.Selector)
	evaluator := alert.NewEvaluator(logger, buildAlertManager(cfg))

	return scheduler.New(db, fetcher, extractor, evaluator, logger,
		cfg.Schedule.ParseCycleInterval(),
		cfg.Schedule.ParseRecheckWindow(),
	)
}

func runTrack() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sched := buildScheduler(cfg, db, logger)
	return sched.TryRunCycle(context.Background())
}

func runProducts() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	products, err := db.ListProducts(context.Background())
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}

	if len(products) == 0 {
		fmt.Println("no products tracked (add one via POST /api/products)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCURRENT\tLAST CHECKED\tURL")
	for _, p := range products {
		current := "-"
		if p.CurrentPrice != nil {
			current = fmt.Sprintf("%.2f", *p.CurrentPrice)
		}
		checked := "never"
		if p.LastChecked != nil {
			checked = p.LastChecked.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.Name, current, checked, p.URL)
	}
	return w.Flush()
}

func runHistory(arg string, jsonOutput bool) error {
	productID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid product id %q", arg)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	history, err := db.History(context.Background(), productID)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}

	if len(history) == 0 {
		fmt.Println("no observations yet (run a cycle first: pricewatch track)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRICE\tTIMESTAMP")
	for _, p := range history {
		fmt.Fprintf(w, "%.2f\t%s\n", p.Price, p.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	srv := server.New(db, nil, logger, port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sched := buildScheduler(cfg, db, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Scheduler runs in the background; the API server owns the
	// foreground.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler", zap.Error(err))
		}
	}()

	srv := server.New(db, sched, logger, port)
	return srv.ListenAndServe()
}
