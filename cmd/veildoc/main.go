package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veildoc/veildoc/internal/batch"
	"github.com/veildoc/veildoc/internal/cache"
	"github.com/veildoc/veildoc/internal/config"
	"github.com/veildoc/veildoc/internal/logger"
	"github.com/veildoc/veildoc/internal/redact"
	"github.com/veildoc/veildoc/internal/report"
	"github.com/veildoc/veildoc/internal/rules"
	"github.com/veildoc/veildoc/internal/server"
	"github.com/veildoc/veildoc/internal/store"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		maskFile    = flag.String("mask", "", "Redact a single document and exit")
		batchDir    = flag.String("batch", "", "Redact every document in a directory and exit")
		outPath     = flag.String("out", "", "Output path for -mask or -batch")
		exportRules = flag.String("export-rules", "", "Write the rule catalog to a JSON file and exit")
		importRules = flag.String("import-rules", "", "Load the rule catalog from a JSON file before running")
		verifyRules = flag.Bool("verify-rules", false, "Replay every rule's example through the engine and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("veildoc %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var ruleStore *store.RuleStore
	if cfg.Store.Enabled {
		ruleStore, err = store.New(&cfg.Store, log.WithComponent("store").Logger)
		if err != nil {
			log.Fatal("Failed to connect rule store", zap.Error(err))
		}
		defer ruleStore.Close()
	}

	catalog, engine, err := buildEngine(cfg, *importRules, ruleStore, log)
	if err != nil {
		log.Fatal("Failed to build rule engine", zap.Error(err))
	}

	if *exportRules != "" {
		if err := catalog.ExportFile(*exportRules); err != nil {
			log.Fatal("Failed to export rules", zap.Error(err))
		}
		fmt.Printf("Exported %d rules to %s\n", len(catalog.Rules()), *exportRules)
		return
	}

	if *verifyRules {
		failures := catalog.VerifyExamples(engine)
		for _, f := range failures {
			fmt.Fprintln(os.Stderr, f)
		}
		if len(failures) > 0 {
			os.Exit(1)
		}
		fmt.Println("All rule examples verified")
		return
	}

	lists, err := rules.LoadCustomLists(cfg.Redaction.CustomFile)
	if err != nil {
		log.Fatal("Failed to load custom lists", zap.Error(err))
	}

	if *maskFile != "" {
		runMaskFile(cfg, catalog, engine, lists, *maskFile, *outPath, log)
		return
	}

	if *batchDir != "" {
		runBatch(cfg, catalog, engine, lists, *batchDir, *outPath, log)
		return
	}

	runServer(cfg, catalog, engine, ruleStore, log)
}

// buildEngine assembles the rule catalog and masking engine from
// configuration: an optional rules file or database catalog, the active
// rule selection, and the fail mode.
func buildEngine(cfg *config.Config, importFile string, ruleStore *store.RuleStore, log *logger.Logger) (*rules.Catalog, *rules.Engine, error) {
	catalog := rules.NewCatalog(log.WithComponent("rules"))

	switch {
	case importFile != "":
		if err := catalog.ImportFile(importFile); err != nil {
			return nil, nil, err
		}
	case cfg.Redaction.RulesFile != "":
		if err := catalog.ImportFile(cfg.Redaction.RulesFile); err != nil {
			return nil, nil, err
		}
	case ruleStore != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		records, err := ruleStore.Load(ctx)
		if err != nil {
			return nil, nil, err
		}
		if len(records) > 0 {
			if err := catalog.Import(records); err != nil {
				return nil, nil, err
			}
		}
	}

	if len(cfg.Redaction.Rules) > 0 {
		if err := catalog.SelectActive(cfg.Redaction.Rules); err != nil {
			return nil, nil, err
		}
	}

	failMode := rules.FailOpen
	if cfg.Redaction.FailMode == "closed" {
		failMode = rules.FailClosed
	}
	marker := []rune(cfg.Redaction.Marker)[0]
	engine := rules.NewEngine(marker, failMode, log.WithComponent("engine"))
	return catalog, engine, nil
}

// runMaskFile redacts one document with the active rules and exits.
func runMaskFile(cfg *config.Config, catalog *rules.Catalog, engine *rules.Engine, lists rules.CustomLists, input, output string, log *logger.Logger) {
	marker := []rune(cfg.Redaction.Marker)[0]
	session := redact.NewSession(catalog, engine, cfg.Fonts.FallbackFiles, marker, log.WithComponent("session"))

	if err := session.Open(input); err != nil {
		log.Fatal("Failed to open document", zap.Error(err))
	}
	ops, err := session.ApplyActiveRules(lists)
	if err != nil {
		log.Fatal("Redaction failed", zap.Error(err))
	}
	if output == "" {
		output = input + ".redacted"
	}
	if err := session.Save(output); err != nil {
		log.Fatal("Failed to save document", zap.Error(err))
	}

	fmt.Printf("Redacted %s: %d operations, written to %s\n", input, len(ops), output)
	for _, d := range engine.Diagnostics() {
		fmt.Fprintf(os.Stderr, "warning: rule %s: %s\n", d.RuleID, d.Message)
	}
}

// runBatch redacts every document in a directory sequentially.
func runBatch(cfg *config.Config, catalog *rules.Catalog, engine *rules.Engine, lists rules.CustomLists, inputDir, outputDir string, log *logger.Logger) {
	inputs, err := batch.CollectInputs(inputDir)
	if err != nil {
		log.Fatal("Failed to list input directory", zap.Error(err))
	}
	if outputDir == "" {
		outputDir = inputDir + "_redacted"
	}

	marker := []rune(cfg.Redaction.Marker)[0]
	session := redact.NewSession(catalog, engine, cfg.Fonts.FallbackFiles, marker, log.WithComponent("session"))
	proc := batch.NewProcessor(session, lists, log.WithComponent("batch"))
	proc.OnProgress = func(p batch.Progress) {
		status := "ok"
		if !p.Succeeded {
			status = "failed: " + p.Result.Error
		}
		fmt.Printf("[%d/%d] %s %s\n", p.Index, p.Total, p.File, status)
	}

	summary, err := proc.Process(context.Background(), inputs, outputDir)
	if err != nil {
		log.Fatal("Batch aborted", zap.Error(err))
	}

	fmt.Printf("Batch done: %d total, %d succeeded, %d failed in %s\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Duration)

	if cfg.Reports.Enabled {
		writer := report.NewWriter(cfg.Reports, log.Logger)
		path, err := writer.Write(summary.Results)
		if err != nil {
			log.Error("Failed to write batch report", zap.Error(err))
		} else {
			fmt.Printf("Report written to %s\n", path)
		}
	}

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// runServer starts the HTTP server until a shutdown signal.
func runServer(cfg *config.Config, catalog *rules.Catalog, engine *rules.Engine, ruleStore *store.RuleStore, log *logger.Logger) {
	var maskCache *cache.MaskCache
	if cfg.Cache.Enabled {
		mc, err := cache.New(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to connect mask cache", zap.Error(err))
		}
		defer mc.Close()
		maskCache = mc
	}

	// A typed nil must not become a non-nil interface.
	var persister server.RulePersister
	if ruleStore != nil {
		persister = ruleStore
	}

	srv := server.New(cfg, catalog, engine, maskCache, persister, log)

	// Reselect active rules when the config file changes on disk.
	if err := config.Watch(cfg, func(updated *config.Config) {
		if err := catalog.SelectActive(updated.Redaction.Rules); err != nil {
			log.Warn("Ignoring config change with unknown rules", zap.Error(err))
			return
		}
		log.Info("Active rules updated from config",
			zap.Strings("rules", updated.Redaction.Rules))
	}); err != nil {
		log.Warn("Config watch unavailable", zap.Error(err))
	}

	log.Info("Starting veildoc",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8090/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
