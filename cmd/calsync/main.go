package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"calsync/internal/config"
	"calsync/internal/journal"
	appLog "calsync/internal/log"
	"calsync/internal/metrics"
	"calsync/internal/scrape"
	"calsync/internal/syncer"
	"calsync/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dryRun     bool
	debug      bool
	jsonLogs   bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	if flags.jsonLogs {
		appLog.SetFormat(appLog.FormatJSON)
	}
	appLog.Info("calsync starting", "version", version)

	if err := run(flags); err != nil {
		appLog.Error("calsync failed", err)
		os.Exit(1)
	}
	appLog.Info("calsync exiting")
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return err
	}
	conf.ApplyEnv()
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.Normalize()
	if err := conf.Validate(); err != nil {
		return err
	}
	appLog.SetLevel(logLevel(conf, flags.debug))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"view", conf.Source.View,
		"remote", conf.Remote.Kind,
		"journal", conf.Journal.Path,
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loginTimeout, _ := conf.LoginTimeout()

	scraper, err := scrape.New(scrapeOptions(conf, loginTimeout))
	if err != nil {
		return err
	}
	remote, err := newRemote(ctx, conf)
	if err != nil {
		return err
	}
	loc, err := resolveLocation(ctx, conf, remote)
	if err != nil {
		return err
	}
	appLog.Info("source times are read in", "timezone", loc.String())

	mm := metrics.NewManager()
	runner := &syncer.Runner{
		Scraper:   scraper,
		Remote:    remote,
		Policy:    policyFrom(conf, loc),
		DryRun:    flags.dryRun,
		Observers: []syncer.Observer{mm},
	}

	var history web.History
	if conf.Journal.Path != "" {
		j, err := journal.Open(conf.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		j.Keep = conf.Journal.Keep
		runner.Recorder = j
		history = j
	}

	if flags.once {
		_, err := runner.Run(ctx)
		return err
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		cron.WithLogger(cronLogger{}),
	)
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		// Failures are logged and journaled by the runner.
		_, _ = runner.Run(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	// First pass right away rather than waiting for the schedule.
	go func() { _, _ = runner.TryRun(ctx) }()

	opts := []web.Option{web.WithMetrics(mm.Handler())}
	if history != nil {
		opts = append(opts, web.WithHistory(history))
	}
	srv := web.NewServer(conf, runner, opts...)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

const version = "0.1.0"

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync pass and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Decide but do not change the remote calendar")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&cfg.jsonLogs, "json-logs", false, "Write logs as JSON lines")

	flag.Parse()

	return cfg
}
