package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"showsched/internal/config"
	appLog "showsched/internal/log"
	"showsched/internal/metadata"
	"showsched/internal/notify"
	"showsched/internal/recurrence"
	"showsched/internal/schedule"
	"showsched/internal/store"
	"showsched/internal/store/memstore"
	"showsched/internal/store/sqlite"
	"showsched/internal/tz"
	"showsched/internal/web"
)

const shutdownTimeout = 10 * time.Second

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	debug      bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(flags); err != nil {
		appLog.Error("showsched exited with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Sync()
}

func parseFlags(args []string) (flagConfig, error) {
	var cfg flagConfig

	fs := pflag.NewFlagSet("showsched", pflag.ContinueOnError)
	fs.StringVarP(&cfg.configPath, "config", "c", "/etc/showsched/config.yaml", "Path to config file")
	fs.StringVar(&cfg.envFile, "env-file", ".env", "Optional KEY=VALUE file loaded before SHOWSCHED_* overrides")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug logging with console output")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func run(flags flagConfig) error {
	if err := config.LoadEnvFiles(flags.envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
		conf.LogEncoding = "console"
	}
	appLog.Init(conf.LogLevel, conf.LogEncoding)

	appLog.Info("showsched starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.Database,
		"redis", conf.Redis.Addr != "",
		"metadata", conf.Metadata.BaseURL != "",
		"stats_report", conf.StatsReport,
	)

	loc, err := tz.Load(conf.Timezone)
	if err != nil {
		return err
	}

	st, err := openStore(conf.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	publisher, closePublisher := openPublisher(conf.Redis)
	defer closePublisher()

	var resolver metadata.Resolver = metadata.None{}
	if conf.Metadata.BaseURL != "" {
		resolver = metadata.NewFetcher(conf.Metadata.BaseURL, conf.Metadata.CacheDir)
	}

	svc := schedule.NewService(st,
		schedule.WithExpander(recurrence.NewRRuleExpander(conf.MaxOccurrences)),
		schedule.WithResolver(resolver),
		schedule.WithPublisher(publisher),
		schedule.WithLocation(loc),
		schedule.WithDefaults(schedule.Defaults{
			Format:           conf.ShowtimeDefaults.Format,
			Language:         conf.ShowtimeDefaults.Language,
			TicketsAvailable: conf.ShowtimeDefaults.TicketsAvailable,
		}),
		schedule.WithTitleSeparator(conf.TitleSeparator),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.StatsReport != "" {
		c := cron.New(cron.WithLocation(loc))
		if _, err := c.AddFunc(conf.StatsReport, func() { reportStats(ctx, svc) }); err != nil {
			return fmt.Errorf("schedule stats report: %w", err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		appLog.Info("stats report scheduled", "spec", conf.StatsReport)
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, svc).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	appLog.Info("showsched exiting")
	return nil
}

func openStore(path string) (store.Store, error) {
	if path == "" {
		appLog.Info("no database configured, using in-memory store")
		return memstore.New(), nil
	}
	st, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return st, nil
}

func openPublisher(rc config.RedisConfig) (notify.Publisher, func()) {
	if rc.Addr == "" {
		return notify.Nop{}, func() {}
	}
	r := notify.NewRedis(rc.Addr, rc.Channel)
	return r, func() {
		if err := r.Close(); err != nil {
			appLog.Error("redis close failed", err)
		}
	}
}
