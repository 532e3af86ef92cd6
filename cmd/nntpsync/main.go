package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmcdole/nntpsync/internal/adapter"
	"github.com/mmcdole/nntpsync/internal/domain"
	"github.com/mmcdole/nntpsync/internal/metrics"
	"github.com/mmcdole/nntpsync/internal/service"
)

// Version is set at build time via -ldflags
var Version = "dev"

const usage = `usage: nntpsync [flags] <command> [args]

commands:
  list [query]          show groups, fuzzy-filtered by query
  subscribe GROUP...    subscribe to groups
  unsubscribe GROUP...  unsubscribe from groups
  catchup GROUP...      mark groups fully read
  uncatchup GROUP...    mark groups fully unread
  next                  print the first subscribed group with unread articles
  sweep                 remove caches of groups no longer wanted

flags:
`

func main() {
	var (
		showVersion bool
		configPath  string
		showStats   bool
	)
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&configPath, "config", "", "config file (default ~/.config/nntpsync/config.yaml)")
	flag.BoolVar(&showStats, "stats", false, "print sync counters on exit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("nntpsync %s\n", Version)
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(configPath, showStats, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		if domain.IsLockContention(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(configPath string, showStats bool, args []string) error {
	// Load configuration
	cfg, err := adapter.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, closeLog, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger, closeLog = adapter.NullLogger(), func() error { return nil }
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting nntpsync", "version", Version, "command", args[0])

	newsrcPath, err := adapter.ExpandNewsrcPath(cfg.News.Newsrc, cfg.News.Server)
	if err != nil {
		return err
	}
	cacheDir, err := adapter.ExpandHome(cfg.News.CacheDir)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	srv, err := service.NewServer(service.Options{
		ServerURL:        cfg.News.Server,
		NewsrcPath:       newsrcPath,
		CacheDir:         cacheDir,
		SaveUnsubscribed: cfg.News.SaveUnsubscribed,
		MarkOld:          cfg.News.MarkOld,
		LockTimeout:      cfg.News.LockTimeout,
		ReadOnly:         readOnly(args[0]),
		Logger:           logger,
		Metrics:          metrics.NewCollector(reg),
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	cmdErr := dispatch(context.Background(), srv, args[0], args[1:])
	if showStats {
		if err := printStats(os.Stdout, reg); err != nil {
			cmdErr = errors.Join(cmdErr, err)
		}
	}
	return cmdErr
}

func readOnly(cmd string) bool {
	return cmd == "list" || cmd == "next"
}

func dispatch(ctx context.Context, srv *service.Server, cmd string, args []string) error {
	switch cmd {
	case "list":
		if err := srv.Open(ctx, nil, false); err != nil {
			return err
		}
		query := ""
		if len(args) > 0 {
			query = args[0]
		}
		return listGroups(os.Stdout, srv, query)

	case "next":
		if err := srv.Open(ctx, nil, false); err != nil {
			return err
		}
		g, ok := srv.FirstUnreadGroup(nil)
		if !ok {
			fmt.Println(dimStyle.Render("no unread news"))
			return nil
		}
		fmt.Println(g.Name)
		return nil

	case "sweep":
		if err := srv.Open(ctx, nil, false); err != nil {
			return err
		}
		if !srv.Cacheable() {
			return domain.ErrCacheDisabled
		}
		if err := srv.Cache().SweepOrphans(srv.Registry()); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("caches swept"))
		return nil

	case "subscribe", "unsubscribe", "catchup", "uncatchup":
		if len(args) == 0 {
			return fmt.Errorf("%s: no groups given", cmd)
		}
		// Hold the lock from parse to rewrite so no other reader's edit is lost.
		if err := srv.Open(ctx, nil, true); err != nil {
			return err
		}
		for _, name := range args {
			if err := apply(srv, cmd, name); err != nil {
				return suggest(srv, name, err)
			}
			fmt.Printf("%s %s\n", successStyle.Render(cmd), name)
		}
		return srv.Commit()

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func apply(srv *service.Server, cmd, name string) error {
	var err error
	switch cmd {
	case "subscribe":
		_, err = srv.Subscribe(name)
	case "unsubscribe":
		_, err = srv.Unsubscribe(name)
	case "catchup":
		_, err = srv.Catchup(name, nil)
	case "uncatchup":
		_, err = srv.Uncatchup(name, nil)
	}
	return err
}

func suggest(srv *service.Server, name string, err error) error {
	if !errors.Is(err, domain.ErrGroupNotFound) {
		return err
	}
	if hints := srv.SuggestGroups(name, 3); len(hints) > 0 {
		return fmt.Errorf("%w (did you mean %s?)", err, joinOr(hints))
	}
	return err
}
