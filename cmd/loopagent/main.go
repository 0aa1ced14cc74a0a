package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/loopagent/loopagent/internal/auditlog"
	"github.com/loopagent/loopagent/internal/capability"
	"github.com/loopagent/loopagent/internal/chain"
	"github.com/loopagent/loopagent/internal/config"
	"github.com/loopagent/loopagent/internal/metrics"
	"github.com/loopagent/loopagent/internal/oracle"
	"github.com/loopagent/loopagent/internal/prompt"
	"github.com/loopagent/loopagent/internal/scheduler"
	"github.com/loopagent/loopagent/internal/state"
	"github.com/loopagent/loopagent/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	once := flag.String("once", "", "run a single chain with the given initial context and exit")
	runOnce := flag.Bool("run", false, "run a single chain from the configured prompt and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if err := run(*configPath, *once, *runOnce); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, onceContext string, runOnce bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	stateDB, err := state.Open(cfg.Agent.DataDir)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer stateDB.Close()
	messages := state.NewMessageStore(stateDB)
	injections := state.NewInjectionStore(stateDB)

	audit, closeAudit, err := openAudit(cfg.Audit)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer closeAudit()

	registry := chain.NewRegistry()
	if err := registerCapabilities(cfg, registry, messages, injections); err != nil {
		return err
	}

	timeout, err := cfg.Oracle.ParseTimeout()
	if err != nil {
		return fmt.Errorf("oracle.timeout: %w", err)
	}
	client, err := oracle.FromConfig(oracle.ClientConfig{
		API:     cfg.Oracle.API,
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  cfg.Oracle.APIKey,
		Model:   cfg.Oracle.Model,
		Timeout: timeout,
	})
	if err != nil {
		return fmt.Errorf("building oracle client: %w", err)
	}

	prompts := prompt.New(cfg.Agent.PromptPath, messages, injections)

	opts := []chain.Option{
		chain.WithMaxIterations(cfg.Agent.MaxIterations),
		chain.WithHistoryWindow(cfg.Agent.HistoryWindow),
		chain.WithAuditLog(audit),
		chain.WithPromptSource(prompts),
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		opts = append(opts, chain.WithObserver(collector))
	}

	runner := chain.NewRunner(client, registry, opts...)

	if onceContext != "" || runOnce {
		outcome := runner.Run(context.Background(), onceContext)
		out, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding outcome: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	log.Printf("main: %s", version.Get())

	sched := scheduler.New(runner)
	if err := sched.Start(cfg.Jobs); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	var metricsSrv *http.Server
	if collector != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Printf("main: metrics listening on %s", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("main: metrics server: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Printf("main: shutting down")

	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	return nil
}

func openAudit(cfg config.AuditConfig) (auditlog.Log, func(), error) {
	switch cfg.Backend {
	case "none":
		return auditlog.Nop{}, func() {}, nil
	case "sqlite":
		db, err := auditlog.OpenSQLite(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	case "postgres":
		db, err := auditlog.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	case "redis":
		rl := auditlog.NewRedisLog(cfg.RedisAddr)
		return rl, func() { _ = rl.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}

func registerCapabilities(cfg *config.Config, registry *chain.Registry, messages *state.MessageStore, injections *state.InjectionStore) error {
	if cfg.Notify.Topic != "" {
		notifier := capability.NewNotifier(cfg.Notify.BaseURL, cfg.Notify.Topic, messages)
		if err := capability.RegisterNotifier(registry, notifier); err != nil {
			return err
		}
	}
	if err := capability.RegisterInjector(registry, capability.NewInjector(injections)); err != nil {
		return err
	}
	if cfg.Files.Root != "" {
		if err := capability.RegisterFileReader(registry, capability.NewFileReader(cfg.Files.Root)); err != nil {
			return err
		}
	}
	for _, l := range cfg.Lua {
		lc := capability.NewLuaCapability(l.Descriptor(), l.Script)
		if err := capability.RegisterLua(registry, lc); err != nil {
			return err
		}
	}
	return nil
}
