package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	apiPkg "github.com/h1v3-io/talktome/internal/api"
	"github.com/h1v3-io/talktome/internal/config"
	"github.com/h1v3-io/talktome/internal/connector"
	slackconn "github.com/h1v3-io/talktome/internal/connector/slack"
	"github.com/h1v3-io/talktome/internal/connector/webhook"
	"github.com/h1v3-io/talktome/internal/dedup"
	"github.com/h1v3-io/talktome/internal/helpdesk/zendesk"
	"github.com/h1v3-io/talktome/internal/logbuf"
	"github.com/h1v3-io/talktome/internal/scheduler"
	"github.com/h1v3-io/talktome/internal/talk"
	"github.com/h1v3-io/talktome/internal/ticket"
	"github.com/h1v3-io/talktome/internal/workflow"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

func main() {
	flags := pflag.NewFlagSet("talktomed", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "Path to config YAML/JSON file (default: TALKTOME_* environment)")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the environment is read")
	verbose := flags.BoolP("verbose", "v", false, "Verbose logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, logBuf); err != nil {
		logger.Error("talktomed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("talktomed stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, logBuf *logbuf.Buffer) error {
	// 1. Workflows
	trees, err := workflow.LoadDir(cfg.Workflows.Glob)
	if err != nil {
		return err
	}
	if len(trees) == 0 {
		return fmt.Errorf("no workflow files match %q", cfg.Workflows.Glob)
	}
	reg, err := workflow.NewRegistry(trees...)
	if err != nil {
		return err
	}
	for _, label := range reg.Labels() {
		tree, _ := reg.Get(label)
		if dups := tree.Duplicates(); len(dups) > 0 {
			logger.Warn("workflow reuses action ids, the first match in search order wins",
				"workflow", label, "actions", dups)
		}
	}
	logger.Info("talktomed starting", "workflows", reg.Len(), "backend", cfg.Helpdesk.Backend)

	// 2. Chat and helpdesk backends
	gw, err := slackconn.NewGateway(slackconn.Config{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		Domain:   cfg.Bot.Domain,
		APIURL:   cfg.Slack.APIURL,
		BotName:  cfg.Bot.Name,
	}, logger.With("component", "slack"))
	if err != nil {
		return err
	}

	desk, closeDesk, err := openHelpdesk(cfg, logger.With("component", "helpdesk"))
	if err != nil {
		return err
	}
	defer closeDesk()

	// 3. One engine per workflow
	disp, err := buildDispatcher(cfg, reg, gw, desk, logger)
	if err != nil {
		return err
	}

	// 4. Scheduled sweeps
	sched := scheduler.New(func(ctx context.Context, label string) {
		sweep(ctx, disp, label, logger)
	}, logger.With("component", "scheduler"))
	for _, label := range disp.Labels() {
		e, _ := disp.Engine(label)
		spec := e.Schedule()
		if spec == "" {
			spec = cfg.Workflows.Schedule
		}
		if err := sched.Schedule(label, spec); err != nil {
			return err
		}
	}
	logger.Info("sweeps scheduled", "workflows", sched.Labels())
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 5. Action ingress
	guard, closeGuard, err := openGuard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeGuard()
	handler := dedup.Wrap(guard, actionHandler(disp, logger), logger.With("component", "dedup"))

	var listeners []connector.Listener
	if cfg.Slack.AppToken != "" {
		listeners = append(listeners, slackconn.NewListener(gw, handler, logger.With("connector", "slack")))
	}
	for _, l := range listeners {
		go safeGo(logger, l.Name(), func() {
			if err := l.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("listener stopped", "listener", l.Name(), "error", err)
			}
		})
	}

	var slackActions *webhook.Handler
	if cfg.Slack.SigningSecret != "" || cfg.Slack.VerificationToken != "" {
		slackActions = webhook.New(webhook.Config{
			SigningSecret:     cfg.Slack.SigningSecret,
			VerificationToken: cfg.Slack.VerificationToken,
		}, handler, logger.With("connector", "webhook"))
	}

	// 6. API server
	svc := &workflowService{disp: disp, sched: sched}
	apiSrv := apiPkg.NewServer(svc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf, apiHandler(slackActions))
	go safeGo(logger, "api-server", func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server stopped", "error", err)
		}
	})

	// 7. Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down")
	for _, l := range listeners {
		l.Stop()
	}
	if slackActions != nil {
		slackActions.Wait()
	}
	return nil
}

// helpdesk is what every ticket backend provides.
type helpdesk interface {
	talk.TicketSource
	talk.TicketUpdater
}

func openHelpdesk(cfg *config.Config, logger *slog.Logger) (helpdesk, func(), error) {
	switch cfg.Helpdesk.Backend {
	case config.BackendSQLite:
		store, err := ticket.NewSQLiteStore(cfg.Helpdesk.DBPath, cfg.Helpdesk.BotAuthor, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		client, err := zendesk.New(zendesk.Config{
			URL:       cfg.Helpdesk.URL,
			Email:     cfg.Helpdesk.Email,
			APIToken:  cfg.Helpdesk.APIToken,
			BotAuthor: cfg.Helpdesk.BotAuthor,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
}

func openGuard(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dedup.Guard, func(), error) {
	if cfg.Redis.Addr == "" {
		return dedup.NewMemory(config.DefaultDedupTTL), func() {}, nil
	}
	g, err := dedup.NewRedis(ctx, dedup.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("action dedup on redis", "addr", cfg.Redis.Addr)
	return g, func() { g.Close() }, nil
}

func buildDispatcher(cfg *config.Config, reg *workflow.Registry, chat talk.ChatGateway, desk helpdesk, logger *slog.Logger) (*talk.Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	statuses := make([]protocol.TicketStatus, len(cfg.Helpdesk.OpenStatuses))
	for i, s := range cfg.Helpdesk.OpenStatuses {
		statuses[i] = protocol.TicketStatus(s)
	}

	engines := make([]*talk.Engine, 0, reg.Len())
	for _, label := range reg.Labels() {
		tree, _ := reg.Get(label)
		e, err := talk.NewEngine(talk.Config{
			Tree:    tree,
			Chat:    chat,
			Tickets: desk,
			Updater: desk,
			Matcher: &talk.Matcher{
				BotAuthor:    cfg.Helpdesk.BotAuthor,
				OpenStatuses: statuses,
				Logger:       logger.With("workflow", tree.Label, "component", "matcher"),
			},
			BotName:       cfg.Bot.Name,
			Search:        cfg.Helpdesk.Search,
			HistoryWindow: cfg.Bot.HistoryWindow,
			Concurrency:   cfg.Bot.Concurrency,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", tree.Label, err)
		}
		engines = append(engines, e)
	}
	return talk.NewDispatcher(engines...)
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
