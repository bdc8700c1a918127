package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/handler"

	"github.com/gildhall/gildbot/gildbot"
	"github.com/gildhall/gildbot/gildbot/commands"
	"github.com/gildhall/gildbot/gildbot/database"
	"github.com/gildhall/gildbot/gildbot/database/repositories"
	"github.com/gildhall/gildbot/gildbot/economy/rebalance"
	"github.com/gildhall/gildbot/gildbot/handlers"
	"github.com/gildhall/gildbot/gildbot/logger"
	"github.com/gildhall/gildbot/gildbot/metrics"
	"github.com/gildhall/gildbot/gildbot/services"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting Gildhall Discord Bot",
		slog.String("version", version),
		slog.String("commit", commit))

	shouldSyncCommands := flag.Bool("sync-commands", false, "Whether to sync commands to discord")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := gildbot.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	slog.Info("Initializing database schema...")
	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()))
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	defer db.Close()

	b := gildbot.New(*cfg, version, commit)
	b.DB = db
	b.AccountRepository = repositories.NewAccountRepository(db.BunDB())
	b.GameStatsRepository = repositories.NewGameStatsRepository(db.BunDB())
	b.SnapshotRepository = repositories.NewSnapshotRepository(db.BunDB())

	b.Announcer = rebalance.NewDiscordAnnouncer(cfg.Bot.AnnounceChannel)

	b.Rebalancer = rebalance.NewEngine(
		b.AccountRepository,
		b.GameStatsRepository,
		b.SnapshotRepository,
		b.Announcer,
		rebalance.Config{
			Interval:               cfg.Rebalancer.IntervalOrDefault(),
			CacheTTL:               cfg.Rebalancer.CacheTTLOrDefault(),
			HealthHysteresisMargin: cfg.Rebalancer.HealthHysteresisMargin,
			ExemptUserIDs:          cfg.Rebalancer.ExemptUserIDs,
			Seed:                   cfg.Rebalancer.Seed,
			Scheduler: rebalance.SchedulerConfig{
				CrashCooldown:    cfg.Rebalancer.CrashCooldown,
				StimulusCooldown: cfg.Rebalancer.StimulusCooldown,
				TaxCooldown:      cfg.Rebalancer.TaxCooldown,
				DailyEventCap:    cfg.Rebalancer.DailyEventCap,
			},
		},
	)

	if cfg.Archive.Enabled {
		archive, err := services.NewArchiveService(
			cfg.Archive.Key,
			cfg.Archive.Secret,
			cfg.Archive.Region,
			cfg.Archive.Bucket,
			cfg.Archive.Prefix,
		)
		if err != nil {
			slog.Error("Failed to initialize snapshot archive",
				slog.String("error", err.Error()))
			os.Exit(-1)
		}
		b.Rebalancer.SetArchiver(archive)
		slog.Info("Snapshot archive initialized",
			slog.String("bucket", cfg.Archive.Bucket))
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if cfg.Metrics.Enabled {
		metrics.Serve(runCtx, cfg.Metrics.Addr)
	}

	h := handler.New()

	// Economy analysis commands
	h.Command("/economy", handlers.WrapWithLogging("economy", commands.EconomyHandler(b)))
	h.Command("/multipliers", handlers.WrapWithLogging("multipliers", commands.MultipliersHandler(b)))
	h.Autocomplete("/multipliers", commands.MultipliersAutocompleteHandler(b))

	// Game and bank commands
	h.Command("/slots", handlers.WrapWithLogging("slots", commands.SlotsHandler(b)))
	h.Command("/balance", handlers.WrapWithLogging("balance", commands.BalanceHandler(b)))
	h.Command("/deposit", handlers.WrapWithLogging("deposit", commands.DepositHandler(b)))
	h.Command("/withdraw", handlers.WrapWithLogging("withdraw", commands.WithdrawHandler(b)))

	if err = b.SetupBot(h, bot.NewListenerFunc(b.OnReady)); err != nil {
		slog.Error("Failed to setup bot",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("error_details", fmt.Sprintf("%+v", err)),
			slog.String("component", "bot_setup"),
			slog.String("status", "failed"),
		)
		os.Exit(-1)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.Client.Close(ctx)
	}()

	if *shouldSyncCommands {
		slog.Info("Syncing commands",
			slog.String("type", "sys"),
			slog.Any("guild_ids", cfg.Bot.DevGuilds),
		)
		if err = handler.SyncCommands(b.Client, commands.Commands, cfg.Bot.DevGuilds); err != nil {
			slog.Error("Failed to sync commands",
				slog.String("type", "sys"),
				slog.Any("error", err),
				slog.String("component", "command_sync"),
				slog.String("status", "failed"),
			)
		}
	}

	// Start the rebalance control loop once the bot can announce.
	b.Rebalancer.Start(runCtx)
	slog.Info("Economic rebalancer started",
		slog.Duration("interval", cfg.Rebalancer.IntervalOrDefault()))

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = b.Client.OpenGateway(ctx); err != nil {
		slog.Error("Failed to open gateway",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("component", "gateway"),
			slog.String("status", "failed"),
		)
		os.Exit(-1)
	}

	slog.Info("Bot is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down bot...")
}
