package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stkpulse/stackwatch/internal/clients/coingecko"
	"github.com/stkpulse/stackwatch/internal/clients/hiro"
	"github.com/stkpulse/stackwatch/internal/config"
	"github.com/stkpulse/stackwatch/internal/database"
	"github.com/stkpulse/stackwatch/internal/events"
	"github.com/stkpulse/stackwatch/internal/modules/alerts"
	alerthandlers "github.com/stkpulse/stackwatch/internal/modules/alerts/handlers"
	"github.com/stkpulse/stackwatch/internal/modules/indexer"
	"github.com/stkpulse/stackwatch/internal/modules/pnl"
	pnlhandlers "github.com/stkpulse/stackwatch/internal/modules/pnl/handlers"
	"github.com/stkpulse/stackwatch/internal/modules/portfolio"
	portfoliohandlers "github.com/stkpulse/stackwatch/internal/modules/portfolio/handlers"
	"github.com/stkpulse/stackwatch/internal/modules/prices"
	"github.com/stkpulse/stackwatch/internal/modules/widgets"
	widgethandlers "github.com/stkpulse/stackwatch/internal/modules/widgets/handlers"
	"github.com/stkpulse/stackwatch/internal/reliability"
	"github.com/stkpulse/stackwatch/internal/scheduler"
	"github.com/stkpulse/stackwatch/internal/server"
	"github.com/stkpulse/stackwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(logger.Config{Level: "error", Pretty: true})
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting stackwatch")

	ledgerDB := mustOpenDB(log, cfg, "ledger", database.ProfileLedger)
	defer ledgerDB.Close()
	portfolioDB := mustOpenDB(log, cfg, "portfolio", database.ProfileStandard)
	defer portfolioDB.Close()
	cacheDB := mustOpenDB(log, cfg, "cache", database.ProfileCache)
	defer cacheDB.Close()

	bus := events.NewBus()

	// Prices: CoinGecko behind a TTL cache with a persisted tick series.
	gecko := coingecko.NewClient(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey, log)
	priceCache := prices.NewCache(cacheDB.Conn())
	priceTicks := prices.NewRepository(portfolioDB.Conn(), log)
	priceService := prices.NewService(priceCache, priceTicks, gecko, bus, cfg.PriceCacheTTL, log)

	// FIFO cost-basis ledger.
	pnlRepo := pnl.NewRepository(ledgerDB.Conn(), log)
	pnlEngine := pnl.NewEngine(pnlRepo, log)

	// Indexer: Hiro REST for history, feeding the ledger.
	hiroClient := hiro.NewClient(cfg.HiroAPIURL, cfg.HiroAPIKey, log)
	txRepo := indexer.NewRepository(ledgerDB.Conn(), log)
	walletRepo := indexer.NewWalletRepository(portfolioDB.Conn(), log)
	indexerService := indexer.NewService(hiroClient, txRepo, walletRepo, pnlEngine, priceService, bus, cfg.IndexerMaxTxs, log)

	aggregator := pnl.NewAggregator(pnlRepo, priceService, txRepo, log)

	// Portfolio valuation and history.
	portfolioRepo := portfolio.NewRepository(portfolioDB.Conn(), log)
	portfolioService := portfolio.NewService(hiroClient, priceService, portfolioRepo, bus, log)

	// Alerts: chain and price triggers with webhook and email delivery.
	alertRepo := alerts.NewRepository(portfolioDB.Conn(), log)
	webhookService := alerts.NewWebhookService(cacheDB.Conn(), alertRepo, log)
	alertLimiter := alerts.NewRateLimiter(alertRepo, cfg.AlertDailyLimit, log)
	var emailSender alerts.EmailDeliverer
	if cfg.SMTP.Enabled {
		emailSender = alerts.NewEmailService(alerts.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, alertRepo, log)
	}
	alertEngine := alerts.NewEngine(alertRepo, alertLimiter, webhookService, emailSender, bus, log)

	// Widgets over the accumulated series.
	widgetCache := widgets.NewCache(cacheDB.Conn(), log)
	widgetService := widgets.NewService(priceTicks, widgets.NewRepository(ledgerDB.Conn(), log), portfolioRepo, widgetCache, log)

	// Live chain events drive alert evaluation.
	stream := hiro.NewStream(cfg.HiroWSURL, func(ev hiro.ChainEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := alertEngine.EvaluateChainEvent(ctx, ev); err != nil {
			log.Error().Err(err).Str("tx_id", ev.TxID).Msg("Chain event alert evaluation failed")
		}
	}, log)
	if err := stream.Start(); err != nil {
		log.Error().Err(err).Msg("Chain event stream unavailable, continuing without live alerts")
	}
	defer stream.Stop()

	// Price threshold alerts ride the price refresh cycle.
	bus.Subscribe(events.PriceUpdated, func(e *events.Event) {
		data, ok := e.Data.(events.PriceUpdatedData)
		if !ok {
			return
		}
		price, perr := decimal.NewFromString(data.PriceUSD)
		if perr != nil {
			log.Error().Err(perr).Str("contract_id", data.ContractID).Msg("Unparseable price in event")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := alertEngine.EvaluatePrice(ctx, data.ContractID, price); err != nil {
			log.Error().Err(err).Str("contract_id", data.ContractID).Msg("Price alert evaluation failed")
		}
	})

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()
	registerJobs(sched, log, cfg, priceService, portfolioService, walletRepo, webhookService, alertRepo, alertEngine, hiroClient, ledgerDB)

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DataDir:     cfg.DataDir,
		LedgerDB:    ledgerDB,
		PortfolioDB: portfolioDB,
		CacheDB:     cacheDB,
		Bus:         bus,
		Modules: []server.ModuleRouter{
			pnlhandlers.NewHandler(aggregator, log),
			portfoliohandlers.NewHandler(portfolioService, txRepo, walletRepo, indexerService, log),
			alerthandlers.NewHandler(alertRepo, log),
			widgethandlers.NewHandler(widgetService, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
}

func mustOpenDB(log zerolog.Logger, cfg *config.Config, name string, profile database.DatabaseProfile) *database.DB {
	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(name),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		log.Fatal().Err(err).Str("database", name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("database", name).Msg("Failed to run migrations")
	}
	return db
}

func registerJobs(
	sched *scheduler.Scheduler,
	log zerolog.Logger,
	cfg *config.Config,
	priceService *prices.Service,
	portfolioService *portfolio.Service,
	walletRepo *indexer.WalletRepository,
	webhookService *alerts.WebhookService,
	alertRepo *alerts.Repository,
	alertEngine *alerts.Engine,
	hiroClient *hiro.Client,
	ledgerDB *database.DB,
) {
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{"0 * * * * *", prices.NewRefreshJob(priceService, log)},
		{"0 0 * * * *", portfolio.NewSnapshotJob(portfolioService, walletRepo, log)},
		{"*/30 * * * * *", alerts.NewRetryJob(webhookService)},
		{"0 */5 * * * *", alerts.NewStackingCycleJob(hiroClient, alertEngine, log)},
		{"0 0 3 * * *", alerts.NewCleanupJob(alertRepo, webhookService, cfg.AlertRetentionDays, log)},
	}

	if cfg.Backup.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s3Client, err := reliability.NewS3Client(ctx, cfg.Backup.Bucket, cfg.Backup.Region, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize S3 client, backups disabled")
		} else {
			backupService := reliability.NewBackupService(ledgerDB, s3Client, cfg.DataDir, cfg.Backup.Prefix, log)
			jobs = append(jobs, struct {
				schedule string
				job      scheduler.Job
			}{"0 0 4 * * *", reliability.NewBackupJob(backupService)})
		}
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Error().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
	}
}
