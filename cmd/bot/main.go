package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nganmiu/voucherbot/internal/config"
	"github.com/nganmiu/voucherbot/internal/database"
	"github.com/nganmiu/voucherbot/internal/health"
	"github.com/nganmiu/voucherbot/internal/redeem"
	"github.com/nganmiu/voucherbot/internal/repository"
	"github.com/nganmiu/voucherbot/internal/service"
	"github.com/nganmiu/voucherbot/internal/storage"
	"github.com/nganmiu/voucherbot/internal/telegram"
	"github.com/nganmiu/voucherbot/internal/webhook"
	"github.com/nganmiu/voucherbot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// When MySQL is unreachable the process still starts, serving
	// maintenance replies until the database comes back.
	state := health.New()
	db, err := database.ConnectWithRetry(cfg, logr)
	if err != nil {
		logr.Error("starting degraded, database unavailable", "err", err)
		db, err = database.Open(cfg)
		if err != nil {
			log.Fatalf("database open: %v", err)
		}
		go recoverDatabase(ctx, db, state, logr)
	} else {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("database migrate: %v", err)
		}
		state.SetReady(true)
	}
	defer db.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	voucherRepo := repository.NewVoucherRepository(db)
	topupRepo := repository.NewTopupRepository(db)
	actionRepo := repository.NewActionLogRepository(db)

	notifier := telegram.NewNotifier(botAPI, logr)
	redeemer := redeem.NewClient(cfg, logr)

	var archiver service.PayloadArchiver
	if cfg.ArchiveEnabled() {
		a, err := storage.NewArchiver(storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			Prefix:       cfg.S3ArchivePrefix,
		})
		if err != nil {
			log.Fatalf("payload archiver: %v", err)
		}
		archiver = a
	}

	ledger := service.NewLedgerService(accountRepo, actionRepo, cfg.TrialGiftAmount)
	catalog := service.NewCatalogService(voucherRepo)
	fulfillment := service.NewFulfillmentService(logr, ledger, catalog, redeemer, actionRepo)
	topups := service.NewTopupService(cfg, logr, topupRepo, ledger, actionRepo, notifier, archiver)
	abuse := service.NewAbuseTracker(accountRepo, actionRepo, logr, cfg.AbuseThreshold, cfg.AbuseWindow, cfg.TempBanDuration)

	bot := telegram.NewBot(cfg, botAPI, logr, state, ledger, catalog, fulfillment, topups, abuse)

	server := webhook.NewServer(cfg.WebhookListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, state, topups, ledger, catalog, actionRepo, notifier)
	go func() {
		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("webhook server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

// recoverDatabase periodically pings a degraded database handle and flips
// the process back to ready once the schema is in place.
func recoverDatabase(ctx context.Context, db *sql.DB, state *health.State, logr *slog.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.PingContext(ctx); err != nil {
				continue
			}
			if err := database.Migrate(ctx, db); err != nil {
				logr.Error("database migrate after recovery", "err", err)
				continue
			}
			state.SetReady(true)
			logr.Info("database recovered, leaving degraded mode")
			return
		}
	}
}
