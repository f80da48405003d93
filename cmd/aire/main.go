package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/aire/internal/api"
	"github.com/digkill/aire/internal/cache"
	"github.com/digkill/aire/internal/config"
	"github.com/digkill/aire/internal/database"
	"github.com/digkill/aire/internal/gate"
	"github.com/digkill/aire/internal/property"
	"github.com/digkill/aire/internal/repository"
	"github.com/digkill/aire/internal/service"
	"github.com/digkill/aire/internal/storage"
	"github.com/digkill/aire/internal/telegram"
	"github.com/digkill/aire/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		usageStore gate.Store
		history    service.HistoryStore
		payments   service.PaymentLog
	)
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err := database.Connect(cfg)
		if err != nil {
			log.Fatalf("database connect: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("database migrate: %v", err)
		}
		usageStore = repository.NewUsageRepository(db)
		history = repository.NewAnalysisRepository(db)
		payments = repository.NewPaymentRepository(db)
	default:
		logr.Warn("using in-memory store; usage resets on restart")
		usageStore = gate.NewMemoryStore()
		history = repository.NewMemoryAnalysisLog()
		payments = repository.NewMemoryPaymentLog()
	}

	paywall, err := gate.New(gate.Config{
		FreeLimit:       cfg.FreeAnalyses,
		AdminUnlockCode: cfg.AdminUnlockCode,
	}, usageStore, logr)
	if err != nil {
		log.Fatalf("gate: %v", err)
	}

	var prefillCache property.Cache
	if cfg.RedisAddr != "" {
		rc, err := cache.Connect(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "aire:",
		})
		if err != nil {
			logr.Error("redis unavailable, prefill runs uncached", "err", err)
		} else {
			defer rc.Close()
			prefillCache = rc
		}
	}
	propertyClient := property.NewClient(cfg, logr, prefillCache)

	var uploader service.ReportUploader
	if cfg.S3Enabled() {
		u, err := storage.NewUploader(storage.ConfigFrom(cfg))
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		uploader = u
	}

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.TelegramEnabled() {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			logr.Error("telegram bot unavailable, notifications off", "err", err)
		} else {
			notifier = telegram.NewNotifier(botAPI, cfg.TelegramAdminChatID, logr)
		}
	}

	analysisService := service.NewAnalysisService(logr, paywall, history, propertyClient, uploader, notifier, cfg.HistoryLimit)
	accountService := service.NewAccountService(paywall, payments, notifier)
	paymentService := service.NewPaymentService(logr, paywall, payments, notifier, cfg.StripePaymentLinkURL)

	server := api.NewServer(cfg.ListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, analysisService, accountService, paymentService)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
	}
}
