package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"volumebot/config"
	"volumebot/internal/adapters/binanceclient"
	"volumebot/internal/adapters/logger"
	"volumebot/internal/adapters/notify"
	"volumebot/internal/adapters/sqlite"
	"volumebot/internal/app"
	"volumebot/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Position Store (Database Adapter)
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position store")
		log.Fatalf("FATAL: Failed to initialize position store: %v", err) // Also log to stderr
	}
	defer func() {
		if err := store.CloseDB(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing position store")
		}
	}()
	appLogger.Info(context.Background(), "Position store initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Notifier
	notifier := buildNotifier(cfg, appLogger)

	// 6. Initialize Application Service
	service, err := app.NewService(cfg, appLogger, binanceClient, store, notifier)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}
	appLogger.Info(context.Background(), "Service initialized")

	// 7. Start the Service
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

// buildNotifier assembles the configured notification channels. A channel
// that fails to initialize is skipped with a warning rather than aborting
// the bot.
func buildNotifier(cfg *config.Config, appLogger ports.Logger) ports.Notifier {
	if !cfg.NotificationsEnabled {
		return notify.Nop{}
	}

	var channels []notify.Channel
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			appLogger.Warn(context.Background(), "Telegram channel unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			channels = append(channels, tg)
		}
	}
	if cfg.DiscordWebhookURL != "" {
		channels = append(channels, notify.NewDiscord(cfg.DiscordWebhookURL))
	}
	if len(channels) == 0 {
		appLogger.Warn(context.Background(), "Notifications enabled but no channel could be initialized")
		return notify.Nop{}
	}
	return notify.NewMulti(appLogger, channels...)
}
