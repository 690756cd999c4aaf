package di

import (
	"context"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/events/sinks"
	"github.com/aristath/arena/internal/reliability"
	"github.com/rs/zerolog"
)

const connectTimeout = 10 * time.Second

// AttachSinks subscribes the optional event sinks to the bus. A sink that
// cannot connect is logged and skipped; the arena runs without it.
func AttachSinks(container *Container, cfg *config.Config, log zerolog.Logger) {
	bus := container.EventBus

	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		client, err := sinks.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("Redis event sink disabled")
		} else {
			sinks.NewRedisStreamSink(client, sinks.DefaultStream, log).Attach(bus)
			container.onClose(client.Close)
		}
	}

	if cfg.PostgresMirrorDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		db, err := sinks.OpenPostgres(ctx, cfg.PostgresMirrorDSN)
		if err == nil {
			var mirror *sinks.PostgresMirror
			mirror, err = sinks.NewPostgresMirror(ctx, db, log)
			if err != nil {
				_ = db.Close()
			} else {
				mirror.Attach(bus)
				container.onClose(db.Close)
			}
		}
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("Postgres trade mirror disabled")
		}
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		bot, err := sinks.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram alerts disabled")
		} else {
			sinks.NewTelegramNotifier(bot, cfg.TelegramChatID, log).Attach(bus)
		}
	}
}

// InitializeBackups creates the S3 backup service when a bucket is configured
func InitializeBackups(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if !cfg.Backup.Enabled() {
		log.Info().Msg("Backups disabled, no bucket configured")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	store, err := reliability.NewS3Client(ctx, cfg.Backup, log)
	if err != nil {
		return err
	}

	dbs := make([]reliability.Snapshotter, 0, 3)
	for _, db := range container.Databases() {
		dbs = append(dbs, db)
	}
	container.Backups = reliability.NewBackupService(store, dbs, cfg.DataDir, cfg.Backup.Prefix, cfg.Backup.Retain, container.EventManager, log)
	return nil
}
