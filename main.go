package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/batilieri/multichat-system/internal/config"
	"github.com/batilieri/multichat-system/internal/database"
	"github.com/batilieri/multichat-system/internal/handlers"
	"github.com/batilieri/multichat-system/internal/logger"
	"github.com/batilieri/multichat-system/internal/services"
	"github.com/batilieri/multichat-system/internal/whatsapp"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	log.Info().Str("environment", cfg.Environment).Msg("starting multichat backend")

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	var publisher services.EventPublisher
	if cfg.Events.RabbitMQURL != "" {
		publisher, err = services.NewAMQPPublisher(cfg.Events.RabbitMQURL, cfg.Events.RabbitMQExchange)
		if err != nil {
			// Events still land in the database; only the fan-out is lost
			log.Error().Err(err).Msg("failed to connect to RabbitMQ, event publishing disabled")
			publisher = nil
		}
	}

	normalizer := whatsapp.NewNormalizer(whatsapp.NormalizerConfig{
		IgnoredIDs:         cfg.Chats.IgnoredIDs,
		AllowedGroupIDs:    cfg.Chats.AllowedGroupIDs,
		HeuristicPrefix:    cfg.Chats.GroupHeuristicPrefix,
		HeuristicMinLength: cfg.Chats.GroupHeuristicMinimum,
	})

	wapi := services.NewWAPIClient(cfg.WAPI)
	events := services.NewEventService(db, cfg.Events.CacheTTL, publisher)
	instances := services.NewInstanceService(db, wapi, events)
	authService := services.NewAuthService(db, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	chats := services.NewChatService(db, wapi, instances, events, normalizer)
	media := services.NewMediaService(db, wapi, instances, events, cfg.Media)
	messages := services.NewMessageService(db, wapi, instances, events, media)
	webhooks := services.NewWebhookService(db, instances, events, media, normalizer)

	if cliente, err := services.Bootstrap(db, authService, instances, cfg.Bootstrap); err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	} else if cliente != nil {
		log.Info().Uint("cliente_id", cliente.ID).Str("nome", cliente.Nome).Msg("bootstrap tenant ready")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	media.Start(ctx)
	go pruneEvents(ctx, events, cfg.Events.Retention)

	handler := handlers.NewRouter(handlers.Deps{
		DB:           db,
		Auth:         authService,
		Chats:        chats,
		Messages:     messages,
		Media:        media,
		Instances:    instances,
		Events:       events,
		Webhooks:     webhooks,
		WebhookToken: cfg.WebhookToken,
		CORSOrigins:  cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	media.Wait()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close event publisher")
		}
	}
	if err := database.Close(db); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
	log.Info().Msg("stopped")
}

// pruneEvents trims the update log once an hour
func pruneEvents(ctx context.Context, events *services.EventService, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := events.Prune(retention)
			if err != nil {
				log.Warn().Err(err).Msg("failed to prune chat events")
				continue
			}
			if n > 0 {
				log.Info().Int64("removed", n).Msg("pruned chat events")
			}
		}
	}
}
