package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/handler"
	"github.com/zhouzirui/voice-relay/backend/internal/logging"
	"github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	"github.com/zhouzirui/voice-relay/backend/internal/service/credential"
	"github.com/zhouzirui/voice-relay/backend/internal/service/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.Init("voice-relay", cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	if !cfg.OpenAI.Enabled() {
		logger.Warn().Msg("OPENAI_API_KEY 未配置，会话将在初始化时失败")
	}
	if !cfg.ElevenLabs.Enabled() {
		logger.Warn().Msg("ELEVENLABS_API_KEY 或 ELEVENLABS_VOICE_ID 未配置，语音合成不可用")
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	issuer := credential.NewIssuer(cfg.OpenAI, logger)
	relaySvc := relay.NewService(
		relay.NewDependencies(cfg, issuer, personaStore, logger),
		relay.OptionsFromConfig(cfg),
		logger,
	)

	router := handler.NewRouter(cfg, personaStore, issuer, relaySvc, logger)

	if err := startServer(ctx, cfg.Server, router, relaySvc, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, relaySvc *relay.Service, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("voice relay listening")
	return runServer(ctx, srv, relaySvc, serverCfg.ShutdownTimeout, logger)
}

func runServer(ctx context.Context, srv *http.Server, relaySvc *relay.Service, timeout time.Duration, logger zerolog.Logger) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Int("active_sessions", relaySvc.ActiveSessions()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		// 已升级的 WebSocket 连接不受 Shutdown 管理，需要单独关闭中继会话。
		if err := relaySvc.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("relay sessions did not close in time")
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
