package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/apollolytics/dialogue-backend/internal/config"
	"github.com/apollolytics/dialogue-backend/internal/handler"
	conversationHandler "github.com/apollolytics/dialogue-backend/internal/handler/conversation"
	"github.com/apollolytics/dialogue-backend/internal/service/ai"
	"github.com/apollolytics/dialogue-backend/internal/service/audio"
	"github.com/apollolytics/dialogue-backend/internal/service/propaganda"
	"github.com/apollolytics/dialogue-backend/internal/service/session"
	"github.com/apollolytics/dialogue-backend/internal/service/stall"
	"github.com/apollolytics/dialogue-backend/internal/store/dialoguelog"
	"github.com/apollolytics/dialogue-backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Warn("no .env file loaded, using system environment")
	}

	logger.Setup()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	aiService, err := ai.NewService(cfg.AI)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize AI service")
	}
	defer aiService.Close()

	// The stall classifier degrades to heuristics when the chat model cannot
	// be built; the conversation must never depend on it.
	stallCfg := stall.Config{Enabled: cfg.Stall.Enabled, HistoryLimit: cfg.Stall.HistoryLimit}
	var chatModel model.ChatModel
	if cfg.Stall.Enabled {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logrus.WithError(err).Warn("stall classifier model unavailable, falling back to heuristics")
			chatModel = nil
		}
	}
	stallSvc, err := stall.NewService(ctx, chatModel, stallCfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize stall classifier")
	}
	if stallSvc.Enabled() {
		logrus.Info("stall classifier enabled")
	} else {
		logrus.Info("stall classifier running on heuristics only")
	}

	var recorder dialoguelog.Recorder = dialoguelog.NopRecorder{}
	var logReader dialoguelog.Reader
	if cfg.Redis.Enabled() {
		redisRecorder, err := dialoguelog.NewRedisRecorder(ctx, cfg.Redis)
		if err != nil {
			logrus.WithError(err).Warn("dialogue log store unavailable, events will not be persisted")
		} else {
			defer redisRecorder.Close()
			recorder = redisRecorder
			logReader = redisRecorder
			logrus.WithField("addr", cfg.Redis.Addr).Info("dialogue log store connected")
		}
	} else {
		logrus.Info("no dialogue log store configured, events will not be persisted")
	}

	sessions := session.NewMemoryStore()
	go pruneSessions(ctx, sessions)

	analyzer := propaganda.NewClient(cfg.Propaganda)
	normalizer := audio.NewNormalizer(cfg.Audio)

	wsHandler := conversationHandler.NewWebSocketHandler(
		sessions, aiService, analyzer, stallSvc, normalizer, recorder, cfg.Streaming)
	httpHandler := conversationHandler.NewHTTPHandler(
		sessions, aiService, analyzer, normalizer, recorder, logReader, cfg.Streaming)

	router := handler.NewRouter(handler.Deps{WebSocket: wsHandler, HTTP: httpHandler})

	startServer(ctx, cfg.Server, router)
}

// pruneSessions reaps abandoned cookie sessions. WebSocket sessions clean up
// after themselves on disconnect.
func pruneSessions(ctx context.Context, sessions *session.MemoryStore) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Prune(24 * time.Hour); n > 0 {
				logrus.WithField("count", n).Info("pruned expired sessions")
			}
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logrus.WithField("addr", serverCfg.Addr).Info("dialogue backend listening")
	if err := runServer(ctx, srv); err != nil {
		logrus.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
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
