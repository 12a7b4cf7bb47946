package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cloudwego/eino/components/tool"
	"github.com/joho/godotenv"

	"github.com/qiwenz/parley/backend/internal/collector"
	"github.com/qiwenz/parley/backend/internal/config"
	"github.com/qiwenz/parley/backend/internal/event"
	"github.com/qiwenz/parley/backend/internal/handler"
	"github.com/qiwenz/parley/backend/internal/logging"
	"github.com/qiwenz/parley/backend/internal/service/ai"
	"github.com/qiwenz/parley/backend/internal/service/chat"
	"github.com/qiwenz/parley/backend/internal/service/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logging.Warn().Err(err).Msg("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Pretty)

	bus := event.NewBus()
	defer bus.Close()
	go logLifecycleEvents(ctx, bus)

	store := chat.NewStore(cfg.AI.MaxTurns, bus)

	bridge, err := buildBridge(ctx, cfg, store)
	if err != nil {
		logging.Warn().Err(err).Msg("chat model unavailable, streaming endpoints disabled")
	} else {
		logging.Info().
			Str("provider", cfg.AI.Provider).
			Str("model", cfg.AI.Model).
			Msg("chat model ready")
	}

	router := handler.NewRouter(store, bridge, cfg.Auth.Token)
	startServer(ctx, cfg.Server, router)
}

// buildBridge assembles the model, tools, agent, and streaming bridge.
// It returns an error when the configured provider cannot be built, in
// which case the server still starts without streaming.
func buildBridge(ctx context.Context, cfg *config.Config, store *chat.Store) (*stream.Bridge, error) {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}

	getter := collector.NewHTTPGetter()
	robots := collector.NewRobotsCache()
	tools := []tool.InvokableTool{ai.NewWebFetchTool(getter, robots)}

	agent, err := ai.NewAgent(ctx, chatModel, tools)
	if err != nil {
		return nil, err
	}

	return stream.NewBridge(stream.AgentStreamer{Agent: agent}, store, cfg.Server.StreamBuffer), nil
}

// logLifecycleEvents drains session and message lifecycle events into the
// log, which also keeps the bus's subscriber channels flowing.
func logLifecycleEvents(ctx context.Context, bus *event.Bus) {
	for _, topic := range []event.Type{event.SessionCreated, event.MessageCreated} {
		messages, err := bus.Subscribe(ctx, topic)
		if err != nil {
			logging.Warn().Str("topic", string(topic)).Err(err).Msg("event subscription failed")
			continue
		}
		go func(topic event.Type, messages <-chan *message.Message) {
			for msg := range messages {
				logging.Debug().
					Str("topic", string(topic)).
					RawJSON("payload", msg.Payload).
					Msg("lifecycle event")
				msg.Ack()
			}
		}(topic, messages)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logging.Info().Str("addr", serverCfg.Addr).Msg("listening")
	if err := runServer(ctx, srv); err != nil {
		logging.Fatal().Err(err).Msg("server error")
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
