package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/prolaunch/chat-core/config"
	"github.com/prolaunch/chat-core/internal/bus"
	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
	"github.com/prolaunch/chat-core/internal/presence"
	"github.com/prolaunch/chat-core/internal/queue"
	room_repo "github.com/prolaunch/chat-core/internal/repo/room"
	"github.com/prolaunch/chat-core/internal/routers"
	chat_service "github.com/prolaunch/chat-core/internal/use-case/chat-case"
	"github.com/prolaunch/chat-core/internal/websocket"
	"github.com/prolaunch/chat-core/internal/worker"
	"github.com/prolaunch/chat-core/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appState, err := state.InitAppState(ctx, stop)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application state")
	}
	defer appState.Close()

	eventBus, err := newBus(appState)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize event bus")
	}
	defer eventBus.Close()
	log.Info().Str("backend", config.Conf.BUS.Backend).Msg("Event bus initialized")

	publish := func(ev bus.Event) {
		if err := eventBus.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("type", ev.Type).Msg("bus publish failed")
		}
	}

	tracker := presence.NewTracker(config.Conf.CHAT.TypingTTL, func(roomID, userID string) {
		ev, err := bus.NewEvent(chat_dto.TypeTypingIndicator, roomID, chat_dto.TypingIndicatorPayload{
			RoomID: roomID,
			UserID: userID,
			Typing: false,
		})
		if err != nil {
			return
		}
		publish(ev)
	})
	defer tracker.Close()

	wsHub := websocket.NewHub(tracker, publish)
	defer wsHub.Close()
	log.Info().Msg("Websocket hub initialized")

	producer := queue.NewProducer(appState.Redis)
	workerPool := worker.NewWorkerPool(appState.Redis, appState.MongoDatabase(), config.Conf.WORKER.Num, wsHub)

	rooms := room_repo.NewRoomRepo(appState)
	notify := func(ctx context.Context, roomID, messageID, senderID string) {
		enqueueOfflineNotifications(ctx, producer, wsHub, rooms, roomID, messageID, senderID)
	}

	chatService := chat_service.NewChatService(appState, eventBus, chat_service.Knobs{
		MaxMessageBytes: config.Conf.CHAT.MaxMessageBytes,
		HistoryPageSize: config.Conf.CHAT.HistoryPageSize,
		HistoryPageMax:  config.Conf.CHAT.HistoryPageMax,
		DedupWindow:     config.Conf.CHAT.DedupWindow,
	}, notify)

	websocket.NewDispatcher(wsHub, chatService, tracker, publish)

	authFunc := websocket.JWTWebSocketAuth(appState.JwtSecret.Public)
	wsHandler := websocket.NewWebSocketHandler(wsHub, authFunc, config.Conf.CHAT.HeartbeatTimeout)

	r := routers.NewRouter(appState, wsHub, chatService, wsHandler)

	server := &http.Server{
		Addr:         config.Conf.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eventBus.Subscribe(gctx, func(ev bus.Event) {
			wsHub.DispatchEvent(ev)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		workerPool.Start(gctx)
		workerPool.StartDLQWorker(gctx)
		<-gctx.Done()
		workerPool.Wait()
		return nil
	})

	g.Go(func() error {
		log.Info().Msgf("Starting server on http://localhost%s", config.Conf.App.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown initiated...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		return
	}
	log.Info().Msg("Server exited gracefully.")
}

func newBus(appState *state.AppState) (bus.Bus, error) {
	switch config.Conf.BUS.Backend {
	case "nats":
		return bus.NewNatsBus(config.Conf.BUS.NatsUrl)
	default:
		return bus.NewRedisBus(appState.Redis), nil
	}
}

// enqueueOfflineNotifications queues a notify job for every room member
// without a live connection on this instance. Cross-instance presence is
// checked again at execution time.
func enqueueOfflineNotifications(ctx context.Context, producer queue.Producer, hub *websocket.Hub, rooms room_repo.RoomRepoContract, roomID, messageID, senderID string) {
	participants, appErr := rooms.ListParticipants(ctx, roomID)
	if appErr != nil {
		log.Error().Err(appErr).Str("roomID", roomID).Msg("failed to list participants for notification")
		return
	}

	for _, p := range participants {
		userID := p.UserID
		if userID == senderID || p.Muted || hub.IsUserOnline(userID) {
			continue
		}

		now := time.Now()
		job := queue.Job{
			ID:        fmt.Sprintf("%s:%s", messageID, userID),
			Type:      queue.JobNotifyOffline,
			Payload:   queue.MustMarshal(queue.NotifyOfflinePayload{UserID: userID, RoomID: roomID, MessageID: messageID, SenderID: senderID}),
			Priority:  1,
			MaxRetry:  config.Conf.WORKER.MaxRetry,
			CreatedAt: now.Unix(),
			ExpireAt:  now.Add(24 * time.Hour).Unix(),
		}
		if err := producer.Enqueue(ctx, job); err != nil {
			log.Error().Err(err).Str("userID", userID).Msg("failed to enqueue offline notification")
		}
	}
}
