// Command server runs the board synchronization server: the websocket
// listener for clients and the loopback notification bridge for the local
// tool-exposure process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tapestry-backend/internal/config"
	"tapestry-backend/internal/handlers"
	"tapestry-backend/internal/repository/ddb"
	boardService "tapestry-backend/internal/service/board"
	graphService "tapestry-backend/internal/service/graph"
	"tapestry-backend/internal/service/llm"
	queryService "tapestry-backend/internal/service/query"
	settingsService "tapestry-backend/internal/service/settings"
	ws "tapestry-backend/internal/websocket"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.LoadConfig()

	// Failure to initialize the durable store is the one fatal startup case.
	awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(), awsConfig.WithRegion(cfg.Region))
	if err != nil {
		logger.Fatal("Failed to load AWS configuration", zap.Error(err))
	}
	dbClient := dynamodb.NewFromConfig(awsCfg)
	repo := ddb.NewRepository(dbClient, cfg.TableName, cfg.IndexName)

	hub := ws.NewHub(logger)
	go hub.Run()

	boards := boardService.NewService(repo)
	graph := graphService.NewService(repo)
	settings := settingsService.NewService(repo)
	query := queryService.NewService(graph, settings, hub, func(apiKey, model string) llm.Provider {
		return llm.NewAnthropicProvider(apiKey, model)
	}, cfg.Model, logger)

	dispatcher := ws.NewDispatcher(boards, graph, query, settings, hub, logger)
	wsServer := ws.NewServer(hub, dispatcher, boards, cfg.DefaultBoard, nil, logger)

	mainRouter := chi.NewRouter()
	mainRouter.Use(middleware.Recoverer)
	mainRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	mainRouter.Get("/ws", wsServer.HandleWebSocket)
	mainRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	bridge := handlers.NewBridge(hub, logger)

	mainServer := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     mainRouter,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	bridgeServer := &http.Server{
		Addr:         cfg.BridgeAddr,
		Handler:      bridge.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("Starting websocket listener", zap.String("addr", cfg.ListenAddr))
		if err := mainServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	go func() {
		logger.Info("Starting notification bridge", zap.String("addr", cfg.BridgeAddr))
		if err := bridgeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Fatal("Server failed", zap.Error(err))
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mainServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Websocket listener shutdown error", zap.Error(err))
	}
	if err := bridgeServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Bridge shutdown error", zap.Error(err))
	}
	hub.Stop()

	logger.Info("Server stopped")
}
