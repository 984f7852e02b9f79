package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/bankcards/internal/config"
	"github.com/Dan9191/bankcards/internal/handler"
	"github.com/Dan9191/bankcards/internal/job"
	"github.com/Dan9191/bankcards/internal/repository"
	"github.com/Dan9191/bankcards/internal/service"
	"github.com/Dan9191/bankcards/internal/utils"
	"github.com/Dan9191/bankcards/internal/utils/email"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// store is what a storage backend has to provide
type store interface {
	repository.CardRepository
	repository.UserRepository
	handler.Pinger
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	if err := config.LoadEnv(); err != nil {
		logger.Fatalf("Failed to load .env: %v", err)
	}
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	cipher, err := utils.NewCardCipherFromHex(cfg.EncryptionKey)
	if err != nil {
		logger.Fatalf("Failed to initialize card cipher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var st store
	switch cfg.RepoBackend {
	case config.BackendMemory:
		logger.Warn("Using in-memory storage, data is lost on exit")
		st = repository.NewMemoryRepository()
	default:
		db, err := openDB(ctx, cfg)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := repository.RunMigrations(ctx, db); err != nil {
				logger.Fatalf("Failed to migrate database: %v", err)
			}
			logger.Info("Database migrations applied")
		}
		st = repository.NewRepository(db)
	}

	// Initialize layers
	var opts []service.CardOption
	var sender *email.Sender
	if cfg.EmailEnabled() {
		sender = email.NewSender(cfg, logger)
		opts = append(opts, service.WithNotifier(sender))
	}
	cardSvc := service.NewCardService(st, st, cipher, logger, opts...)
	userSvc := service.NewUserService(st, logger, cfg.JWTSecret, cfg.JWTTTL)

	sweeper := job.NewExpirySweeper(st, logger, cardSvc)
	if err := sweeper.Start(cfg.ExpiredCardsCron); err != nil {
		logger.Fatalf("Failed to start expiry sweeper: %v", err)
	}

	h := handler.NewHandler(cardSvc, userSvc, st, logger)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Errorf("Expiry sweeper did not stop in time: %v", err)
	}
	if sender != nil {
		if err := sender.Wait(shutdownCtx); err != nil {
			logger.Errorf("Pending emails were not sent: %v", err)
		}
	}
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		return nil, err
	}
	// the expiry scan keeps one connection while updates use another
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
