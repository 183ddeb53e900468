// @title        SettleUp API
// @version      1.0
// @description  Group expense splitting: balances, suggested settlements and recorded payments.
// @BasePath     /api/v1
// @securityDefinitions.apikey BearerAuth
// @in           header
// @name         Authorization
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/fkhayef/settleup/docs"
	"github.com/fkhayef/settleup/internal/config"
	"github.com/fkhayef/settleup/internal/database"
	"github.com/fkhayef/settleup/internal/expense"
	expensesplit "github.com/fkhayef/settleup/internal/expense/split"
	"github.com/fkhayef/settleup/internal/group"
	"github.com/fkhayef/settleup/internal/metrics"
	"github.com/fkhayef/settleup/internal/notification"
	"github.com/fkhayef/settleup/internal/settlement"
	"github.com/fkhayef/settleup/internal/user"
	"github.com/fkhayef/settleup/pkg/logging"
	mw "github.com/fkhayef/settleup/pkg/middleware"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	// Money is rendered as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	if err := database.RunMigrations(cfg.Database.Driver, cfg.Database.URL); err != nil {
		return err
	}
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to database", "driver", cfg.Database.Driver)

	m := metrics.New()

	// Notification feature
	var publisher notification.Publisher
	if cfg.AMQP.URL != "" {
		amqpPublisher, err := notification.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue)
		if err != nil {
			return err
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		slog.Info("publishing notifications to broker", "exchange", cfg.AMQP.Exchange, "queue", cfg.AMQP.Queue)
	}
	notificationRepo := notification.NewRepository(db)
	notificationService := notification.NewService(notificationRepo)
	notificationHandler := notification.NewHandler(notificationService)
	dispatcher := notification.NewDispatcher(notificationRepo, publisher, m, cfg.NotifyQueueSize)

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(dispatchCtx)
	}()

	// Split Strategy Factory (Factory Pattern)
	splitFactory := expensesplit.NewFactory()

	// User feature
	userRepo := user.NewRepository(db)
	userService := user.NewService(userRepo)
	userHandler := user.NewHandler(userService)

	// Group feature; balances for member removal come from the expense and settlement stores
	expenseRepo := expense.NewRepository(db)
	settlementRepo := settlement.NewRepository(db)
	groupRepo := group.NewRepository(db)
	groupService := group.NewService(groupRepo, expenseRepo, settlementRepo, dispatcher)
	groupHandler := group.NewHandler(groupService)

	// Expense feature (with split factory injected)
	expenseService := expense.NewService(expenseRepo, groupService, splitFactory, dispatcher, m)
	expenseHandler := expense.NewHandler(expenseService)

	// Settlement feature
	settlementService := settlement.NewService(groupService, userService, expenseRepo, settlementRepo, dispatcher, m)
	settlementHandler := settlement.NewHandler(settlementService)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", m.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		switch cfg.Auth.Mode {
		case config.AuthModeDev:
			slog.Warn("dev auth enabled, callers are taken from the " + mw.TestUserHeader + " header")
			r.Use(mw.TestUserMiddleware)
		default:
			r.Use(mw.AuthMiddleware(mw.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)))
		}

		// Mount feature routers
		r.Mount("/users", userHandler.Routes())
		r.Mount("/groups", groupHandler.Routes())
		r.Mount("/groups/{groupId}/expenses", expenseHandler.GroupRoutes())
		r.Mount("/groups/{groupId}/settlements", settlementHandler.Routes())
		r.Get("/groups/{groupId}/balance", settlementHandler.GetBalances)
		r.Mount("/expenses", expenseHandler.Routes())
		r.Mount("/notifications", notificationHandler.Routes())
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "auth_mode", cfg.Auth.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stopDispatch()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// handlers are done, so nothing else is queued
	stopDispatch()
	wg.Wait()

	return err
}
