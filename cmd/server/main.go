package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dias221467/when2meet/internal/config"
	"github.com/Dias221467/when2meet/internal/database"
	"github.com/Dias221467/when2meet/internal/handlers"
	"github.com/Dias221467/when2meet/internal/realtime"
	"github.com/Dias221467/when2meet/internal/repository"
	"github.com/Dias221467/when2meet/internal/scheduler"
	"github.com/Dias221467/when2meet/internal/services"
	"github.com/Dias221467/when2meet/pkg/email"
	"github.com/Dias221467/when2meet/pkg/logger"
	"github.com/Dias221467/when2meet/pkg/middleware"
	"github.com/rs/cors"
)

type userStore interface {
	services.ScanStore
	services.AccountStore
}

func main() {
	// Load configuration from .env file
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Log.Fatalf("Configuration error: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	logger.Log.Info("Logger initialized")

	// --- Repositories ---
	var (
		userRepo         userStore
		notificationRepo services.NotificationStore
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Log.Warn("Using in-memory store, data is lost on restart")
		userRepo = repository.NewMemoryUserRepository()
		notificationRepo = repository.NewMemoryNotificationRepository()
	default:
		db, err := database.ConnectDB(cfg)
		if err != nil {
			logger.Log.Fatalf("Database connection error: %v", err)
		}
		defer database.Disconnect(db)
		userRepo = repository.NewUserRepository(db, cfg.UseTransactions)
		notificationRepo = repository.NewNotificationRepository(db)
	}

	var mailer services.Mailer = email.LogMailer{}
	if cfg.SMTPEnabled() {
		mailer = email.NewSMTPMailer(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			Sender:   cfg.SMTPSender,
		})
	} else {
		logger.Log.Warn("SMTP not configured, emails are only logged")
	}

	// --- Services ---
	locks := services.NewUserLocker()
	userService := services.NewUserService(userRepo, mailer, services.TokenSettings{
		Secret:           cfg.JWTSecret,
		Expiry:           cfg.TokenExpiry,
		RememberMeExpiry: cfg.RememberMeExpiry,
	}, cfg.AppBaseURL)
	friendService := services.NewFriendService(userRepo, locks, cfg.StoreTimeout)
	reconciler := services.NewReconciler(userRepo, locks, cfg.StoreTimeout)

	hub := realtime.NewHub(friendService, cfg.JWTSecret, originChecker(cfg.AllowedOrigins))
	notificationService := services.NewNotificationService(notificationRepo, hub)
	friendService.SetNotifier(notificationService)

	// --- Background jobs ---
	jobs, err := scheduler.Start(scheduler.Jobs{
		Notifications:     notificationService,
		CleanupSchedule:   "@hourly",
		Reconciler:        reconciler,
		ReconcileSchedule: cfg.ReconcileSchedule,
		ReconcileRepair:   cfg.ReconcileRepair,
	})
	if err != nil {
		logger.Log.Fatalf("Scheduler error: %v", err)
	}
	defer jobs.Stop()

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Log.Fatalf("Config error: %v", err)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		Users:          userService,
		Friends:        friendService,
		Notifications:  notificationService,
		Reconciler:     reconciler,
		WebSocket:      hub.ServeWS,
		ForgotLimit:    handlers.Limit{Requests: cfg.ForgotPasswordLimit, Window: cfg.ForgotPasswordWindow},
		ResetLimit:     handlers.Limit{Requests: cfg.ResetPasswordLimit, Window: cfg.ResetPasswordWindow},
		TrustedProxies: proxies,
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Infof("Server running on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Errorf("Graceful shutdown failed: %v", err)
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
