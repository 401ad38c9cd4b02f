package handlers

import (
	"net/http"
	"time"

	"github.com/Dias221467/when2meet/internal/services"
	"github.com/Dias221467/when2meet/pkg/middleware"
	"github.com/gorilla/mux"
)

// Limit is a per-client request budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RouterConfig carries everything NewRouter wires together.
type RouterConfig struct {
	JWTSecret     string
	Users         *services.UserService
	Friends       *services.FriendService
	Notifications *services.NotificationService
	Reconciler    *services.Reconciler
	ForgotLimit   Limit
	ResetLimit    Limit

	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies middleware.TrustedProxies

	// WebSocket serves GET /ws; nil leaves the route out.
	WebSocket http.HandlerFunc
}

// NewRouter builds the application's route table.
func NewRouter(cfg RouterConfig) *mux.Router {
	userHandler := NewUserHandler(cfg.Users)
	auth := middleware.AuthMiddleware(cfg.JWTSecret, cfg.Users)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	// Auth routes
	authRoutes := router.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/register", userHandler.RegisterUserHandler).Methods("POST")
	authRoutes.HandleFunc("/login", userHandler.LoginUserHandler).Methods("POST")
	authRoutes.HandleFunc("/logout", userHandler.LogoutHandler).Methods("POST")
	authRoutes.Handle("/me", auth(http.HandlerFunc(userHandler.GetMeHandler))).Methods("GET")
	authRoutes.Handle("/forgot-password", limited(cfg.ForgotLimit, cfg.TrustedProxies,
		"Too many password reset requests, please try again later",
		userHandler.ForgotPasswordHandler)).Methods("POST")
	authRoutes.Handle("/reset-password/{token}", limited(cfg.ResetLimit, cfg.TrustedProxies,
		"Too many password reset attempts, please try again later",
		userHandler.ResetPasswordHandler)).Methods("POST")

	// Friend routes
	friendRoutes := router.PathPrefix("/friends").Subrouter()
	friendRoutes.Use(auth)
	NewFriendHandler(cfg.Friends).RegisterRoutes(friendRoutes)

	// Notification routes
	if cfg.Notifications != nil {
		notificationRoutes := router.PathPrefix("/notifications").Subrouter()
		notificationRoutes.Use(auth)
		NewNotificationHandler(cfg.Notifications).RegisterRoutes(notificationRoutes)
	}

	// Admin routes
	if cfg.Reconciler != nil {
		reconcileHandler := NewReconcileHandler(cfg.Reconciler)
		adminRoutes := router.PathPrefix("/admin").Subrouter()
		adminRoutes.Use(auth)
		adminRoutes.Use(middleware.RequireRole("admin"))
		adminRoutes.HandleFunc("/reconcile", reconcileHandler.ScanHandler).Methods("GET")
		adminRoutes.HandleFunc("/reconcile", reconcileHandler.RepairHandler).Methods("POST")
	}

	if cfg.WebSocket != nil {
		router.HandleFunc("/ws", cfg.WebSocket).Methods("GET")
	}

	return router
}

func limited(l Limit, proxies middleware.TrustedProxies, message string, h http.HandlerFunc) http.Handler {
	if l.Requests <= 0 || l.Window <= 0 {
		return h
	}
	return middleware.RateLimit(l.Requests, l.Window, message, proxies)(h)
}
