package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/daostore/internal/backup"
	"github.com/dukerupert/daostore/internal/config"
	"github.com/dukerupert/daostore/internal/database"
	"github.com/dukerupert/daostore/internal/email"
	"github.com/dukerupert/daostore/internal/governance"
	"github.com/dukerupert/daostore/internal/handler"
	"github.com/dukerupert/daostore/internal/ledger"
	"github.com/dukerupert/daostore/internal/metrics"
	"github.com/dukerupert/daostore/internal/middleware"
	"github.com/dukerupert/daostore/internal/push"
	"github.com/dukerupert/daostore/internal/shop"
	"github.com/dukerupert/daostore/internal/store"
	ws "github.com/dukerupert/daostore/internal/websocket"
)

const (
	authRateLimit    = 10
	authRateWindow   = time.Minute
	rateCleanupEvery = 5 * time.Minute
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	authH         *handler.AuthHandler
	shopH         *handler.ShopHandler
	governanceH   *handler.GovernanceHandler
	memberH       *handler.MemberHandler
	pushH         *handler.PushHandler
	backupH       *handler.BackupHandler
	sessionStore  *store.SessionStore
	memberStore   *store.MemberStore
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	pushScheduler *push.Scheduler
	wsOrigins     []string
	logger        *slog.Logger
}

// New wires stores, services and handlers from cfg.
func New(db *sql.DB, cfg config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	sessionStore := store.NewSessionStore(db)
	memberStore := store.NewMemberStore(db)
	loginCodeStore := store.NewLoginCodeStore(db)
	pushStore := store.NewPushStore(db)
	backupStore := store.NewBackupStore(db)

	emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.FromAddress, cfg.HTTP.BaseURL)

	ledgerSvc := ledger.NewService(db, ledger.Config{
		StartingBonus: cfg.Ledger.StartingBonus,
		AdminWallets:  cfg.Admin.Wallets,
		AdminEmails:   cfg.Admin.Emails,
	}, logger.With("component", "ledger"))
	shopSvc := shop.NewService(db, hub, logger.With("component", "shop"), shop.WithMailer(emailClient))
	govSvc := governance.NewService(db, governance.Config{
		DefaultVotingDays: cfg.Governance.DefaultVotingDays,
		MaxVotingDays:     cfg.Governance.MaxVotingDays,
	}, hub, logger.With("component", "governance"))

	backupMgr := backup.NewManager(BackupConfig(cfg.Backup), db, backupStore, func(s backup.Status) {
		hub.Broadcast(ws.NewMessage("backup", "status", 0, map[string]any{
			"state":       s.State,
			"in_progress": s.InProgress,
			"error":       s.Error,
		}))
	}, logger.With("component", "backup"))

	pushLogger := logger.With("component", "push")
	var pushSvc *push.Service
	var pushH *handler.PushHandler
	pushCfg := push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:         cfg.Push.Subject,
	}
	if pushCfg.Configured() {
		pushSvc = push.NewService(pushCfg, pushStore, pushLogger)
		pushH = handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler"))
	}
	pushSched := push.NewScheduler(govSvc, pushSvc, sessionStore, loginCodeStore, cfg.Governance.FinalizeInterval, pushLogger)

	return &Server{
		db:            db,
		hub:           hub,
		authH:         handler.NewAuthHandler(ledgerSvc, sessionStore, loginCodeStore, emailClient, cfg.HTTP.SecureCookies, logger.With("component", "auth")),
		shopH:         handler.NewShopHandler(shopSvc, logger.With("component", "shop_handler")),
		governanceH:   handler.NewGovernanceHandler(govSvc, logger.With("component", "governance_handler")),
		memberH:       handler.NewMemberHandler(ledgerSvc, logger.With("component", "member_handler")),
		pushH:         pushH,
		backupH:       handler.NewBackupHandler(backupMgr, logger.With("component", "backup_handler")),
		sessionStore:  sessionStore,
		memberStore:   memberStore,
		rateLimiter:   middleware.NewRateLimiter(authRateLimit, authRateWindow),
		backupManager: backupMgr,
		pushScheduler: pushSched,
		wsOrigins:     originPatterns(cfg.HTTP.BaseURL),
		logger:        logger,
	}
}

// BackupConfig converts the environment settings into a backup manager
// configuration.
func BackupConfig(c config.BackupConfig) backup.Config {
	return backup.Config{
		S3: backup.S3Config{
			Endpoint:  c.Endpoint,
			Bucket:    c.Bucket,
			Region:    c.Region,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
		},
		Prefix:        c.Prefix,
		Passphrase:    c.Passphrase,
		Interval:      c.Interval,
		RetentionDays: c.RetentionDays,
	}
}

func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// Start launches the background loops: proposal finalization, scheduled
// backups and rate limiter cleanup. They stop when ctx is cancelled or
// Stop is called.
func (s *Server) Start(ctx context.Context) {
	s.pushScheduler.Start(ctx)
	s.backupManager.Start(ctx)
	go s.rateLimiter.Run(ctx, rateCleanupEvery)
}

// Stop halts the background loops and disconnects websocket clients.
func (s *Server) Stop() {
	s.pushScheduler.Stop()
	s.backupManager.Stop()
	s.hub.Close()
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// PushScheduler returns the proposal finalization scheduler.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/wallet", s.rateLimitedHandler(s.authH.WalletLogin))
	outerMux.HandleFunc("POST /api/auth/email", s.rateLimitedHandler(s.authH.RequestCode))
	outerMux.HandleFunc("POST /api/auth/email/verify", s.rateLimitedHandler(s.authH.VerifyCode))
	outerMux.HandleFunc("GET /api/products", s.shopH.ListProducts)
	outerMux.HandleFunc("GET /api/products/{id}", s.shopH.GetProduct)
	outerMux.HandleFunc("GET /api/stats", s.memberH.Stats)
	if s.pushH != nil {
		outerMux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	}
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", metrics.Handler())
	outerMux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.wsOrigins, s.logger.With("component", "websocket")))

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.memberStore)
	outerMux.Handle("/api/", authMiddleware(protectedMux))

	// Apply request logging and metrics middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(middleware.Metrics(outerMux))
}

type healthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int64  `json:"schema_version,omitempty"`
	Clients       int    `json:"ws_clients"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, code := healthResponse{Status: "ok", Clients: s.hub.ClientCount()}, http.StatusOK
	v, err := database.SchemaVersion(r.Context(), s.db)
	if err != nil {
		s.logger.Error("health check", "error", err)
		resp.Status, code = "unavailable", http.StatusServiceUnavailable
	}
	resp.SchemaVersion = v
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	return rl(h).ServeHTTP
}

func admin(h http.HandlerFunc) http.Handler {
	return middleware.RequireAdmin(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Session routes
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/me", s.authH.Me)
	mux.HandleFunc("PUT /api/me", s.authH.UpdateMe)

	// Orders
	mux.HandleFunc("POST /api/checkout", s.shopH.Checkout)
	mux.HandleFunc("GET /api/orders", s.shopH.ListOrders)

	// Governance
	mux.HandleFunc("GET /api/proposals", s.governanceH.List)
	mux.HandleFunc("POST /api/proposals", s.governanceH.Create)
	mux.HandleFunc("GET /api/proposals/{id}", s.governanceH.Get)
	mux.HandleFunc("POST /api/proposals/{id}/votes", s.governanceH.Vote)
	mux.HandleFunc("GET /api/proposals/{id}/votes", s.governanceH.Votes)

	// Members
	mux.HandleFunc("GET /api/members/leaderboard", s.memberH.Leaderboard)

	// Push notification routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscribe", s.pushH.Unsubscribe)
	}

	// Admin routes
	mux.Handle("POST /api/admin/products", admin(s.shopH.CreateProduct))
	mux.Handle("PUT /api/admin/products/{id}", admin(s.shopH.UpdateProduct))
	mux.Handle("DELETE /api/admin/products/{id}", admin(s.shopH.DeleteProduct))
	mux.Handle("PUT /api/admin/orders/{id}/status", admin(s.shopH.UpdateOrderStatus))
	mux.Handle("POST /api/admin/proposals/{id}/execute", admin(s.governanceH.Execute))
	mux.Handle("POST /api/admin/backups", admin(s.backupH.Run))
	mux.Handle("GET /api/admin/backups", admin(s.backupH.List))
}
