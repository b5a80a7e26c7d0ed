package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dukerupert/roster/internal/backup"
	"github.com/dukerupert/roster/internal/email"
	"github.com/dukerupert/roster/internal/handler"
	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/middleware"
	"github.com/dukerupert/roster/internal/payment"
	"github.com/dukerupert/roster/internal/push"
	"github.com/dukerupert/roster/internal/qrtoken"
	"github.com/dukerupert/roster/internal/store"
	ws "github.com/dukerupert/roster/internal/websocket"
)

const maxRequestBody = 5 << 20

type Config struct {
	Payment         payment.Config
	Push            push.Config
	Backup          backup.Config
	Eligibility     membership.Config
	StudentEmailTTL time.Duration
	// Origins like "https://admin.example.org" may call the API and open
	// the websocket cross-origin.
	Origins         []string

	// AuthBurst requests per AuthEvery are allowed on the code endpoints
	// for each client IP.
	AuthBurst int
	AuthEvery time.Duration
}

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	authH        *handler.AuthHandler
	profileH     *handler.ProfileHandler
	purchaseH    *handler.PurchaseHandler
	webhookH     *handler.WebhookHandler
	memberH      *handler.MemberHandler
	membershipH  *handler.MembershipHandler
	meetingH     *handler.MeetingHandler
	userH        *handler.UserHandler
	pushH        *handler.PushHandler
	backupH      *handler.BackupHandler
	sessionStore *store.SessionStore
	userStore    *store.UserStore
	magicLinks   *store.MagicLinkStore
	rateLimiter  *middleware.RateLimiter
	backupMgr    *backup.Manager
	notifier     *push.Notifier
	origins      []string
	logger       *slog.Logger
}

// New wires stores and handlers. signer may not be nil; emailClient may be
// unconfigured, in which case codes are only logged.
func New(db *sql.DB, cfg Config, emailClient *email.Client, signer *qrtoken.Signer, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	userEmailStore := store.NewUserEmailStore(db)
	sessionStore := store.NewSessionStore(db)
	magicLinkStore := store.NewMagicLinkStore(db)
	membershipStore := store.NewMembershipStore(db)
	memberStore := store.NewMemberStore(db)
	importStore := store.NewImportStore(db)
	meetingStore := store.NewMeetingStore(db)
	attendanceStore := store.NewAttendanceStore(db)
	pushStore := store.NewPushStore(db)

	evaluator := membership.NewEvaluator(store.NewMembershipHistory(db), cfg.Eligibility)

	pushSvc := push.NewService(cfg.Push)
	notifier := push.NewNotifier(pushSvc, pushStore, logger.With("component", "push"))

	// Checkout stays nil without a secret key so purchases answer 503
	// instead of failing at Stripe.
	paymentClient := payment.NewClient(cfg.Payment)
	var checkout handler.Checkout
	if cfg.Payment.SecretKey != "" {
		checkout = paymentClient
	}

	backupMgr := backup.NewManager(cfg.Backup, db, logger.With("component", "backup"))

	burst, every := cfg.AuthBurst, cfg.AuthEvery
	if burst <= 0 {
		burst = 10
	}
	if every <= 0 {
		every = 6 * time.Second
	}

	return &Server{
		db:  db,
		hub: hub,
		authH: handler.NewAuthHandler(userStore, sessionStore, magicLinkStore, emailClient,
			logger.With("component", "auth")),
		profileH: handler.NewProfileHandler(userStore, userEmailStore, memberStore, magicLinkStore, emailClient,
			signer, cfg.StudentEmailTTL, logger.With("component", "profile")),
		purchaseH: handler.NewPurchaseHandler(membershipStore, memberStore, userStore, evaluator, checkout, hub,
			logger.With("component", "purchase")),
		webhookH: handler.NewWebhookHandler(paymentClient, memberStore, membershipStore, userStore, evaluator,
			notifier, emailClient, hub, logger.With("component", "webhook")),
		memberH:      handler.NewMemberHandler(memberStore, importStore, hub, logger.With("component", "member")),
		membershipH:  handler.NewMembershipHandler(membershipStore, logger.With("component", "membership")),
		meetingH:     handler.NewMeetingHandler(meetingStore, attendanceStore, userStore, signer, hub, logger.With("component", "meeting")),
		userH:        handler.NewUserHandler(userStore, sessionStore, logger.With("component", "user")),
		pushH:        handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler")),
		backupH:      handler.NewBackupHandler(backupMgr, logger.With("component", "backup_handler")),
		sessionStore: sessionStore,
		userStore:    userStore,
		magicLinks:   magicLinkStore,
		rateLimiter:  middleware.NewRateLimiter(burst, every),
		backupMgr:    backupMgr,
		notifier:     notifier,
		origins:      cfg.Origins,
		logger:       logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// MagicLinkStore returns the magic link store for cleanup tasks.
func (s *Server) MagicLinkStore() *store.MagicLinkStore {
	return s.magicLinks
}

// UserStore returns the user store, used to bootstrap the first admin.
func (s *Server) UserStore() *store.UserStore {
	return s.userStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupMgr
}

// Notifier returns the admin push notifier.
func (s *Server) Notifier() *push.Notifier {
	return s.notifier
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("POST /register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /auth/verify", s.rateLimitedHandler(s.authH.Verify))
	outerMux.HandleFunc("POST /webhooks/stripe", s.webhookH.Stripe)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", promhttp.Handler())

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	protectedMux.Handle("/api/admin/", middleware.RequireAdmin(adminMux))

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	var h http.Handler = outerMux
	if len(s.origins) > 0 {
		h = cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		})(h)
	}
	h = chimw.RequestSize(maxRequestBody)(h)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	h = chimw.Recoverer(h)
	h = chimw.RequestID(h)
	return otelhttp.NewHandler(h, "roster",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":            status,
		"websocket_clients": s.hub.ClientCount(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /logout", s.authH.Logout)

	// Profile
	mux.HandleFunc("GET /api/me", s.profileH.Get)
	mux.HandleFunc("PUT /api/me", s.profileH.Update)
	mux.HandleFunc("GET /api/me/members", s.profileH.Members)
	mux.HandleFunc("POST /api/me/emails", s.profileH.AddEmail)
	mux.HandleFunc("POST /api/me/emails/verify", s.profileH.VerifyEmail)
	mux.HandleFunc("DELETE /api/me/emails/{id}", s.profileH.DeleteEmail)
	mux.HandleFunc("GET /api/me/qr", s.profileH.QR)

	// Purchasing
	mux.HandleFunc("GET /api/memberships", s.purchaseH.List)
	mux.HandleFunc("POST /api/memberships/{id}/purchase", s.purchaseH.Purchase)

	// Push
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)

	// Live updates for admin screens
	mux.Handle("GET /ws", middleware.RequireAdmin(
		ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket"), originHosts(s.origins))))
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	// Users
	mux.HandleFunc("GET /api/admin/users", s.userH.List)
	mux.HandleFunc("PUT /api/admin/users/{id}/admin", s.userH.SetAdmin)
	mux.HandleFunc("DELETE /api/admin/users/{id}", s.userH.Delete)

	// Membership types and periods
	mux.HandleFunc("GET /api/admin/membership-types", s.membershipH.ListTypes)
	mux.HandleFunc("POST /api/admin/membership-types", s.membershipH.CreateType)
	mux.HandleFunc("PUT /api/admin/membership-types/{id}", s.membershipH.UpdateType)
	mux.HandleFunc("DELETE /api/admin/membership-types/{id}", s.membershipH.DeleteType)
	mux.HandleFunc("GET /api/admin/memberships", s.membershipH.ListPeriods)
	mux.HandleFunc("POST /api/admin/memberships", s.membershipH.CreatePeriod)
	mux.HandleFunc("PUT /api/admin/memberships/{id}", s.membershipH.UpdatePeriod)
	mux.HandleFunc("DELETE /api/admin/memberships/{id}", s.membershipH.DeletePeriod)

	// Members
	mux.HandleFunc("GET /api/admin/members", s.memberH.List)
	mux.HandleFunc("GET /api/admin/members/{id}", s.memberH.Get)
	mux.HandleFunc("POST /api/admin/members/{id}/status", s.memberH.Transition)
	mux.HandleFunc("PUT /api/admin/members/{id}/description", s.memberH.UpdateDescription)
	mux.HandleFunc("DELETE /api/admin/members/{id}", s.memberH.Delete)
	mux.HandleFunc("POST /api/admin/members/bulk/approve", s.memberH.BulkApprove)
	mux.HandleFunc("POST /api/admin/members/bulk/resign", s.memberH.BulkResign)
	mux.HandleFunc("POST /api/admin/members/import", s.memberH.Import)

	// Meetings and attendance
	mux.HandleFunc("GET /api/admin/meetings", s.meetingH.List)
	mux.HandleFunc("POST /api/admin/meetings", s.meetingH.Create)
	mux.HandleFunc("GET /api/admin/meetings/{id}", s.meetingH.Get)
	mux.HandleFunc("DELETE /api/admin/meetings/{id}", s.meetingH.Delete)
	mux.HandleFunc("POST /api/admin/meetings/{id}/{action}", s.meetingH.Action)
	mux.HandleFunc("POST /api/admin/meetings/{id}/scan", s.meetingH.Scan)
	mux.HandleFunc("POST /api/admin/meetings/{id}/checkout-all", s.meetingH.CheckOutAll)
	mux.HandleFunc("POST /api/admin/meetings/{id}/attendance/{userID}", s.meetingH.Toggle)
	mux.HandleFunc("GET /api/admin/meetings/{id}/attendees", s.meetingH.Attendees)
	mux.HandleFunc("GET /api/admin/meetings/{id}/export.csv", s.meetingH.Export)

	// Backup
	mux.HandleFunc("GET /api/admin/backup", s.backupH.Status)
	mux.HandleFunc("POST /api/admin/backup", s.backupH.RunNow)
}

// originHosts turns origins into the host patterns the websocket accept
// check matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
