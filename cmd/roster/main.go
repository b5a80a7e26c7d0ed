package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/roster/internal/backup"
	"github.com/dukerupert/roster/internal/database"
	"github.com/dukerupert/roster/internal/email"
	"github.com/dukerupert/roster/internal/logging"
	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/payment"
	"github.com/dukerupert/roster/internal/push"
	"github.com/dukerupert/roster/internal/qrtoken"
	"github.com/dukerupert/roster/internal/server"
	"github.com/dukerupert/roster/internal/tracing"
)

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "vapid" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate vapid keys:", err)
			os.Exit(1)
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	logger := logging.Setup(os.Getenv("ROSTER_LOG_LEVEL"), os.Getenv("ROSTER_LOG_FORMAT"))

	port := getEnv("ROSTER_PORT", "8080")
	dbPath := getEnv("ROSTER_DB_PATH", "roster.db")
	baseURL := getEnv("ROSTER_BASE_URL", fmt.Sprintf("http://localhost:%s", port))

	shutdownTracing, err := tracing.Setup(context.Background(), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "roster")
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	qrSecret := os.Getenv("ROSTER_QR_SECRET")
	if qrSecret == "" {
		qrSecret = randomSecret()
		slog.Warn("ROSTER_QR_SECRET not set, using a random secret; issued QR codes stop working on restart")
	}
	signer, err := qrtoken.NewSigner(qrSecret, getDuration("ROSTER_QR_TTL", qrtoken.DefaultTTL))
	if err != nil {
		slog.Error("invalid qr secret", "error", err)
		os.Exit(1)
	}

	emailClient := email.NewClient(os.Getenv("POSTMARK_TOKEN"), os.Getenv("ROSTER_FROM_EMAIL"))
	if !emailClient.Configured() {
		slog.Warn("POSTMARK_TOKEN not set, login codes will only be logged")
	}

	cfg := server.Config{
		Payment: payment.Config{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    baseURL + "/members?checkout=success",
			CancelURL:     baseURL + "/members?checkout=cancelled",
		},
		Push: push.Config{
			VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subscriber:      os.Getenv("VAPID_SUBSCRIBER"),
		},
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  os.Getenv("BACKUP_S3_ENDPOINT"),
				Bucket:    os.Getenv("BACKUP_S3_BUCKET"),
				Region:    getEnv("BACKUP_S3_REGION", "us-east-1"),
				AccessKey: os.Getenv("BACKUP_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("BACKUP_S3_SECRET_KEY"),
			},
			Passphrase: os.Getenv("BACKUP_PASSPHRASE"),
			Interval:   getDuration("BACKUP_INTERVAL", 24*time.Hour),
			Retention:  getDuration("BACKUP_RETENTION", 30*24*time.Hour),
		},
		Eligibility: membership.Config{
			GapTolerance:  getDuration("ROSTER_AUTO_APPROVAL_GAP", 4392*time.Hour),
			StudentDomain: os.Getenv("ROSTER_STUDENT_DOMAIN"),
		},
		StudentEmailTTL: getDuration("ROSTER_STUDENT_EMAIL_TTL", 8760*time.Hour),
		Origins:         splitList(os.Getenv("ROSTER_ALLOWED_ORIGINS")),
	}

	srv := server.New(db, cfg, emailClient, signer, logger)

	if adminEmail := os.Getenv("ROSTER_ADMIN_EMAIL"); adminEmail != "" {
		if _, err := srv.UserStore().EnsureAdmin(adminEmail); err != nil {
			slog.Error("failed to bootstrap admin", "email", adminEmail, "error", err)
			os.Exit(1)
		}
		slog.Info("admin ensured", "email", adminEmail)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	srv.BackupManager().Start(bgCtx)
	srv.Notifier().Start(bgCtx)

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				if n, err := srv.MagicLinkStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired codes", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired codes", "count", n)
				}
				srv.RateLimiter().Cleanup(time.Hour)
			case <-bgCtx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("roster starting", "addr", ":"+port, "base_url", baseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	bgCancel()
	srv.Notifier().Stop()
	srv.BackupManager().Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		slog.Error("tracing shutdown", "error", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
