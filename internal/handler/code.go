package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/store"
)

const maxCodeAttempts = 5

// codes issues and checks the emailed one-time codes shared by sign-in and
// secondary address verification.
type codes struct {
	store  *store.MagicLinkStore
	mailer Mailer
	logger *slog.Logger
}

// send issues a code and mails it. Without a mail transport the code is
// logged so a local install stays usable.
func (c *codes) send(ctx context.Context, addr, purpose string) error {
	ml, err := c.store.Create(addr, purpose)
	if err != nil {
		return err
	}
	if c.mailer == nil || !c.mailer.Configured() {
		c.logger.Info("email not configured, logging code", "email", addr, "purpose", purpose, "code", ml.Token)
		return nil
	}
	if err := c.mailer.SendCode(ctx, addr, ml.Token, purpose); err != nil {
		c.logger.Error("send code", "email", addr, "purpose", purpose, "error", err)
	}
	return nil
}

// check validates code against the newest pending code for addr under any of
// purposes. On failure it returns a status and a user-facing message.
func (c *codes) check(addr, code string, purposes ...string) (*model.MagicLink, int, string) {
	if addr == "" || code == "" {
		return nil, http.StatusBadRequest, "email and code are required"
	}

	var latest *model.MagicLink
	for _, p := range purposes {
		ml, err := c.store.GetLatest(addr, p)
		if err != nil {
			c.logger.Error("code lookup", "error", err)
			return nil, http.StatusInternalServerError, "internal error"
		}
		if ml != nil && (latest == nil || ml.ID > latest.ID) {
			latest = ml
		}
	}
	if latest == nil {
		return nil, http.StatusUnauthorized, "code has expired or already been used"
	}

	if latest.Attempts >= maxCodeAttempts {
		c.store.MarkUsed(latest.ID)
		return nil, http.StatusTooManyRequests, "too many incorrect attempts, request a new code"
	}

	if latest.Token != code {
		attempts, err := c.store.IncrementAttempts(latest.ID)
		if err != nil {
			c.logger.Error("increment attempts", "error", err)
		}
		if attempts >= maxCodeAttempts {
			c.store.MarkUsed(latest.ID)
			return nil, http.StatusTooManyRequests, "too many incorrect attempts, request a new code"
		}
		return nil, http.StatusUnauthorized, "incorrect code"
	}

	if err := c.store.MarkUsed(latest.ID); err != nil {
		c.logger.Error("mark code used", "error", err)
		return nil, http.StatusInternalServerError, "internal error"
	}
	return latest, 0, ""
}

// parseEmail trims and validates a bare address.
func parseEmail(s string) (string, bool) {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	return strings.ToLower(s), true
}
