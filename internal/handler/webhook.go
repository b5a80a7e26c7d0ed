package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/metrics"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/payment"
	"github.com/dukerupert/roster/internal/push"
	"github.com/dukerupert/roster/internal/store"
	ws "github.com/dukerupert/roster/internal/websocket"
	"github.com/stripe/stripe-go/v82"
)

const maxWebhookBody = 64 << 10

// EventVerifier checks a webhook signature and decodes the event.
type EventVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// WebhookHandler applies payment outcomes to member records. Deliveries may
// repeat, so each outcome only acts on a member still awaiting payment.
type WebhookHandler struct {
	verifier    EventVerifier
	members     *store.MemberStore
	memberships *store.MembershipStore
	users       *store.UserStore
	evaluator   *membership.Evaluator
	notifier    AdminNotifier
	mailer      Mailer
	hub         Broadcaster
	logger      *slog.Logger
}

func NewWebhookHandler(
	v EventVerifier,
	ms *store.MemberStore,
	mss *store.MembershipStore,
	us *store.UserStore,
	ev *membership.Evaluator,
	notifier AdminNotifier,
	mailer Mailer,
	hub Broadcaster,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:    v,
		members:     ms,
		memberships: mss,
		users:       us,
		evaluator:   ev,
		notifier:    notifier,
		mailer:      mailer,
		hub:         orNop(hub),
		logger:      logger,
	}
}

// Stripe handles POST /webhooks/stripe
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	event, err := h.verifier.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	result, err := payment.ParseCheckoutEvent(event)
	if err != nil {
		h.logger.Warn("unreadable checkout event", "event_id", event.ID, "error", err)
		writeError(w, http.StatusBadRequest, "invalid event")
		return
	}
	if result.Outcome == payment.OutcomeIgnore {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	ctx := r.Context()
	member, err := h.findMember(ctx, result)
	if err != nil {
		h.logger.Error("webhook member lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if member == nil {
		h.logger.Warn("webhook for unknown member",
			"event_id", event.ID, "session_id", result.SessionID, "member_id", result.MemberID)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	switch result.Outcome {
	case payment.OutcomePaid:
		err = h.paid(ctx, member)
	case payment.OutcomeFailed:
		err = h.failed(ctx, member)
	}
	if err != nil {
		h.logger.Error("apply payment outcome", "member_id", member.ID, "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) findMember(ctx context.Context, res *payment.CheckoutResult) (*model.Member, error) {
	if res.SessionID != "" {
		m, err := h.members.GetByPaymentSession(ctx, res.SessionID)
		if err != nil || m != nil {
			return m, err
		}
	}
	if res.MemberID != 0 {
		return h.members.GetByID(ctx, res.MemberID)
	}
	return nil, nil
}

// paid reads everything the approval decision needs before writing, then
// applies awaiting_payment -> awaiting_approval (-> active) in one
// transaction. A failed read leaves the member awaiting payment so a
// redelivery runs the whole decision again.
func (h *WebhookHandler) paid(ctx context.Context, member *model.Member) error {
	if member.Status != model.StatusAwaitingPayment {
		h.logger.Info("payment already applied", "member_id", member.ID, "status", member.Status)
		return nil
	}

	period, err := h.memberships.GetByID(member.MembershipID)
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}
	if period == nil {
		return fmt.Errorf("membership %d: %w", member.MembershipID, store.ErrNotFound)
	}

	user, err := h.users.GetByID(member.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	d := decide(ctx, h.evaluator, h.logger, member.UserID, *period)
	path := []model.MemberStatus{model.StatusAwaitingApproval}
	if d.AutoApprove {
		path = append(path, model.StatusActive)
	}

	updated, err := h.members.TransitionPath(ctx, member.ID, path...)
	var invalid *membership.InvalidTransitionError
	if errors.As(err, &invalid) {
		// A concurrent delivery got there first.
		h.logger.Info("payment already applied", "member_id", member.ID, "status", invalid.From)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	member = updated
	metrics.Purchases.WithLabelValues("paid").Inc()
	for _, to := range path {
		metrics.MemberTransitions.WithLabelValues(string(to), "ok").Inc()
	}

	if d.AutoApprove {
		h.logger.Info("member auto-approved", "member_id", member.ID, "user_id", member.UserID)
		h.notice(ctx, user, "Your membership is active",
			"Your payment was received and your membership is now active.")
	} else {
		h.logger.Info("member awaiting approval", "member_id", member.ID, "reason", d.Reason)
		if h.notifier != nil {
			h.notifier.NotifyAdmins(push.AwaitingApproval(member.ID, displayName(user)))
		}
		h.notice(ctx, user, "Payment received",
			"Your payment was received. An admin will review your membership shortly.")
	}

	h.hub.Broadcast(ws.NewMessage(ws.EntityMember, "updated", member.ID, member))
	return nil
}

func (h *WebhookHandler) failed(ctx context.Context, member *model.Member) error {
	if member.Status != model.StatusAwaitingPayment {
		h.logger.Info("ignoring payment failure", "member_id", member.ID, "status", member.Status)
		return nil
	}
	member, err := h.members.Transition(ctx, member.ID, model.StatusRejected)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	metrics.MemberTransitions.WithLabelValues(string(model.StatusRejected), "ok").Inc()
	metrics.Purchases.WithLabelValues("failed").Inc()
	h.hub.Broadcast(ws.NewMessage(ws.EntityMember, "updated", member.ID, member))
	return nil
}

func (h *WebhookHandler) notice(ctx context.Context, user *model.User, subject, text string) {
	if user == nil || h.mailer == nil || !h.mailer.Configured() {
		return
	}
	if err := h.mailer.SendNotice(ctx, user.Email, subject, text); err != nil {
		h.logger.Error("send notice", "user_id", user.ID, "error", err)
	}
}

func displayName(u *model.User) string {
	if u == nil {
		return "A member"
	}
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	return u.FirstName + " " + u.LastName
}
