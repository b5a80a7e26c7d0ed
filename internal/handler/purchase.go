package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/roster/internal/auth"
	"github.com/dukerupert/roster/internal/membership"
	"github.com/dukerupert/roster/internal/metrics"
	"github.com/dukerupert/roster/internal/model"
	"github.com/dukerupert/roster/internal/payment"
	"github.com/dukerupert/roster/internal/store"
	ws "github.com/dukerupert/roster/internal/websocket"
)

// Checkout starts a hosted payment for a member record.
type Checkout interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
}

type PurchaseHandler struct {
	memberships *store.MembershipStore
	members     *store.MemberStore
	users       *store.UserStore
	evaluator   *membership.Evaluator
	checkout    Checkout
	hub         Broadcaster
	now         func() time.Time
	logger      *slog.Logger
}

// NewPurchaseHandler builds the handler. A nil checkout disables purchasing.
func NewPurchaseHandler(
	mss *store.MembershipStore,
	ms *store.MemberStore,
	us *store.UserStore,
	ev *membership.Evaluator,
	checkout Checkout,
	hub Broadcaster,
	logger *slog.Logger,
) *PurchaseHandler {
	return &PurchaseHandler{
		memberships: mss,
		members:     ms,
		users:       us,
		evaluator:   ev,
		checkout:    checkout,
		hub:         orNop(hub),
		now:         time.Now,
		logger:      logger,
	}
}

// decide evaluates auto-approval. A failed read is logged and treated as
// not eligible, so the application waits for an admin.
func decide(ctx context.Context, ev *membership.Evaluator, logger *slog.Logger, userID int64, m model.Membership) membership.Decision {
	d, err := ev.Decide(ctx, userID, m)
	if err != nil {
		logger.Error("eligibility check failed, requiring manual approval",
			"user_id", userID, "membership_id", m.ID, "error", err)
		metrics.AutoApprovals.WithLabelValues("error").Inc()
		return membership.Decision{}
	}
	metrics.AutoApprovals.WithLabelValues(string(d.Reason)).Inc()
	return d
}

// List handles GET /api/memberships
func (h *PurchaseHandler) List(w http.ResponseWriter, r *http.Request) {
	periods, err := h.memberships.ListPurchasable(h.now())
	if err != nil {
		h.logger.Error("list purchasable memberships", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list memberships")
		return
	}
	if periods == nil {
		periods = []model.Membership{}
	}
	writeJSON(w, http.StatusOK, periods)
}

type purchaseResponse struct {
	Member      *model.Member     `json:"member"`
	CheckoutURL string            `json:"checkout_url"`
	AutoApprove bool              `json:"auto_approve"`
	Reason      membership.Reason `json:"reason,omitempty"`
}

// Purchase handles POST /api/memberships/{id}/purchase. Eligibility is
// evaluated before the member record exists so the new record cannot count
// as its own history.
func (h *PurchaseHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)

	m, err := h.memberships.GetByID(id)
	if err != nil {
		h.logger.Error("get membership", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load membership")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if !h.now().Before(m.EndTime) {
		writeError(w, http.StatusConflict, "membership period has ended")
		return
	}

	existing, err := h.members.ListForPeriod(ctx, userID, m.ID)
	if err != nil {
		h.logger.Error("list members for period", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load membership")
		return
	}
	for _, e := range existing {
		if e.Status != model.StatusRejected {
			writeError(w, http.StatusConflict, "you already hold this membership")
			return
		}
	}

	user, err := h.users.GetByID(userID)
	if err != nil || user == nil {
		h.logger.Error("get purchasing user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	d := decide(ctx, h.evaluator, h.logger, userID, *m)

	member, err := h.members.Create(ctx, userID, m.ID, model.StatusAwaitingPayment, "")
	if err != nil {
		h.logger.Error("create member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create membership")
		return
	}

	sess, err := h.checkout.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		MemberID: member.ID,
		PriceID:  m.PriceID,
		Email:    user.Email,
	})
	if err != nil {
		h.logger.Error("create checkout session", "member_id", member.ID, "error", err)
		metrics.Purchases.WithLabelValues("checkout_error").Inc()
		// Drop the unpaid record so it does not block a retry.
		if derr := h.members.Delete(ctx, member.ID); derr != nil {
			h.logger.Error("discard unpaid member", "member_id", member.ID, "error", derr)
		}
		if errors.Is(err, payment.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "payments are temporarily unavailable")
			return
		}
		writeError(w, http.StatusBadGateway, "failed to start checkout")
		return
	}
	if err := h.members.SetPaymentSession(ctx, member.ID, sess.ID); err != nil {
		h.logger.Error("set payment session", "member_id", member.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start checkout")
		return
	}
	member.PaymentSessionID = &sess.ID
	metrics.Purchases.WithLabelValues("started").Inc()

	h.hub.Broadcast(ws.NewMessage(ws.EntityMember, "created", member.ID, member))
	writeJSON(w, http.StatusCreated, purchaseResponse{
		Member:      member,
		CheckoutURL: sess.URL,
		AutoApprove: d.AutoApprove,
		Reason:      d.Reason,
	})
}
