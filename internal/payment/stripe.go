// Package payment wraps the Stripe checkout used to pay for a membership
// period.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// ErrUnavailable is returned while repeated Stripe failures keep the
// checkout breaker open.
var ErrUnavailable = errors.New("payment provider unavailable")

type Client struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	create  func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "stripe-checkout",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		create: checksession.New,
	}
}

// CheckoutRequest describes one member record waiting for payment.
type CheckoutRequest struct {
	MemberID int64
	PriceID  string
	Email    string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// CreateCheckoutSession creates a one-off payment session for the member's
// period price. The member ID travels as the client reference and metadata.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	ref := strconv.FormatInt(req.MemberID, 10)
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(ref),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("member_id", ref)

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.create(params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	sess := res.(*stripe.CheckoutSession)
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
}

// Outcome is what a checkout event means for the member record.
type Outcome int

const (
	OutcomeIgnore Outcome = iota
	OutcomePaid
	OutcomeFailed
)

// CheckoutResult is the part of a checkout session event the roster acts on.
type CheckoutResult struct {
	SessionID string
	MemberID  int64
	Outcome   Outcome
}

// ParseCheckoutEvent maps a checkout session event to an outcome. Events of
// other types, and completed sessions still awaiting an asynchronous
// payment, yield OutcomeIgnore.
func ParseCheckoutEvent(event stripe.Event) (*CheckoutResult, error) {
	var outcome Outcome
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		outcome = OutcomePaid
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		outcome = OutcomeFailed
	default:
		return &CheckoutResult{Outcome: OutcomeIgnore}, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}

	if event.Type == stripe.EventTypeCheckoutSessionCompleted &&
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		outcome = OutcomeIgnore
	}

	ref := sess.Metadata["member_id"]
	if ref == "" {
		ref = sess.ClientReferenceID
	}
	memberID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkout session %s: bad member reference %q", sess.ID, ref)
	}

	return &CheckoutResult{SessionID: sess.ID, MemberID: memberID, Outcome: outcome}, nil
}
