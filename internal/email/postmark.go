package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendCode mails a one-time code for sign-in, registration or proving
// ownership of a secondary address.
func (c *Client) SendCode(ctx context.Context, toEmail, code, purpose string) error {
	var subject, action string
	switch purpose {
	case "login":
		subject = "Your roster sign-in code"
		action = "sign in"
	case "register":
		subject = "Welcome to the roster"
		action = "complete your registration"
	case "verify_email":
		subject = "Confirm your email address"
		action = "confirm this address"
	default:
		subject = "Your roster code"
		action = "continue"
	}

	text := fmt.Sprintf("Enter this code to %s:\n\n%s\n\nThe code expires in 15 minutes.", action, code)
	body := fmt.Sprintf(
		`<p>Enter this code to %s:</p><p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p><p>The code expires in 15 minutes.</p>`,
		action, code,
	)
	return c.send(ctx, postmarkEmail{To: toEmail, Subject: subject, TextBody: text, HtmlBody: body})
}

// SendNotice mails a plain informational message.
func (c *Client) SendNotice(ctx context.Context, toEmail, subject, text string) error {
	return c.send(ctx, postmarkEmail{
		To:       toEmail,
		Subject:  subject,
		TextBody: text,
		HtmlBody: "<p>" + html.EscapeString(text) + "</p>",
	})
}

func (c *Client) send(ctx context.Context, msg postmarkEmail) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	msg.From = c.fromEmail

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
