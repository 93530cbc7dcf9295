package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/dukerupert/daostore/internal/model"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark-compatible endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      defaultAPIURL,
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
	Tag      string `json:"Tag,omitempty"`
}

// SendLoginCode emails a one-time sign-in code.
func (c *Client) SendLoginCode(ctx context.Context, toEmail, code string) error {
	textBody := fmt.Sprintf("Your daostore sign-in code is %s\n\nIt expires in 15 minutes. Sign in at %s", code, c.baseURL)
	htmlBody := fmt.Sprintf(
		`<p>Your daostore sign-in code is:</p><p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p><p>It expires in 15 minutes.</p>`,
		html.EscapeString(code),
	)
	return c.send(ctx, postmarkEmail{
		To:       toEmail,
		Subject:  "Your daostore sign-in code",
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "login-code",
	})
}

// SendOrderReceipt emails a summary of a completed order.
func (c *Client) SendOrderReceipt(ctx context.Context, toEmail string, o *model.Order) error {
	var text, rows strings.Builder
	for _, it := range o.Items {
		line := it.ProductName
		if it.Size != "" {
			line += " (" + it.Size + ")"
		}
		fmt.Fprintf(&text, "%d x %s  %s\n", it.Quantity, line, formatCents(it.PriceCents*it.Quantity))
		fmt.Fprintf(&rows, "<tr><td>%d</td><td>%s</td><td>%s</td></tr>",
			it.Quantity, html.EscapeString(line), formatCents(it.PriceCents*it.Quantity))
	}

	textBody := fmt.Sprintf("Thanks for your order %s.\n\n%s\nTotal: %s\nTokens earned: %d\n\nShipping to:\n%s\n",
		o.Reference, text.String(), formatCents(o.TotalCents), o.TokensEarned, o.ShippingAddress)
	htmlBody := fmt.Sprintf(
		`<p>Thanks for your order <strong>%s</strong>.</p><table>%s</table><p>Total: %s<br>Tokens earned: %d</p><p>Shipping to:<br>%s</p>`,
		html.EscapeString(o.Reference), rows.String(), formatCents(o.TotalCents), o.TokensEarned,
		strings.ReplaceAll(html.EscapeString(o.ShippingAddress), "\n", "<br>"),
	)

	return c.send(ctx, postmarkEmail{
		To:       toEmail,
		Subject:  "Your daostore order " + o.Reference,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "order-receipt",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	payload.From = c.fromEmail

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(body))
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

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
