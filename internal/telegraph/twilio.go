package telegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/perito/internal/dialogue"
)

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioOpts configures a TwilioDispatcher.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string // sender, e.g. "whatsapp:+14155238886"
	BaseURL    string // default DefaultTwilioBaseURL
	HTTPClient *http.Client
}

// TwilioDispatcher sends WhatsApp messages through the Twilio Messages API.
type TwilioDispatcher struct {
	opts TwilioOpts
}

// NewTwilioDispatcher creates a TwilioDispatcher.
func NewTwilioDispatcher(opts TwilioOpts) (*TwilioDispatcher, error) {
	if opts.AccountSID == "" {
		return nil, fmt.Errorf("telegraph: twilio account sid is required")
	}
	if opts.AuthToken == "" {
		return nil, fmt.Errorf("telegraph: twilio auth token is required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("telegraph: twilio sender is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultTwilioBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &TwilioDispatcher{opts: opts}, nil
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Dispatch implements Dispatcher.
func (d *TwilioDispatcher) Dispatch(ctx context.Context, to string, p dialogue.Prompt) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", d.opts.From)
	form.Set("Body", p.Text)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(d.opts.BaseURL, "/"), d.opts.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telegraph: twilio: %w", err)
	}
	req.SetBasicAuth(d.opts.AccountSID, d.opts.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegraph: twilio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	var te twilioError
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(body, &te) == nil && te.Message != "" {
		return fmt.Errorf("telegraph: twilio: status %d: code %d: %s", resp.StatusCode, te.Code, te.Message)
	}
	return fmt.Errorf("telegraph: twilio: status %d", resp.StatusCode)
}
