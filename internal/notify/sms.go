package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/wolfman30/clinicops/pkg/logging"
)

// SMSSender sends a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioSMSSender posts messages to Twilio's REST API. It makes a single
// attempt; the dispatcher owns timeouts and callers own retries.
type TwilioSMSSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioSMSSender returns nil when credentials are missing.
func NewTwilioSMSSender(accountSID, authToken, from string, logger *logging.Logger) *TwilioSMSSender {
	if accountSID == "" || authToken == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSMSSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

// WithBaseURL points the sender at another endpoint.
func (s *TwilioSMSSender) WithBaseURL(base string) *TwilioSMSSender {
	s.baseURL = strings.TrimRight(base, "/")
	return s
}

func (s *TwilioSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if s == nil {
		return errors.New("notify: twilio not configured")
	}
	if to == "" || strings.TrimSpace(body) == "" {
		return errors.New("notify: sms to and body required")
	}

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", s.from)
	payload.Set("Body", body)
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return fmt.Errorf("notify: build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: twilio send: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: twilio send: %s", twilioError(resp.StatusCode, raw))
	}
	s.logger.Debug("sms sent via twilio", "to", to)
	return nil
}

func twilioError(status int, body []byte) string {
	var parsed struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
	}
	return fmt.Sprintf("status %d", status)
}

// StubSMSSender logs instead of sending.
type StubSMSSender struct {
	logger *logging.Logger
}

func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info("stub sms sender: would send sms", "to", to, "length", len(body))
	return nil
}

var (
	_ SMSSender = (*TwilioSMSSender)(nil)
	_ SMSSender = (*StubSMSSender)(nil)
)
