// Package delivery sends answers back to guests over SMS.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chattabot/agent/internal/agent/model"
	logx "github.com/chattabot/agent/pkg/logger"
)

// Receipt is what a send produced. A failed send still yields a receipt whose Status names the
// error type and whose Body is the apology shown to the operator.
type Receipt struct {
	SID    string `json:"sid,omitempty"`
	Status string `json:"status"`
	Body   string `json:"body"`
}

type Sender interface {
	Send(ctx context.Context, to, body string) Receipt
}

// APIError is a non-2xx reply from the messaging API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("messaging api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("messaging api returned %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
}

// TransportError wraps a request that never got a reply.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "messaging transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

type TwilioSender struct {
	cfg    model.TwilioConfig
	client *http.Client
}

func NewTwilioSender(cfg model.TwilioConfig, client *http.Client) *TwilioSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &TwilioSender{cfg: cfg, client: client}
}

// Send posts one message. Errors never escape: they are logged and folded into the receipt.
func (s *TwilioSender) Send(ctx context.Context, to, body string) Receipt {
	r, err := s.send(ctx, to, body)
	if err != nil {
		logx.Error().Err(err).Str("to", to).Msg("Failed to deliver SMS")
		return Receipt{Status: errorTypeName(err), Body: fmt.Sprintf(model.DeliveryErrorMessage, err)}
	}
	return r
}

func (s *TwilioSender) send(ctx context.Context, to, body string) (Receipt, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Receipt{}, err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Receipt{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, &TransportError{Err: err}
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return Receipt{}, apiErr
	}

	var out Receipt
	if err := json.Unmarshal(raw, &out); err != nil {
		return Receipt{}, fmt.Errorf("decode messaging reply: %w", err)
	}
	logx.Info().Str("sid", out.SID).Str("status", out.Status).Msg("SMS queued")
	return out, nil
}

// errorTypeName is the bare type name of err, e.g. APIError.
func errorTypeName(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// LogSender only logs. Used when SMS delivery is not configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, body string) Receipt {
	logx.Info().Str("to", to).Int("chars", len(body)).Msg("SMS delivery disabled; reply not sent")
	return Receipt{Status: "skipped", Body: body}
}

var (
	_ Sender = (*TwilioSender)(nil)
	_ Sender = LogSender{}
)
