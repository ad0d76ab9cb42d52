package twilio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eventbuddy/internal/config"
	"eventbuddy/internal/core/contracts"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// SMSSink sends the notification preview as a text message. Principals are phone
// numbers in E.164 form; anything else is skipped.
type SMSSink struct {
	SID     string
	Token   string
	From    string
	BaseURL string
	client  *http.Client
	log     *slog.Logger
}

func NewSMSSink(log *slog.Logger, cfg config.TwilioConfig) *SMSSink {
	return &SMSSink{
		SID:     cfg.SID,
		Token:   cfg.Token,
		From:    cfg.From,
		BaseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

var _ contracts.PushSink = (*SMSSink)(nil)

func (t *SMSSink) Notify(ctx context.Context, principal, conversationID, preview string) error {
	if !strings.HasPrefix(principal, "+") {
		t.log.DebugContext(ctx, "twilio sms - notify - principal is not a phone number", "principal", principal)
		return nil
	}
	apiURL := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.BaseURL, t.SID)

	data := url.Values{}
	data.Set("To", principal)
	data.Set("From", t.From)
	data.Set("Body", "New message: "+preview)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.SID, t.Token)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("twilio error: status %d", resp.StatusCode)
	}
	t.log.DebugContext(ctx, "twilio sms - notify - sent", "conv_id", conversationID)
	return nil
}
