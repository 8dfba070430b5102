package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"cashflow-suite/settings/internal/constants"
)

const (
	HeaderWebhookSignature = "X-Settings-Signature"
	HeaderWebhookTimestamp = "X-Settings-Timestamp"
	HeaderWebhookEvent     = "X-Settings-Event"
)

// WebhookTester posts a signed ping event and expects a 2xx answer.
type WebhookTester struct {
	Client    *http.Client
	UserAgent string
	now       func() time.Time
}

type webhookPing struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
}

// SignWebhook returns the hex HMAC-SHA256 of "timestamp.body".
func SignWebhook(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (t *WebhookTester) Test(ctx context.Context, values map[string]string) error {
	if err := requireValues(values, "url", "signing_secret"); err != nil {
		return err
	}
	target, err := url.Parse(values["url"])
	if err != nil || (target.Scheme != "https" && target.Scheme != "http") || target.Host == "" {
		return newProviderError(constants.ErrCodeInvalidField, "url must be an absolute http(s) URL", nil)
	}

	now := time.Now
	if t.now != nil {
		now = t.now
	}
	sent := now().UTC()
	body, _ := json.Marshal(webhookPing{ID: uuid.NewString(), Event: "ping", CreatedAt: sent})

	req, err := http.NewRequest(http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookEvent, "ping")
	req.Header.Set(HeaderWebhookTimestamp, strconv.FormatInt(sent.Unix(), 10))
	req.Header.Set(HeaderWebhookSignature, SignWebhook(values["signing_secret"], sent.Unix(), body))
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	resp, err := do(ctx, t.Client, req)
	if err != nil {
		return err
	}
	drainAndClose(resp)
	return nil
}
