package sink

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/smallbiznis/billingsync/internal/config"
	notificationdomain "github.com/smallbiznis/billingsync/internal/notification/domain"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"go.uber.org/zap"
)

const (
	HeaderSignature = "X-Billingsync-Signature"
	HeaderTimestamp = "X-Billingsync-Timestamp"
	HeaderEventType = "X-Billingsync-Event"
)

var ErrWebhookDelivery = ierr.NewError("workflow_webhook_delivery_failed").Mark(ierr.ErrProvider)

type WebhookConfig struct {
	URL          string
	Secret       string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// WebhookSink posts events as JSON to the workflow automation receiver.
type WebhookSink struct {
	cfg    WebhookConfig
	client *retryablehttp.Client
	log    *zap.Logger
}

func NewWebhookSinkFromConfig(cfg config.Config, log *zap.Logger) *WebhookSink {
	return NewWebhookSink(WebhookConfig{
		URL:    cfg.WorkflowWebhookURL,
		Secret: cfg.WorkflowWebhookSecret,
	}, log)
}

func NewWebhookSink(cfg WebhookConfig, log *zap.Logger) *WebhookSink {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 200 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 2 * time.Second
	}

	named := log.Named("notification.webhook")
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = leveledLogger{named.Sugar()}

	return &WebhookSink{cfg: cfg, client: client, log: named}
}

func (s *WebhookSink) Name() string { return "workflow_webhook" }

// Enabled reports whether a receiver URL is configured.
func (s *WebhookSink) Enabled() bool {
	return s != nil && strings.TrimSpace(s.cfg.URL) != ""
}

func (s *WebhookSink) Send(ctx context.Context, event notificationdomain.Event) error {
	if !s.Enabled() {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, body)
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, event.Type)
	req.Header.Set(HeaderTimestamp, timestamp)
	if s.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(s.cfg.Secret, timestamp, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ierr.WithError(ErrWebhookDelivery).WithMessage(err.Error()).Mark(ierr.ErrProvider)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return ierr.WithError(ErrWebhookDelivery).
			WithHintf("workflow receiver answered %d", resp.StatusCode).
			Mark(ierr.ErrProvider)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%s.", timestamp)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
