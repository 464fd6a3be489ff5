package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eventbox/eventbox/internal/model"
)

var ErrBreakerOpen = fmt.Errorf("webhook sink: circuit open")

// WebhookSink delivers events as HTTP POSTs. Any non-2xx response or
// transport error counts as a delivery failure; the relay owns retries, the
// breaker only stops hammering a down endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
	br     *MicroBreaker
}

func NewWebhookSink(url string, timeoutMs, failThreshold, openForMs int) *WebhookSink {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:     NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Publish(ctx context.Context, ev model.Event) error {
	if !s.br.TryAcquire() {
		return ErrBreakerOpen
	}

	if err := s.post(ctx, ev); err != nil {
		s.br.OnFailure()
		return err
	}

	s.br.OnSuccess()

	return nil
}

func (s *WebhookSink) post(ctx context.Context, ev model.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", ev.ID)

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("webhook url=%s status=%d", s.url, res.StatusCode)
	}

	return nil
}

func (s *WebhookSink) Close() error { return nil }
