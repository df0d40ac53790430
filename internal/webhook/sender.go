package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kioskctl/printwatch/internal/core"
)

type WebhookEvent string

const (
	EventJobBilled   WebhookEvent = "job_billed"
	EventJobRejected WebhookEvent = "job_rejected"
)

const (
	HeaderSignature = "X-Printwatch-Signature"
	HeaderEvent     = "X-Printwatch-Event"
	HeaderDelivery  = "X-Printwatch-Delivery"
)

type WebhookPayload struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type WebhookConfig struct {
	Endpoints   []string
	Secret      string
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type webhookTask struct {
	url     string
	event   WebhookEvent
	payload *WebhookPayload
	attempt int
}

// WebhookSender delivers billing outcomes to the configured endpoints.
// Delivery is asynchronous: a full queue drops the event rather than
// stall the job pipeline.
type WebhookSender struct {
	endpoints  []string
	secret     string
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	queue      chan *webhookTask
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	log        *zap.Logger
}

var _ core.Notifier = (*WebhookSender)(nil)

func NewWebhookSender(config WebhookConfig, log *zap.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	return &WebhookSender{
		endpoints: config.Endpoints,
		secret:    config.Secret,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount: config.RetryCount,
		retryDelay: config.RetryDelay,
		workers:    config.WorkerCount,
		queue:      make(chan *webhookTask, config.QueueSize),
		stopCh:     make(chan struct{}),
		log:        log.Named("webhook"),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *WebhookSender) JobBilled(ctx context.Context, ev core.JobBilled) {
	s.enqueue(EventJobBilled, ev)
}

func (s *WebhookSender) JobRejected(ctx context.Context, ev core.JobRejected) {
	s.enqueue(EventJobRejected, ev)
}

func (s *WebhookSender) enqueue(event WebhookEvent, data interface{}) {
	for _, url := range s.endpoints {
		task := &webhookTask{
			url:   url,
			event: event,
			payload: &WebhookPayload{
				ID:        uuid.NewString(),
				Event:     string(event),
				Timestamp: time.Now().UTC(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			s.log.Warn("queue full, dropping webhook", zap.String("url", url), zap.String("event", string(event)))
		}
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				s.log.Error("failed to deliver webhook",
					zap.Int("worker", id),
					zap.String("url", task.url),
					zap.String("event", string(task.event)),
					zap.String("delivery", task.payload.ID),
					zap.Int("attempts", task.attempt),
					zap.Error(err))
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.url, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.log.Debug("retrying webhook",
				zap.String("url", task.url),
				zap.Int("attempt", task.attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested: %w", lastErr)
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(url string, payload *WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderDelivery, payload.ID)
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of body, as sent in the signature
// header.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
