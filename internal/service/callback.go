package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/config"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRecordedResponse = 4 << 10

// CallbackQueue accepts committed status changes for asynchronous merchant
// notification. Enqueue must not block; it reports false when the event was
// dropped.
type CallbackQueue interface {
	Enqueue(ev Event) bool
}

// CallbackPayload is the JSON body posted to merchant URLs.
type CallbackPayload struct {
	TransactionID string      `json:"transactionId"`
	OrderID       string      `json:"orderId"`
	Number        int64       `json:"number"`
	Amount        json.Number `json:"amount"`
	Status        string      `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
}

// CallbackService posts status changes to merchant URLs and records every
// attempt in the callback history.
type CallbackService struct {
	store    QueryStore
	settings *config.SettingsHolder
	client   *http.Client
}

func NewCallbackService(store QueryStore, settings *config.SettingsHolder) *CallbackService {
	return &CallbackService{
		store:    store,
		settings: settings,
		client:   &http.Client{},
	}
}

// WithHTTPClient replaces the HTTP client. Per-request timeouts still come
// from the settlement settings.
func (s *CallbackService) WithHTTPClient(c *http.Client) *CallbackService {
	s.client = c
	return s
}

// Deliver sends ev to every target URL of the transaction. Failures are
// returned for logging only; they never change the transaction.
func (s *CallbackService) Deliver(ctx context.Context, ev Event) error {
	queries := s.store.Queries()
	tx, err := queries.GetTransaction(ctx, ev.TransactionID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	merchant, err := queries.GetMerchant(ctx, tx.MerchantID)
	if err != nil {
		return fmt.Errorf("load merchant: %w", err)
	}

	body, err := json.Marshal(buildPayload(tx, ev))
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}

	var failed error
	for _, url := range callbackTargets(tx, ev.Status) {
		if err := s.send(ctx, tx.ID, url, body, merchant.CallbackSecret); err != nil {
			failed = errors.Join(failed, err)
		}
	}
	return failed
}

func (s *CallbackService) send(ctx context.Context, transactionID uuid.UUID, url string, body []byte, secret string) error {
	settings := s.settings.Load()
	attempts := max(settings.CallbackAttempts, 1)
	backoff := settings.CallbackBackoff

	for attempt := 1; attempt <= attempts; attempt++ {
		status, response, err := s.post(ctx, transactionID, url, body, secret, settings.CallbackTimeout)
		s.record(ctx, transactionID, url, body, status, response, err, attempt)

		if err == nil && status >= 200 && status < 300 {
			observability.IncrementCallback("delivered")
			return nil
		}
		observability.IncrementCallback("failed_attempt")
		zap.L().Warn("callback attempt failed",
			zap.String("transaction_id", transactionID.String()),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Error(err),
		)

		if attempt < attempts {
			if err := sleepCtx(ctx, backoff<<(attempt-1)); err != nil {
				return fmt.Errorf("%w: %s: %v", domain.ErrCallbackFailed, url, err)
			}
		}
	}

	observability.IncrementCallback("exhausted")
	zap.L().Error("callback delivery exhausted",
		zap.String("transaction_id", transactionID.String()),
		zap.String("url", url),
		zap.Int("attempts", attempts),
	)
	return fmt.Errorf("%w: %s after %d attempts", domain.ErrCallbackFailed, url, attempts)
}

func (s *CallbackService) post(ctx context.Context, transactionID uuid.UUID, url string, body []byte, secret string, timeout time.Duration) (int, string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Transaction-Id", transactionID.String())
	if secret != "" {
		req.Header.Set("X-Signature", Sign(secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordedResponse))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read callback response: %w", err)
	}
	return resp.StatusCode, string(raw), nil
}

// record appends one history row. It survives cancellation of ctx so the
// attempt that was cut short by shutdown is still on file.
func (s *CallbackService) record(ctx context.Context, transactionID uuid.UUID, url string, body []byte, status int, response string, sendErr error, attempt int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	h := models.CallbackHistory{
		TransactionID: transactionID,
		URL:           url,
		Payload:       body,
		Response:      response,
		Attempt:       int32(attempt),
		CreatedAt:     utcNow(),
	}
	if status > 0 {
		code := int32(status)
		h.StatusCode = &code
	}
	if sendErr != nil {
		h.Error = sendErr.Error()
	}
	if _, err := s.store.Queries().InsertCallbackHistory(ctx, h); err != nil {
		zap.L().Error("record callback history failed", zap.String("transaction_id", transactionID.String()), zap.Error(err))
	}
}

// Sign returns the X-Signature value for body: "sha256=" followed by the hex
// HMAC-SHA256 under the merchant's callback secret.
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func buildPayload(tx models.Transaction, ev Event) CallbackPayload {
	return CallbackPayload{
		TransactionID: tx.ID.String(),
		OrderID:       tx.OrderID,
		Number:        tx.Number,
		Amount:        json.Number(domain.FromMicros(tx.Amount).StringFixed(2)),
		Status:        ev.Status.String(),
		Timestamp:     ev.At,
	}
}

// callbackTargets lists the URLs notified for status: the callback URL
// always, plus the success or fail URL for final outcomes.
func callbackTargets(tx models.Transaction, status domain.Status) []string {
	var urls []string
	add := func(u string) {
		if u == "" {
			return
		}
		for _, existing := range urls {
			if existing == u {
				return
			}
		}
		urls = append(urls, u)
	}

	add(tx.CallbackURL)
	switch status {
	case domain.StatusReady:
		add(tx.SuccessURL)
	case domain.StatusExpired, domain.StatusCanceled:
		add(tx.FailURL)
	}
	return urls
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
