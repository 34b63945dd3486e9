// Package notify предоставляет клиент для внешнего сервиса уведомлений о заявках.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/mmeshcher/library-system/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType определяет вид события жизненного цикла заявки.
type EventType string

const (
	EventRequested EventType = "transaction.requested"
	EventApproved  EventType = "transaction.approved"
	EventRejected  EventType = "transaction.rejected"
	EventReturned  EventType = "transaction.returned"
	EventDeleted   EventType = "transaction.deleted"
)

// Event описывает уведомление, отправляемое после фиксации изменения.
type Event struct {
	ID            string           `json:"id"`
	Type          EventType        `json:"type"`
	TransactionID int64            `json:"transactionId"`
	MemberID      int64            `json:"memberId"`
	BookID        int64            `json:"bookId"`
	BookStatus    model.BookStatus `json:"bookStatus"`
	OccurredAt    time.Time        `json:"occurredAt"`
}

// NewEvent создаёт событие с новым идентификатором по состоянию заявки.
func NewEvent(typ EventType, tx *model.Transaction, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          typ,
		TransactionID: tx.ID,
		MemberID:      tx.MemberID,
		BookID:        tx.BookID,
		BookStatus:    tx.BookStatus,
		OccurredAt:    at.UTC(),
	}
}

// RateLimitError возвращается, когда сервис уведомлений ответил 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("notification rate limited, retry after %s", e.RetryAfter)
}

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для сервиса уведомлений по указанному адресу.
// Пустой адрес даёт клиент, который ничего не отправляет.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send отправляет событие; повторная отправка с тем же ID идемпотентна для получателя.
func (c *Client) Send(ctx context.Context, e Event) error {
	if c == nil || c.baseURL == "" {
		return nil
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", e.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
