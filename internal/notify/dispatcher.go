package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/config"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"gorm.io/gorm"
)

// Dispatcher delivers push notifications through an external gateway.
// Delivery is fire-and-forget: Send never returns an error and failures are
// logged, never surfaced to the calling write path.
type Dispatcher struct {
	db         *gorm.DB
	gatewayURL string
	apiKey     string
	client     *http.Client
}

func NewDispatcher(db *gorm.DB, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		db:         db,
		gatewayURL: cfg.PushGatewayURL,
		apiKey:     cfg.PushGatewayKey,
		client:     &http.Client{Timeout: cfg.PushTimeout},
	}
}

// IsAvailable reports whether a gateway is configured.
func (d *Dispatcher) IsAvailable() bool {
	return d.gatewayURL != ""
}

type pushPayload struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Send delivers a notification to every device registered by the
// recipient. Runs in its own goroutine so callers never wait on the
// gateway.
func (d *Dispatcher) Send(recipientID uuid.UUID, recipientType, title, body string, data map[string]string) {
	if !d.IsAvailable() {
		return
	}
	go func() {
		if err := d.deliver(recipientID, recipientType, title, body, data); err != nil {
			slog.Error("push delivery failed",
				"recipient_id", recipientID.String(),
				"recipient_type", recipientType,
				"error", err.Error())
		}
	}()
}

// Recipient is one notification target.
type Recipient struct {
	ID   uuid.UUID
	Type string
}

// SendToMany fans a notification out to a set of recipients.
func (d *Dispatcher) SendToMany(recipients []Recipient, title, body string, data map[string]string) {
	for _, r := range recipients {
		d.Send(r.ID, r.Type, title, body, data)
	}
}

func (d *Dispatcher) deliver(recipientID uuid.UUID, recipientType, title, body string, data map[string]string) error {
	var tokens []string
	err := d.db.Model(&models.DeviceToken{}).
		Where("user_id = ? AND user_type = ?", recipientID, recipientType).
		Pluck("token", &tokens).Error
	if err != nil {
		return fmt.Errorf("resolve device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	payload := pushPayload{Tokens: tokens, Title: title, Body: body, Data: data}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.gatewayURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("call push gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	return nil
}
