package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	pickupPath = "/v1/external/courier/generate/pickup"

	// maxErrorBody caps how much of a carrier error response is carried into
	// results and logs.
	maxErrorBody = 300
)

// SchedulerLogger defines the logging contract for scheduler operations.
type SchedulerLogger func(ctx context.Context, event string, fields map[string]any)

// SchedulerDeps wires the carrier pickup scheduler dependencies.
type SchedulerDeps struct {
	BaseURL    string
	Tokens     *TokenSource
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     SchedulerLogger
}

// Scheduler requests courier pickups from the carrier. Scheduling is a
// best-effort side step of fulfillment: every failure mode is folded into the
// result rather than returned as an error, so a carrier outage can never fail
// the shipping transition itself.
type Scheduler struct {
	baseURL    string
	tokens     *TokenSource
	httpClient *http.Client
	clock      func() time.Time
	logger     SchedulerLogger
}

// NewScheduler constructs a pickup scheduler from its dependencies.
func NewScheduler(deps SchedulerDeps) (*Scheduler, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: carrier base url is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("shipping: token source is required")
	}

	scheduler := &Scheduler{
		baseURL:    baseURL,
		tokens:     deps.Tokens,
		httpClient: deps.HTTPClient,
		clock:      deps.Clock,
		logger:     deps.Logger,
	}
	if scheduler.httpClient == nil {
		scheduler.httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if scheduler.clock == nil {
		scheduler.clock = time.Now
	}
	if scheduler.logger == nil {
		scheduler.logger = func(context.Context, string, map[string]any) {}
	}
	return scheduler, nil
}

// PickupResult mirrors the carrier response fields callers persist on the order.
type PickupResult struct {
	Success             bool
	PickupScheduledDate string
	PickupToken         string
	Error               string
}

// SchedulePickup asks the carrier to collect the given shipment today. An
// order without a carrier shipment short-circuits to a failed result without
// touching the network.
func (s *Scheduler) SchedulePickup(ctx context.Context, shipmentID string) PickupResult {
	if s == nil {
		return PickupResult{Error: "pickup scheduler not initialised"}
	}

	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return PickupResult{Error: "order has no carrier shipment id"}
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		s.logger(ctx, "shipping.pickup.token_error", map[string]any{
			"shipmentId": shipmentID,
			"error":      err.Error(),
		})
		return PickupResult{Error: fmt.Sprintf("carrier authentication failed: %v", err)}
	}

	payload, err := json.Marshal(map[string]any{
		"shipment_id": []string{shipmentID},
		"pickup_date": []string{s.clock().Format("2006-01-02")},
	})
	if err != nil {
		return PickupResult{Error: fmt.Sprintf("build pickup payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+pickupPath, bytes.NewReader(payload))
	if err != nil {
		return PickupResult{Error: fmt.Sprintf("build pickup request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger(ctx, "shipping.pickup.transport_error", map[string]any{
			"shipmentId": shipmentID,
			"error":      err.Error(),
		})
		return PickupResult{Error: fmt.Sprintf("carrier request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PickupResult{Error: fmt.Sprintf("read carrier response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger(ctx, "shipping.pickup.rejected", map[string]any{
			"shipmentId": shipmentID,
			"status":     resp.StatusCode,
		})
		return PickupResult{Error: fmt.Sprintf("carrier returned status %d: %s", resp.StatusCode, truncateBody(body))}
	}

	var decoded struct {
		PickupStatus int `json:"pickup_status"`
		Response     struct {
			PickupScheduledDate string `json:"pickup_scheduled_date"`
			PickupTokenNumber   string `json:"pickup_token_number"`
		} `json:"response"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return PickupResult{Error: fmt.Sprintf("decode carrier response: %v", err)}
	}

	if decoded.PickupStatus != 1 {
		message := strings.TrimSpace(decoded.Message)
		if message == "" {
			message = "carrier declined pickup"
		}
		s.logger(ctx, "shipping.pickup.declined", map[string]any{
			"shipmentId":   shipmentID,
			"pickupStatus": decoded.PickupStatus,
			"message":      message,
		})
		return PickupResult{Error: message}
	}

	s.logger(ctx, "shipping.pickup.scheduled", map[string]any{
		"shipmentId":    shipmentID,
		"scheduledDate": decoded.Response.PickupScheduledDate,
	})
	return PickupResult{
		Success:             true,
		PickupScheduledDate: strings.TrimSpace(decoded.Response.PickupScheduledDate),
		PickupToken:         strings.TrimSpace(decoded.Response.PickupTokenNumber),
	}
}

func truncateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		return text[:maxErrorBody] + "..."
	}
	return text
}
