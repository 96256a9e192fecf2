package services

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

	"github.com/craftkart/api/internal/platform/config"
)

const (
	// CouponKindFixed discounts a flat amount, clamped at the subtotal.
	CouponKindFixed = "fixed"
	// CouponKindFloor discounts whatever brings the payable subtotal down to
	// the configured floor amount.
	CouponKindFloor = "floor"
)

var (
	// ErrCouponInvalidInput signals the caller provided invalid data.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")

	errCouponRemoteUnavailable = errors.New("coupon: remote validator unavailable")
)

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Config     config.CouponConfig
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	cfg        config.CouponConfig
	httpClient *http.Client
	logger     func(context.Context, string, map[string]any)
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	kind := strings.ToLower(strings.TrimSpace(deps.Config.Kind))
	if kind != CouponKindFixed && kind != CouponKindFloor {
		return nil, fmt.Errorf("coupon service: unsupported kind %q", deps.Config.Kind)
	}
	if strings.TrimSpace(deps.Config.Code) == "" {
		return nil, errors.New("coupon service: coupon code is required")
	}
	if deps.Config.Amount <= 0 {
		return nil, errors.New("coupon service: coupon amount must be positive")
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	cfg := deps.Config
	cfg.Kind = kind

	return &couponService{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Validate checks the coupon code against the active promotion. The remote
// validator is authoritative; the local rule only answers when the remote
// endpoint is unreachable or failing.
func (s *couponService) Validate(ctx context.Context, code string, subtotal int64) (CouponResult, error) {
	if subtotal < 0 {
		return CouponResult{}, fmt.Errorf("%w: subtotal must not be negative", ErrCouponInvalidInput)
	}

	if strings.TrimSpace(code) == "" {
		return CouponResult{Valid: false, Message: "coupon code is required"}, nil
	}

	if strings.TrimSpace(s.cfg.RemoteURL) != "" {
		result, err := s.validateRemote(ctx, code, subtotal)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, errCouponRemoteUnavailable) {
			return CouponResult{}, err
		}
		s.logger(ctx, "coupon.remote_fallback", map[string]any{
			"error": err.Error(),
		})
	}

	return s.validateLocal(code, subtotal), nil
}

// validateLocal applies the configured rule without leaving the process.
func (s *couponService) validateLocal(code string, subtotal int64) CouponResult {
	// Codes match exactly, including case.
	if code != s.cfg.Code {
		return CouponResult{Valid: false, Message: "invalid coupon code"}
	}

	var discount int64
	switch s.cfg.Kind {
	case CouponKindFixed:
		discount = s.cfg.Amount
		if discount > subtotal {
			discount = subtotal
		}
	case CouponKindFloor:
		discount = subtotal - s.cfg.Amount
		if discount < 0 {
			discount = 0
		}
	}

	return CouponResult{Valid: true, Discount: discount, Message: "coupon applied"}
}

func (s *couponService) validateRemote(ctx context.Context, code string, subtotal int64) (CouponResult, error) {
	payload, err := json.Marshal(map[string]any{
		"code":     code,
		"subtotal": subtotal,
	})
	if err != nil {
		return CouponResult{}, fmt.Errorf("coupon: marshal remote payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RemoteURL, bytes.NewReader(payload))
	if err != nil {
		return CouponResult{}, fmt.Errorf("coupon: build remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(s.cfg.RemoteToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return CouponResult{}, fmt.Errorf("%w: %v", errCouponRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CouponResult{}, fmt.Errorf("%w: read response: %v", errCouponRemoteUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return CouponResult{}, fmt.Errorf("%w: status %d", errCouponRemoteUnavailable, resp.StatusCode)
	}

	var decoded struct {
		Valid    bool   `json:"valid"`
		Discount int64  `json:"discount"`
		Message  string `json:"message"`
	}

	// A 4xx answer is an authoritative rejection, not an outage.
	if resp.StatusCode >= 400 {
		if err := json.Unmarshal(body, &decoded); err == nil && decoded.Message != "" {
			return CouponResult{Valid: false, Message: decoded.Message}, nil
		}
		return CouponResult{Valid: false, Message: "invalid coupon code"}, nil
	}

	if err := json.Unmarshal(body, &decoded); err != nil {
		return CouponResult{}, fmt.Errorf("%w: decode response: %v", errCouponRemoteUnavailable, err)
	}

	result := CouponResult{Valid: decoded.Valid, Discount: decoded.Discount, Message: decoded.Message}
	if result.Discount < 0 {
		result.Discount = 0
	}
	if result.Discount > subtotal {
		result.Discount = subtotal
	}
	return result, nil
}

// RecomputeDiscount applies the local rule regardless of any client-supplied
// discount; order totals always come from this path.
func RecomputeDiscount(cfg config.CouponConfig, code string, subtotal int64) int64 {
	code = strings.TrimSpace(code)
	if code == "" || code != cfg.Code || subtotal <= 0 {
		return 0
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case CouponKindFixed:
		if cfg.Amount > subtotal {
			return subtotal
		}
		return cfg.Amount
	case CouponKindFloor:
		if discount := subtotal - cfg.Amount; discount > 0 {
			return discount
		}
		return 0
	default:
		return 0
	}
}
