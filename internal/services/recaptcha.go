package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/craftkart/api/internal/platform/config"
)

// BotVerifier screens checkout requests for automation before gateway orders
// are opened.
type BotVerifier interface {
	VerifyToken(ctx context.Context, token string, remoteIP string) error
}

// ErrBotSuspected signals the bot-mitigation check rejected the request.
var ErrBotSuspected = errors.New("recaptcha: request failed bot verification")

// RecaptchaVerifier implements BotVerifier against the reCAPTCHA siteverify API.
type RecaptchaVerifier struct {
	cfg        config.RecaptchaConfig
	httpClient *http.Client
}

// NewRecaptchaVerifier constructs a verifier from configuration.
func NewRecaptchaVerifier(cfg config.RecaptchaConfig, httpClient *http.Client) (*RecaptchaVerifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("recaptcha: secret is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("recaptcha: endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RecaptchaVerifier{cfg: cfg, httpClient: httpClient}, nil
}

// VerifyToken checks the client token with the siteverify endpoint. A missing
// token, a failed challenge, or a score below the configured minimum all
// reject the request.
func (v *RecaptchaVerifier) VerifyToken(ctx context.Context, token string, remoteIP string) error {
	if v == nil {
		return errors.New("recaptcha: verifier not initialised")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrBotSuspected)
	}

	form := url.Values{}
	form.Set("secret", v.cfg.Secret)
	form.Set("response", token)
	if remoteIP = strings.TrimSpace(remoteIP); remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("recaptcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("recaptcha: siteverify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("recaptcha: read siteverify response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("recaptcha: siteverify status %d", resp.StatusCode)
	}

	var decoded struct {
		Success    bool     `json:"success"`
		Score      float64  `json:"score"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("recaptcha: decode siteverify response: %w", err)
	}

	if !decoded.Success {
		return fmt.Errorf("%w: %s", ErrBotSuspected, strings.Join(decoded.ErrorCodes, ","))
	}
	if v.cfg.MinScore > 0 && decoded.Score < v.cfg.MinScore {
		return fmt.Errorf("%w: score %.2f below threshold", ErrBotSuspected, decoded.Score)
	}
	return nil
}
