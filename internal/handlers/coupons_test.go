package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/services"
)

type stubCouponService struct {
	validateFn func(ctx context.Context, code string, subtotal int64) (domain.CouponResult, error)
}

func (s *stubCouponService) Validate(ctx context.Context, code string, subtotal int64) (domain.CouponResult, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, code, subtotal)
	}
	return domain.CouponResult{}, errors.New("not implemented")
}

func newCouponRouter(service services.CouponService) *chi.Mux {
	router := chi.NewRouter()
	NewCouponHandlers(service).Routes(router)
	return router
}

func TestCouponHandlersValidateSuccess(t *testing.T) {
	service := &stubCouponService{
		validateFn: func(ctx context.Context, code string, subtotal int64) (domain.CouponResult, error) {
			if code != "WELCOME50" || subtotal != 12000 {
				t.Fatalf("unexpected validate args %q %d", code, subtotal)
			}
			return domain.CouponResult{Valid: true, Discount: 5000, Message: "coupon applied"}, nil
		},
	}

	body := bytes.NewBufferString(`{"code":" WELCOME50 ","subtotal":12000}`)
	req := httptest.NewRequest(http.MethodPost, "/coupons:validate", body)
	rr := httptest.NewRecorder()
	newCouponRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp validateCouponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Valid || resp.Discount != 5000 || resp.Message != "coupon applied" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCouponHandlersValidateRejectsNegativeSubtotal(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/coupons:validate", bytes.NewBufferString(`{"code":"X","subtotal":-1}`))
	rr := httptest.NewRecorder()
	newCouponRouter(&stubCouponService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/coupons:validate", strings.NewReader("  "))
	rr := httptest.NewRecorder()
	newCouponRouter(&stubCouponService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateBodyTooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/coupons:validate", strings.NewReader(strings.Repeat("x", maxCouponBodySize+1)))
	rr := httptest.NewRecorder()
	newCouponRouter(&stubCouponService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateInvalidInputError(t *testing.T) {
	service := &stubCouponService{
		validateFn: func(ctx context.Context, code string, subtotal int64) (domain.CouponResult, error) {
			return domain.CouponResult{}, services.ErrCouponInvalidInput
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/coupons:validate", bytes.NewBufferString(`{"code":"X","subtotal":100}`))
	rr := httptest.NewRecorder()
	newCouponRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateServiceMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/coupons:validate", bytes.NewBufferString(`{"code":"X","subtotal":100}`))
	rr := httptest.NewRecorder()
	newCouponRouter(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
