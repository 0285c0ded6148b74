package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/api/middleware"
	internalbilling "github.com/subhubhq/subhub-backend/internal/billing"
	"github.com/subhubhq/subhub-backend/internal/discounts"
	"github.com/subhubhq/subhub-backend/internal/notifications"
	"github.com/subhubhq/subhub-backend/internal/referrals"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	pkgerrors "github.com/subhubhq/subhub-backend/pkg/errors"
	"github.com/subhubhq/subhub-backend/pkg/pagination"
)

type stubCoupons struct {
	preview    *discounts.CouponPreview
	redemption *discounts.Redemption
	err        error

	lastCode   string
	lastUserID uuid.UUID
}

func (s *stubCoupons) ValidateCoupon(_ context.Context, code string, userID uuid.UUID, _ *decimal.Decimal) (*discounts.CouponPreview, error) {
	s.lastCode, s.lastUserID = code, userID
	return s.preview, s.err
}

func (s *stubCoupons) ApplyCoupon(_ context.Context, code string, userID uuid.UUID, _ decimal.Decimal) (*discounts.Redemption, error) {
	s.lastCode, s.lastUserID = code, userID
	return s.redemption, s.err
}

type stubReferrals struct {
	code        *models.ReferralCode
	application *referrals.Application
	stats       *referrals.Stats
	err         error
}

func (s *stubReferrals) GenerateCode(context.Context, uuid.UUID, enums.ReferralRewardType, decimal.Decimal) (*models.ReferralCode, error) {
	return s.code, s.err
}

func (s *stubReferrals) ApplyCode(context.Context, string, uuid.UUID) (*referrals.Application, error) {
	return s.application, s.err
}

func (s *stubReferrals) GetStats(context.Context, uuid.UUID) (*referrals.Stats, error) {
	return s.stats, s.err
}

type stubRefunds struct {
	outcome *internalbilling.RefundOutcome
	err     error

	lastPaymentID uuid.UUID
	lastAmount    *decimal.Decimal
}

func (s *stubRefunds) ProcessRefund(_ context.Context, paymentID uuid.UUID, amount *decimal.Decimal, _ string) (*internalbilling.RefundOutcome, error) {
	s.lastPaymentID, s.lastAmount = paymentID, amount
	return s.outcome, s.err
}

type stubNotifications struct {
	result *notifications.ListResult
	err    error

	lastParams pagination.Params
}

func (s *stubNotifications) List(_ context.Context, _ uuid.UUID, params pagination.Params) (*notifications.ListResult, error) {
	s.lastParams = params
	return s.result, s.err
}

func authedRequest(method, target, body string, userID uuid.UUID) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func TestValidateCouponReturnsPreview(t *testing.T) {
	userID := uuid.New()
	svc := &stubCoupons{preview: &discounts.CouponPreview{
		Code:          "SAVE20",
		DiscountType:  enums.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(20),
	}}

	req := authedRequest(http.MethodPost, "/api/v1/coupons/validate", `{"code":"SAVE20"}`, userID)
	w := httptest.NewRecorder()
	ValidateCoupon(svc, nil).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastCode != "SAVE20" || svc.lastUserID != userID {
		t.Fatalf("service called with %q / %s", svc.lastCode, svc.lastUserID)
	}
}

func TestApplyCouponRejectsUnauthenticated(t *testing.T) {
	svc := &stubCoupons{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/apply", strings.NewReader(`{"code":"SAVE20","amount":"9.99"}`))
	w := httptest.NewRecorder()
	ApplyCoupon(svc, nil).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 but got %d", w.Code)
	}
}

func TestApplyCouponSurfacesServiceErrors(t *testing.T) {
	svc := &stubCoupons{err: pkgerrors.New(pkgerrors.CodeConflict, "Coupon usage limit reached.")}

	req := authedRequest(http.MethodPost, "/api/v1/coupons/apply", `{"code":"SAVE20","amount":"9.99"}`, uuid.New())
	w := httptest.NewRecorder()
	ApplyCoupon(svc, nil).ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 but got %d", w.Code)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if body.Error.Message != "Coupon usage limit reached." {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
}

func TestGenerateReferralCodeValidatesRewardType(t *testing.T) {
	svc := &stubReferrals{}

	req := authedRequest(http.MethodPost, "/api/v1/referrals/code", `{"reward_type":"cashback"}`, uuid.New())
	w := httptest.NewRecorder()
	GenerateReferralCode(svc, nil).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
}

func TestGenerateReferralCodeReturnsView(t *testing.T) {
	svc := &stubReferrals{code: &models.ReferralCode{
		Code:         "AB12CD34",
		RewardType:   enums.ReferralRewardCredit,
		RewardAmount: decimal.NewFromInt(5),
		MaxUses:      10,
		IsActive:     true,
	}}

	req := authedRequest(http.MethodPost, "/api/v1/referrals/code", `{"reward_type":"credit","reward_amount":"5"}`, uuid.New())
	w := httptest.NewRecorder()
	GenerateReferralCode(svc, nil).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Data referralCodeView `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Code != "AB12CD34" || !body.Data.IsActive {
		t.Fatalf("unexpected view %+v", body.Data)
	}
}

func TestApplyReferralCodeSurfacesValidation(t *testing.T) {
	svc := &stubReferrals{err: pkgerrors.New(pkgerrors.CodeValidation, "You cannot use your own referral code.")}

	req := authedRequest(http.MethodPost, "/api/v1/referrals/apply", `{"code":"AB12CD34"}`, uuid.New())
	w := httptest.NewRecorder()
	ApplyReferralCode(svc, nil).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
}

func TestRefundPaymentParsesPathAndBody(t *testing.T) {
	paymentID := uuid.New()
	partial := decimal.RequireFromString("5.00")
	svc := &stubRefunds{outcome: &internalbilling.RefundOutcome{
		PaymentID:      paymentID,
		Status:         enums.PaymentStatusPartiallyRefunded,
		RefundedAmount: partial,
	}}

	router := chi.NewRouter()
	router.Post("/api/v1/payments/{paymentId}/refund", RefundPayment(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/refund", strings.NewReader(`{"amount":"5.00","reason":"customer request"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastPaymentID != paymentID {
		t.Fatalf("expected payment id %s but got %s", paymentID, svc.lastPaymentID)
	}
	if svc.lastAmount == nil || !svc.lastAmount.Equal(partial) {
		t.Fatalf("expected partial amount 5.00 but got %v", svc.lastAmount)
	}
}

func TestRefundPaymentRejectsBadID(t *testing.T) {
	svc := &stubRefunds{}

	router := chi.NewRouter()
	router.Post("/api/v1/payments/{paymentId}/refund", RefundPayment(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/not-a-uuid/refund", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
}

func TestListNotificationsPassesPagination(t *testing.T) {
	svc := &stubNotifications{result: &notifications.ListResult{}}

	req := authedRequest(http.MethodGet, "/api/v1/notifications?limit=5&cursor=abc", "", uuid.New())
	req.Body = http.NoBody
	w := httptest.NewRecorder()
	ListNotifications(svc, nil).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastParams.Limit != 5 || svc.lastParams.Cursor != "abc" {
		t.Fatalf("unexpected pagination params %+v", svc.lastParams)
	}
}
