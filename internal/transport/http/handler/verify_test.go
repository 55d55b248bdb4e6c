package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-identity-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockVerifySvc struct{ mock.Mock }

func (m *mockVerifySvc) RequestPhoneCode(ctx context.Context, phone string) (int64, error) {
	args := m.Called(ctx, phone)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockVerifySvc) RequestEmailCode(ctx context.Context, email string) (int64, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockVerifySvc) RedeemPhoneCode(ctx context.Context, phone, code string) (bool, error) {
	args := m.Called(ctx, phone, code)
	return args.Bool(0), args.Error(1)
}

func (m *mockVerifySvc) RedeemEmailCode(ctx context.Context, email, token string) (bool, error) {
	args := m.Called(ctx, email, token)
	return args.Bool(0), args.Error(1)
}

func postJSON(t *testing.T, target string, payload interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
}

func TestSendPhoneCode_OK(t *testing.T) {
	svc := &mockVerifySvc{}
	svc.On("RequestPhoneCode", mock.Anything, "+15550001111").Return(int64(0), nil)
	h := NewVerifyHandler(svc)

	rr := httptest.NewRecorder()
	h.SendPhoneCode(rr, postJSON(t, "/v1/verify-phone", map[string]string{"phone": "+15550001111"}))

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestSendPhoneCode_MissingPhone(t *testing.T) {
	h := NewVerifyHandler(&mockVerifySvc{})
	rr := httptest.NewRecorder()
	h.SendPhoneCode(rr, postJSON(t, "/v1/verify-phone", map[string]string{}))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestSendPhoneCode_TooSoonSetsRetryAfter(t *testing.T) {
	svc := &mockVerifySvc{}
	svc.On("RequestPhoneCode", mock.Anything, "+15550001111").
		Return(int64(50), &domain.TooSoonError{RetryAfter: 50})
	h := NewVerifyHandler(svc)

	rr := httptest.NewRecorder()
	h.SendPhoneCode(rr, postJSON(t, "/v1/verify-phone", map[string]string{"phone": "+15550001111"}))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "50", rr.Header().Get("Retry-After"))

	var resp RetryEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(50), resp.RetryAfter)
}

func TestSendPhoneCode_DailyCap(t *testing.T) {
	svc := &mockVerifySvc{}
	svc.On("RequestPhoneCode", mock.Anything, "+15550001111").
		Return(int64(0), domain.ErrRateLimited)
	h := NewVerifyHandler(svc)

	rr := httptest.NewRecorder()
	h.SendPhoneCode(rr, postJSON(t, "/v1/verify-phone", map[string]string{"phone": "+15550001111"}))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Empty(t, rr.Header().Get("Retry-After"))
}

func TestSendEmailCode_OK(t *testing.T) {
	svc := &mockVerifySvc{}
	svc.On("RequestEmailCode", mock.Anything, "a@b.co").Return(int64(0), nil)
	h := NewVerifyHandler(svc)

	rr := httptest.NewRecorder()
	h.SendEmailCode(rr, postJSON(t, "/v1/verify-email", map[string]string{"email": "a@b.co"}))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSendEmailCode_InvalidEmail(t *testing.T) {
	h := NewVerifyHandler(&mockVerifySvc{})
	rr := httptest.NewRecorder()
	h.SendEmailCode(rr, postJSON(t, "/v1/verify-email", map[string]string{"email": "not-an-email"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
