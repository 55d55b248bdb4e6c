package verification

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-identity-api/internal/config"
	"github.com/go-identity-api/internal/domain"
	redisinfra "github.com/go-identity-api/internal/infrastructure/redis"
	"github.com/go-identity-api/internal/pkg/protector"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockSMSSender struct{ mock.Mock }

func (m *mockSMSSender) SendSMSWithRetry(ctx context.Context, payload, destination, templateID string, maxRetries int) error {
	return m.Called(ctx, payload, destination, templateID, maxRetries).Error(0)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(to, subject, templateID, payload string) error {
	return m.Called(to, subject, templateID, payload).Error(0)
}

// --- fixture ---

type fixture struct {
	svc    Service
	mr     *miniredis.Miniredis
	sms    *mockSMSSender
	mailer *mockMailer
	prot   *protector.Protector
	now    time.Time
}

func newFixture(t *testing.T, limits config.VerificationConfig) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	prot, err := protector.NewRandom()
	require.NoError(t, err)

	f := &fixture{
		mr:     mr,
		sms:    new(mockSMSSender),
		mailer: new(mockMailer),
		prot:   prot,
		now:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceDeps{
		Cache:           redisinfra.NewStore(client),
		Protector:       prot,
		SMSSender:       f.sms,
		Mailer:          f.mailer,
		Limits:          limits,
		SMSTemplateID:   "9900",
		SMSMaxRetries:   3,
		EmailTemplateID: "verify_email",
		Now:             func() time.Time { return f.now },
	})
	return f
}

func defaultLimits() config.VerificationConfig {
	return config.VerificationConfig{
		PhoneDailyMax:    10,
		EmailDailyMax:    10,
		PhoneMinInterval: 60 * time.Second,
		EmailMinInterval: 60 * time.Second,
		PhoneCodeTTL:     300 * time.Second,
		EmailCodeTTL:     1800 * time.Second,
	}
}

// pendingCode digs the issued code out of the cache key, since the code
// itself only travels through the delivery channel.
func pendingCode(t *testing.T, mr *miniredis.Miniredis, ch domain.Channel, address string) string {
	t.Helper()
	prefix := "verify:" + string(ch) + ":code:" + address + ":"
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, prefix) {
			return strings.TrimPrefix(k, prefix)
		}
	}
	t.Fatalf("no pending code for %s %s", ch, address)
	return ""
}

// --- issuance ---

func TestRequestPhoneCode_IssuesAndRecords(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, "+5215512345678", "9900", 3).Return(nil)

	retryAfter, err := f.svc.RequestPhoneCode(context.Background(), "+5215512345678")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)

	code := pendingCode(t, f.mr, domain.ChannelPhone, "+5215512345678")
	assert.Len(t, code, 4)

	// Counter started and bumped, timestamp recorded without expiry.
	count, err := f.mr.Get(domain.DailyCountKey(domain.ChannelPhone, "+5215512345678"))
	require.NoError(t, err)
	assert.Equal(t, "1", count)
	assert.Zero(t, f.mr.TTL(domain.LastIssueKey(domain.ChannelPhone, "+5215512345678")))

	payload := f.sms.Calls[0].Arguments.String(1)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &body))
	assert.Equal(t, code, body["code"])
}

func TestRequestPhoneCode_EmptyPhone(t *testing.T) {
	f := newFixture(t, defaultLimits())

	_, err := f.svc.RequestPhoneCode(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestRequestPhoneCode_TooSoonCarriesRemainingCooldown(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.RequestPhoneCode(context.Background(), "+15550001111")
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Second)
	retryAfter, err := f.svc.RequestPhoneCode(context.Background(), "+15550001111")
	assert.ErrorIs(t, err, domain.ErrTooSoon)
	assert.Equal(t, int64(50), retryAfter)
	assert.Equal(t, int64(50), domain.RetryAfterSeconds(err))

	// Once the cooldown passed the next issuance goes through.
	f.now = f.now.Add(55 * time.Second)
	_, err = f.svc.RequestPhoneCode(context.Background(), "+15550001111")
	assert.NoError(t, err)
}

func TestRequestPhoneCode_DailyCap(t *testing.T) {
	limits := defaultLimits()
	limits.PhoneDailyMax = 5
	limits.PhoneMinInterval = 0
	f := newFixture(t, limits)
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.svc.RequestPhoneCode(ctx, "+15550002222")
		require.NoError(t, err)
	}

	// The counter reached the cap; the sixth request is rejected before any
	// code is generated.
	_, err := f.svc.RequestPhoneCode(ctx, "+15550002222")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestRequestPhoneCode_CapIsPerAddress(t *testing.T) {
	limits := defaultLimits()
	limits.PhoneDailyMax = 1
	limits.PhoneMinInterval = 0
	f := newFixture(t, limits)
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	_, err := f.svc.RequestPhoneCode(ctx, "+15550003333")
	require.NoError(t, err)
	_, err = f.svc.RequestPhoneCode(ctx, "+15550003333")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// A different address starts with a fresh counter.
	_, err = f.svc.RequestPhoneCode(ctx, "+15550004444")
	assert.NoError(t, err)
}

func TestRequestPhoneCode_CounterResetsAfterWindow(t *testing.T) {
	limits := defaultLimits()
	limits.PhoneDailyMax = 1
	limits.PhoneMinInterval = 0
	f := newFixture(t, limits)
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	_, err := f.svc.RequestPhoneCode(ctx, "+15550005555")
	require.NoError(t, err)
	_, err = f.svc.RequestPhoneCode(ctx, "+15550005555")
	require.ErrorIs(t, err, domain.ErrRateLimited)

	// The 24h TTL evicts the counter and the address can issue again.
	f.mr.FastForward(25 * time.Hour)
	_, err = f.svc.RequestPhoneCode(ctx, "+15550005555")
	assert.NoError(t, err)
}

func TestRequestPhoneCode_DeliveryFailureStillRecords(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(assert.AnError)

	_, err := f.svc.RequestPhoneCode(context.Background(), "+15550006666")
	assert.ErrorIs(t, err, assert.AnError)

	// The failed delivery still burned an issuance: the pending code exists
	// and the counter moved.
	pendingCode(t, f.mr, domain.ChannelPhone, "+15550006666")
	count, err := f.mr.Get(domain.DailyCountKey(domain.ChannelPhone, "+15550006666"))
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestRequestEmailCode_SendsProtectedToken(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.mailer.On("SendEmail", "a@b.co", mock.Anything, "verify_email", mock.Anything).Return(nil)

	_, err := f.svc.RequestEmailCode(context.Background(), "a@b.co")
	require.NoError(t, err)

	code := pendingCode(t, f.mr, domain.ChannelEmail, "a@b.co")
	assert.Len(t, code, 6)

	var payload struct {
		To  []string            `json:"to"`
		Sub map[string][]string `json:"sub"`
	}
	raw := f.mailer.Calls[0].Arguments.String(3)
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.Equal(t, []string{"a@b.co"}, payload.To)
	require.Len(t, payload.Sub["%code%"], 1)

	// The mail body carries the protected token, never the raw code.
	token := payload.Sub["%code%"][0]
	assert.NotEqual(t, code, token)
	got, err := f.prot.Unprotect(token)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

// --- redemption ---

func TestRedeemPhoneCode_SingleUse(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	_, err := f.svc.RequestPhoneCode(ctx, "+15550007777")
	require.NoError(t, err)
	code := pendingCode(t, f.mr, domain.ChannelPhone, "+15550007777")

	ok, err := f.svc.RedeemPhoneCode(ctx, "+15550007777", code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.RedeemPhoneCode(ctx, "+15550007777", code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemPhoneCode_WrongCodeOrAddress(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	_, err := f.svc.RequestPhoneCode(ctx, "+15550008888")
	require.NoError(t, err)
	code := pendingCode(t, f.mr, domain.ChannelPhone, "+15550008888")

	ok, err := f.svc.RedeemPhoneCode(ctx, "+15550008888", "0000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.RedeemPhoneCode(ctx, "+15550009999", code)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.RedeemPhoneCode(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemPhoneCode_ExpiresWithWindow(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.sms.On("SendSMSWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	_, err := f.svc.RequestPhoneCode(ctx, "+15550010000")
	require.NoError(t, err)
	code := pendingCode(t, f.mr, domain.ChannelPhone, "+15550010000")

	f.mr.FastForward(301 * time.Second)

	ok, err := f.svc.RedeemPhoneCode(ctx, "+15550010000", code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemEmailCode_SingleUse(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.mailer.On("SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	_, err := f.svc.RequestEmailCode(ctx, "a@b.co")
	require.NoError(t, err)

	var payload struct {
		Sub map[string][]string `json:"sub"`
	}
	raw := f.mailer.Calls[0].Arguments.String(3)
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	token := payload.Sub["%code%"][0]

	ok, err := f.svc.RedeemEmailCode(ctx, "a@b.co", token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.RedeemEmailCode(ctx, "a@b.co", token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemEmailCode_GarbageToken(t *testing.T) {
	f := newFixture(t, defaultLimits())

	ok, err := f.svc.RedeemEmailCode(context.Background(), "a@b.co", "not-a-token")
	require.NoError(t, err)
	assert.False(t, ok)
}
