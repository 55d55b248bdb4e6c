package verification

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/go-identity-api/internal/config"
	"github.com/go-identity-api/internal/domain"
	"github.com/go-identity-api/internal/pkg/id"
)

// Code ranges match the issued channel: a short numeric code fits an SMS,
// the email code is longer because it additionally travels inside a
// protected token.
const (
	phoneCodeMin = 1111
	phoneCodeMax = 9999
	emailCodeMin = 111111
	emailCodeMax = 999999
)

const dailyWindow = 24 * time.Hour

// Service is the verification issuance engine: per-channel daily caps,
// minimum inter-request intervals, code generation, delivery delegation and
// single-use redemption. All cross-call state lives in the cache store, so
// the engine is safe for concurrent request workers.
type Service interface {
	// RequestPhoneCode issues an SMS code. On ErrTooSoon the returned
	// retry-after carries the remaining cooldown in seconds.
	RequestPhoneCode(ctx context.Context, phone string) (retryAfter int64, err error)
	// RequestEmailCode issues an email code wrapped in a time-limited
	// protected token, so the ciphertext expires independently of the cache.
	RequestEmailCode(ctx context.Context, email string) (retryAfter int64, err error)
	// RedeemPhoneCode consumes a pending code exactly once.
	RedeemPhoneCode(ctx context.Context, phone, code string) (bool, error)
	// RedeemEmailCode unprotects the token and consumes the pending code
	// exactly once.
	RedeemEmailCode(ctx context.Context, email, token string) (bool, error)
}

type cacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Increment(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) (bool, error)
}

type smsSender interface {
	SendSMSWithRetry(ctx context.Context, payload, destination, templateID string, maxRetries int) error
}

type emailSender interface {
	SendEmail(to, subject, templateID, payload string) error
}

type codeProtector interface {
	Protect(plaintext string, ttl time.Duration) (string, error)
	Unprotect(token string) (string, error)
}

type service struct {
	cache     cacheStore
	protector codeProtector
	sms       smsSender
	mailer    emailSender

	limits          config.VerificationConfig
	smsTemplateID   string
	smsMaxRetries   int
	emailTemplateID string

	now func() time.Time
}

type ServiceDeps struct {
	Cache           cacheStore
	Protector       codeProtector
	SMSSender       smsSender
	Mailer          emailSender
	Limits          config.VerificationConfig
	SMSTemplateID   string
	SMSMaxRetries   int
	EmailTemplateID string
	// Now overrides the clock; nil means time.Now. Both issuance and
	// redemption read the same clock so elapsed time never goes negative
	// across calls.
	Now func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		cache:           deps.Cache,
		protector:       deps.Protector,
		sms:             deps.SMSSender,
		mailer:          deps.Mailer,
		limits:          deps.Limits,
		smsTemplateID:   deps.SMSTemplateID,
		smsMaxRetries:   deps.SMSMaxRetries,
		emailTemplateID: deps.EmailTemplateID,
		now:             now,
	}
}

func (s *service) RequestPhoneCode(ctx context.Context, phone string) (int64, error) {
	if phone == "" {
		return 0, fmt.Errorf("phone required: %w", domain.ErrBadRequest)
	}

	if err := s.checkDailyCap(ctx, domain.ChannelPhone, phone, s.limits.PhoneDailyMax); err != nil {
		return 0, err
	}
	if retryAfter, err := s.checkInterval(ctx, domain.ChannelPhone, phone, s.limits.PhoneMinInterval); err != nil {
		return retryAfter, err
	}

	code, err := randomCode(phoneCodeMin, phoneCodeMax)
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return 0, err
	}
	issuanceID := id.New()
	deliveryErr := s.sms.SendSMSWithRetry(ctx, string(payload), phone, s.smsTemplateID, s.smsMaxRetries)

	// The pending code is recorded even when delivery failed: resending a
	// live code is safer than silently losing one already on the wire.
	if err := s.recordIssuance(ctx, domain.ChannelPhone, phone, code, s.limits.PhoneCodeTTL); err != nil {
		return 0, err
	}

	if deliveryErr != nil {
		slog.Warn("phone code delivery failed", "issuance_id", issuanceID, "err", deliveryErr)
		return 0, deliveryErr
	}
	slog.Info("phone code issued", "issuance_id", issuanceID)
	return 0, nil
}

func (s *service) RequestEmailCode(ctx context.Context, email string) (int64, error) {
	if email == "" {
		return 0, fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}

	if err := s.checkDailyCap(ctx, domain.ChannelEmail, email, s.limits.EmailDailyMax); err != nil {
		return 0, err
	}
	if retryAfter, err := s.checkInterval(ctx, domain.ChannelEmail, email, s.limits.EmailMinInterval); err != nil {
		return retryAfter, err
	}

	code, err := randomCode(emailCodeMin, emailCodeMax)
	if err != nil {
		return 0, err
	}
	protected, err := s.protector.Protect(code, s.limits.EmailCodeTTL)
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"to":  []string{email},
		"sub": map[string][]string{"%code%": {protected}},
	})
	if err != nil {
		return 0, err
	}
	issuanceID := id.New()
	deliveryErr := s.mailer.SendEmail(email, "Email verification", s.emailTemplateID, string(payload))

	if err := s.recordIssuance(ctx, domain.ChannelEmail, email, code, s.limits.EmailCodeTTL); err != nil {
		return 0, err
	}

	if deliveryErr != nil {
		slog.Warn("email code delivery failed", "issuance_id", issuanceID, "err", deliveryErr)
		return 0, deliveryErr
	}
	slog.Info("email code issued", "issuance_id", issuanceID)
	return 0, nil
}

func (s *service) RedeemPhoneCode(ctx context.Context, phone, code string) (bool, error) {
	if phone == "" || code == "" {
		return false, nil
	}
	return s.cache.Remove(ctx, domain.PendingCodeKey(domain.ChannelPhone, phone, code))
}

func (s *service) RedeemEmailCode(ctx context.Context, email, token string) (bool, error) {
	if email == "" || token == "" {
		return false, nil
	}
	code, err := s.protector.Unprotect(token)
	if err != nil {
		// Expired or tampered ciphertext never reaches the cache lookup.
		return false, nil
	}
	return s.cache.Remove(ctx, domain.PendingCodeKey(domain.ChannelEmail, email, code))
}

// checkDailyCap initializes the 24h counter on first use and rejects once
// the counter has reached the cap. The check itself has no side effects
// beyond initializing an absent counter.
func (s *service) checkDailyCap(ctx context.Context, ch domain.Channel, address string, max int) error {
	key := domain.DailyCountKey(ch, address)

	val, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		if err := s.cache.Set(ctx, key, "0", dailyWindow); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStore, err)
		}
		return nil
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%w: corrupt daily counter %q", domain.ErrStore, val)
	}
	if count >= max {
		return fmt.Errorf("%s daily cap: %w", ch, domain.ErrRateLimited)
	}
	return nil
}

// checkInterval enforces the minimum spacing between issuances. Clock drift
// between write and read never produces a negative elapsed value; it clamps
// to zero, which is the conservative outcome (full cooldown).
func (s *service) checkInterval(ctx context.Context, ch domain.Channel, address string, min time.Duration) (int64, error) {
	val, ok, err := s.cache.Get(ctx, domain.LastIssueKey(ch, address))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if !ok {
		return 0, nil
	}

	last, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt last-issue timestamp %q", domain.ErrStore, val)
	}

	elapsed := s.now().UTC().Unix() - last
	if elapsed < 0 {
		elapsed = 0
	}
	minSeconds := int64(min / time.Second)
	if elapsed < minSeconds {
		retryAfter := minSeconds - elapsed
		return retryAfter, &domain.TooSoonError{RetryAfter: retryAfter}
	}
	return 0, nil
}

// recordIssuance writes the pending-code marker, overwrites the last-issue
// timestamp and bumps the daily counter. The increment is atomic at the
// store; the surrounding writes need no client-side locking.
func (s *service) recordIssuance(ctx context.Context, ch domain.Channel, address, code string, window time.Duration) error {
	if err := s.cache.Set(ctx, domain.PendingCodeKey(ch, address, code), "", window); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	now := strconv.FormatInt(s.now().UTC().Unix(), 10)
	if err := s.cache.Set(ctx, domain.LastIssueKey(ch, address), now, 0); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	if _, err := s.cache.Increment(ctx, domain.DailyCountKey(ch, address)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	return nil
}

func randomCode(min, max int64) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(min+n.Int64(), 10), nil
}
