package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes_ReturnsACopy(t *testing.T) {
	first := ErrorCodes()
	first[0].Name = "mutated"

	second := ErrorCodes()
	assert.NotEqual(t, "mutated", second[0].Name)
}

func TestErrorCodes_CoversRegistrationAndVerification(t *testing.T) {
	byCode := make(map[int64]ErrorCodeModel)
	for _, m := range ErrorCodes() {
		byCode[m.Code] = m
	}

	assert.Equal(t, "Register_EmailExists", byCode[int64(CodeRegisterEmailExists)].Name)
	assert.Equal(t, "Register_PhoneNumberExists", byCode[int64(CodeRegisterPhoneExists)].Name)
	assert.Contains(t, byCode, int64(CodeVerifyPhoneCallLimited))
	assert.Contains(t, byCode, int64(CodeVerifyEmailTooManyRequests))
}
