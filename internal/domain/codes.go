package domain

// ErrorCode is a stable numeric code exposed by the error-code table
// endpoint so API clients can localize messages themselves.
type ErrorCode int64

const (
	CodeNotFound            ErrorCode = 404
	CodeUnprocessableEntity ErrorCode = 422
	CodeExpectationFailed   ErrorCode = 417

	CodeRegisterEmailExists          ErrorCode = 100001
	CodeRegisterEmailVerifyCodeError ErrorCode = 100002
	CodeRegisterPhoneExists          ErrorCode = 100003
	CodeRegisterPhoneVerifyCodeError ErrorCode = 100004
	CodeVerifyPhoneCallLimited       ErrorCode = 100005
	CodeVerifyPhoneTooManyRequests   ErrorCode = 100006
	CodeVerifyEmailCallLimited       ErrorCode = 100007
	CodeVerifyEmailTooManyRequests   ErrorCode = 100008
)

// ErrorCodeModel is one row of the error-code table.
type ErrorCodeModel struct {
	Code        int64  `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// errorCodes is the static code table. The original system enumerated these
// through runtime type inspection; here the mapping is fixed at compile time.
var errorCodes = []ErrorCodeModel{
	{Code: int64(CodeNotFound), Name: "NotFound", Description: "entity not found"},
	{Code: int64(CodeUnprocessableEntity), Name: "UnprocessableEntity", Description: "request model validation failed"},
	{Code: int64(CodeExpectationFailed), Name: "ExpectationFailed", Description: "operation failed and was rolled back"},
	{Code: int64(CodeRegisterEmailExists), Name: "Register_EmailExists", Description: "email already registered"},
	{Code: int64(CodeRegisterEmailVerifyCodeError), Name: "Register_EmailVerifyCodeError", Description: "email verification code invalid or expired"},
	{Code: int64(CodeRegisterPhoneExists), Name: "Register_PhoneNumberExists", Description: "phone number already registered"},
	{Code: int64(CodeRegisterPhoneVerifyCodeError), Name: "Register_PhoneNumberVerifyCodeError", Description: "phone verification code invalid or expired"},
	{Code: int64(CodeVerifyPhoneCallLimited), Name: "VerifyPhone_CallLimited", Description: "daily SMS verification limit reached"},
	{Code: int64(CodeVerifyPhoneTooManyRequests), Name: "VerifyPhone_TooManyRequests", Description: "SMS verification requested too soon"},
	{Code: int64(CodeVerifyEmailCallLimited), Name: "VerifyEmail_CallLimited", Description: "daily email verification limit reached"},
	{Code: int64(CodeVerifyEmailTooManyRequests), Name: "VerifyEmail_TooManyRequests", Description: "email verification requested too soon"},
}

// ErrorCodes returns the full code table. The slice is copied so callers
// cannot mutate the table.
func ErrorCodes() []ErrorCodeModel {
	out := make([]ErrorCodeModel, len(errorCodes))
	copy(out, errorCodes)
	return out
}
