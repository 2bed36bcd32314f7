package vk

import (
	"errors"
	"fmt"
)

// Error codes the pipelines react to.
const (
	ErrCodeAuthFailed     = 5
	ErrCodeTooManyCalls   = 6
	ErrCodeCaptchaNeeded  = 14
	ErrCodeAccessDenied   = 15
	ErrCodePrivacyBlocked = 902
)

// ErrMalformed marks a response whose shape does not match what the caller expects.
var ErrMalformed = errors.New("malformed response")

// Error is the structured "error" object of a failed call.
// Callers use errors.As to reach the captcha fields:
//
//	var apiErr *vk.Error
//	if errors.As(err, &apiErr) && apiErr.Code == vk.ErrCodeCaptchaNeeded { ... }
type Error struct {
	Code       int    `json:"error_code"`
	Message    string `json:"error_msg"`
	CaptchaSID string `json:"captcha_sid,omitempty"`
	CaptchaImg string `json:"captcha_img,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("vk: error %d: %s", e.Code, e.Message)
}

// CaptchaChallenge reports whether e asks for a captcha and carries enough
// data to present one.
func (e *Error) CaptchaChallenge() (sid, img string, ok bool) {
	if e.Code != ErrCodeCaptchaNeeded || e.CaptchaSID == "" || e.CaptchaImg == "" {
		return "", "", false
	}
	return e.CaptchaSID, e.CaptchaImg, true
}

// IsError checks whether err is an *Error with the given code.
func IsError(err error, code int) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
