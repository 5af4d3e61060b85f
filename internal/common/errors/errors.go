package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindAuthentication     Kind = "AUTHENTICATION"
	KindAuthorization      Kind = "AUTHORIZATION"
	KindConflict           Kind = "CONFLICT"
	KindNotFound           Kind = "NOT_FOUND"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindTransient          Kind = "TRANSIENT"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindInternal           Kind = "INTERNAL"
)

// Stable machine readable codes returned to clients.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal_error"
	CodeStorage        = "storage_unavailable"
	CodeRateLimited    = "too_many_requests"

	// ton proof
	CodePayloadExpired      = "payload_expired_or_unknown"
	CodeTimestampOutOfRange = "timestamp_out_of_range"
	CodeDomainMismatch      = "domain_mismatch"
	CodeInvalidAddress      = "invalid_address"
	CodeInvalidSignature    = "invalid_signature"
	CodeStateInitMismatch   = "state_init_mismatch"
	CodePublicKeyMismatch   = "public_key_mismatch"
	CodePublicKeyUnknown    = "public_key_unavailable"

	// session and access
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeInvalidToken  = "invalid_token"
	CodeAdminDisabled = "admin_disabled"

	// identity linking
	CodeTelegramProofRequired = "telegram_proof_required"
	CodeTelegramMismatch      = "telegram_mismatch"
	CodeWalletMismatch        = "wallet_mismatch"

	// user registry
	CodeUserNotFound             = "user_not_found"
	CodeInvalidInviterFormat     = "invalid_inviter_format"
	CodeInvalidAuthorCode        = "invalid_author_code"
	CodeInvalidTelegramID        = "invalid_telegram_id"
	CodeSelfReferral             = "self_referral"
	CodeInviterImmutable         = "inviter_immutable"
	CodeAuthorCodeApplied        = "author_code_already_applied"
	CodeTelegramVerification     = "telegram_verification_failed"
	CodeTelegramNotLinked        = "telegram_not_linked"
	CodeWalletAlreadyLinked      = "wallet_already_linked"
	CodeTelegramAlreadyLinked    = "telegram_already_linked"
	CodeIdentityConflict         = "identity_conflict"
	CodeTelegramVerifyNotEnabled = "telegram_verification_disabled"
	CodeAuthorCodeNotFound       = "author_code_not_found"
	CodeAuthorCodeExists         = "author_code_exists"
	CodeOwnAuthorCode            = "own_author_code"

	// participation
	CodeActiveCycle            = "active_cycle"
	CodeReferrerNotFound       = "referrer_not_found"
	CodeReferrerNotConfirmed   = "referrer_not_confirmed"
	CodeReferrerLimit          = "referrer_limit"
	CodeReferralCycle          = "referral_cycle"
	CodeReferrerMismatch       = "referrer_mismatch"
	CodeNoPendingParticipation = "no_pending_participation"
	CodeParticipationNotFound  = "participation_not_found"
	CodeDuplicateTx            = "duplicate_tx"
	CodeTxAlreadySubmitted     = "tx_already_submitted"
	CodeInvalidTxHash          = "invalid_tx_hash"
	CodeAlreadyDecided         = "already_decided"
	CodeInvalidDecision        = "invalid_decision"

	// payout
	CodeNotEligible      = "not_eligible"
	CodeOpenPayoutExists = "open_payout_exists"
	CodePayoutNotFound   = "payout_not_found"
	CodeTxHashRequired   = "tx_hash_required"
)

// AppError is a typed application error carrying a stable code.
type AppError struct {
	Kind    Kind                   `json:"kind"`
	Code    string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError by code, so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail adds a detail field shown to the client.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// HTTPStatus maps the error kind to a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates an application error.
func New(kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a new application error.
func Wrap(err error, kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Cause: err}
}

func Validation(code, message string) *AppError {
	return New(KindValidation, code, message)
}

func Conflict(code, message string) *AppError {
	return New(KindConflict, code, message)
}

func NotFound(code, message string) *AppError {
	return New(KindNotFound, code, message)
}

func Precondition(code, message string) *AppError {
	return New(KindPreconditionFailed, code, message)
}

func Unauthenticated(code, message string) *AppError {
	return New(KindAuthentication, code, message)
}

func Forbidden(code, message string) *AppError {
	return New(KindAuthorization, code, message)
}

// Storage wraps an infrastructure failure; the cause is logged, never returned.
func Storage(op string, err error) *AppError {
	return Wrap(err, KindTransient, CodeStorage, "storage temporarily unavailable").WithDetail("operation", op)
}

// Internal wraps an unexpected failure.
func Internal(err error) *AppError {
	return Wrap(err, KindInternal, CodeInternal, "internal error")
}

// As extracts an *AppError from err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// From converts any error to an *AppError, treating unknown errors as internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(err)
}

// CodeOf returns the stable code of err, or empty string for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// Domain errors shared across services.
var (
	ErrUserNotFound             = NotFound(CodeUserNotFound, "user not found")
	ErrInvalidInviterFormat     = Validation(CodeInvalidInviterFormat, "inviter must be a numeric telegram id")
	ErrInvalidAuthorCode        = Validation(CodeInvalidAuthorCode, "author code must be 2-32 letters, digits, '-' or '_'")
	ErrInvalidTelegramID        = Validation(CodeInvalidTelegramID, "telegram id must be a positive integer")
	ErrSelfReferral             = Conflict(CodeSelfReferral, "cannot refer yourself")
	ErrInviterImmutable         = Conflict(CodeInviterImmutable, "inviter can not be changed after activation")
	ErrAuthorCodeApplied        = Conflict(CodeAuthorCodeApplied, "author code already applied")
	ErrTelegramVerification     = Unauthenticated(CodeTelegramVerification, "telegram init data verification failed")
	ErrTelegramVerifyDisabled   = Precondition(CodeTelegramVerifyNotEnabled, "telegram verification is not configured")
	ErrTelegramNotLinked        = Precondition(CodeTelegramNotLinked, "telegram account is not linked")
	ErrWalletAlreadyLinked      = Conflict(CodeWalletAlreadyLinked, "wallet is linked to another telegram account")
	ErrTelegramAlreadyLinked    = Conflict(CodeTelegramAlreadyLinked, "telegram account is linked to another wallet")
	ErrIdentityConflict         = Conflict(CodeIdentityConflict, "both identities already have participations")
	ErrTelegramProofRequired    = Unauthenticated(CodeTelegramProofRequired, "telegram account must be proven with init data")
	ErrTelegramMismatch         = Forbidden(CodeTelegramMismatch, "telegram_id differs from the proven telegram account")
	ErrWalletMismatch           = Forbidden(CodeWalletMismatch, "wallet differs from the authenticated session")
	ErrAuthorCodeNotFound       = NotFound(CodeAuthorCodeNotFound, "author code is unknown or inactive")
	ErrAuthorCodeExists         = Conflict(CodeAuthorCodeExists, "author code already exists")
	ErrOwnAuthorCode            = Conflict(CodeOwnAuthorCode, "cannot use your own author code")
	ErrReferrerMismatch         = Conflict(CodeReferrerMismatch, "referrer differs from the inviter already applied")
	ErrActiveCycle              = Conflict(CodeActiveCycle, "user already has an active participation")
	ErrReferrerNotFound         = NotFound(CodeReferrerNotFound, "referrer not found")
	ErrReferrerNotConfirmed     = Precondition(CodeReferrerNotConfirmed, "referrer participation is not confirmed")
	ErrReferrerLimit            = Conflict(CodeReferrerLimit, "referrer has no free slots")
	ErrReferralCycle            = Conflict(CodeReferralCycle, "referrer was invited by this user")
	ErrNoPendingParticipation   = NotFound(CodeNoPendingParticipation, "no pending participation")
	ErrParticipationNotFound    = NotFound(CodeParticipationNotFound, "participation not found")
	ErrDuplicateTx              = Conflict(CodeDuplicateTx, "transaction already used by another participation")
	ErrTxAlreadySubmitted       = Conflict(CodeTxAlreadySubmitted, "another transaction was already submitted")
	ErrInvalidTxHash            = Validation(CodeInvalidTxHash, "tx hash is malformed")
	ErrAlreadyDecided           = Conflict(CodeAlreadyDecided, "already decided")
	ErrInvalidDecision          = Validation(CodeInvalidDecision, "unknown decision")
	ErrNotEligible              = Precondition(CodeNotEligible, "payout requirements are not met")
	ErrOpenPayoutExists         = Conflict(CodeOpenPayoutExists, "an open payout request already exists")
	ErrPayoutNotFound           = NotFound(CodePayoutNotFound, "payout request not found")
	ErrTxHashRequired           = Validation(CodeTxHashRequired, "tx_hash is required")
	ErrUnauthorized             = Unauthenticated(CodeUnauthorized, "authentication required")
	ErrInvalidToken             = Unauthenticated(CodeInvalidToken, "invalid or expired token")
	ErrForbidden                = Forbidden(CodeForbidden, "forbidden")
	ErrAdminDisabled            = New(KindTransient, CodeAdminDisabled, "admin access is not configured")
	ErrPayloadExpired           = Unauthenticated(CodePayloadExpired, "proof payload expired or unknown")
	ErrTimestampOutOfRange      = Unauthenticated(CodeTimestampOutOfRange, "proof timestamp out of range")
	ErrDomainMismatch           = Unauthenticated(CodeDomainMismatch, "proof domain mismatch")
	ErrInvalidAddress           = Validation(CodeInvalidAddress, "invalid wallet address")
	ErrInvalidSignature         = Unauthenticated(CodeInvalidSignature, "proof signature is invalid")
	ErrStateInitMismatch        = Unauthenticated(CodeStateInitMismatch, "wallet state init does not match address")
	ErrPublicKeyMismatch        = Unauthenticated(CodePublicKeyMismatch, "public key does not match wallet")
	ErrPublicKeyUnavailable     = Unauthenticated(CodePublicKeyUnknown, "wallet public key can not be determined")
	ErrRateLimited              = New(KindRateLimited, CodeRateLimited, "rate limit exceeded")
	ErrInvalidRequest           = Validation(CodeInvalidRequest, "invalid request body")
)
