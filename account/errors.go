package account

import "errors"

// Malformed input errors: rejected immediately, no state change.
var (
	ErrZeroAddress         = errors.New("zero address not allowed")
	ErrOutOfRange          = errors.New("value out of range")
	ErrArrayLengthMismatch = errors.New("array length mismatch")
	ErrBadSignatureLength  = errors.New("signature must be 65 bytes")
	ErrZeroSignature       = errors.New("signature is all zeros")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
)

// Authentication failures.
var (
	ErrMalleableSignature = errors.New("signature s value is in the upper half of the curve order")
	ErrInvalidV           = errors.New("signature v value must be 27 or 28")
	ErrSignatureReplayed  = errors.New("signature replay detected")
	ErrRateLimited        = errors.New("signer rate limit exceeded")
	ErrRecoverFailed      = errors.New("signature recovery failed")
	ErrSignerMismatch     = errors.New("recovered signer does not match expected signer")
	ErrKeyRevoked         = errors.New("signer key version is revoked")
	ErrUnauthorizedSigner = errors.New("signer is not owner, authorized app or live session key")
)

// Policy violations.
var (
	ErrNonceMismatch        = errors.New("nonce does not equal current account nonce")
	ErrNonceUsed            = errors.New("nonce already consumed")
	ErrAccountLocked        = errors.New("account is locked")
	ErrAccountPaused        = errors.New("account is paused")
	ErrNotOwner             = errors.New("caller is not the account owner")
	ErrNotGuardian          = errors.New("caller is not the recovery guardian")
	ErrPerTxLimitExceeded   = errors.New("estimated cost exceeds per-transaction gas limit")
	ErrGasPriceTooHigh      = errors.New("gas price exceeds policy maximum")
	ErrDailyLimitExceeded   = errors.New("daily gas spending limit exceeded")
	ErrAppNotAuthorized     = errors.New("app is not authorized")
	ErrMethodNotAllowed     = errors.New("method selector not allowed for app")
	ErrAllowanceExceeded    = errors.New("app gas allowance exceeded")
	ErrConfirmationRequired = errors.New("app requires owner confirmation")
	ErrSessionExpired       = errors.New("session key is expired or unknown")
	ErrOpNotValidated       = errors.New("operation has not been validated")
)

// Recovery flow errors.
var (
	ErrRecoveryNotConfigured = errors.New("no recovery guardian configured")
	ErrRecoveryPending       = errors.New("a recovery request is already pending")
	ErrNoRecoveryRequest     = errors.New("no matching recovery request")
	ErrRecoveryDelayActive   = errors.New("recovery delay has not elapsed")
	ErrRecoveryDelayBounds   = errors.New("recovery delay must be between 1 and 30 days")
	ErrSameOwner             = errors.New("new owner equals current owner")
)

// Paymaster errors.
var (
	ErrPaymasterInactive     = errors.New("paymaster is not active")
	ErrPaymasterBudget       = errors.New("paymaster budget exhausted")
	ErrPaymasterPerOpLimit   = errors.New("cost exceeds paymaster per-operation limit")
	ErrInvalidPaymasterSig   = errors.New("invalid paymaster signature")
	ErrPaymasterDataTooShort = errors.New("paymaster data too short")
)
