package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// RejectReason identifies why a signature or operation was rejected.
// Every distinct rejection path carries a distinct reason so callers can
// assert on why a request failed, not just that it failed.
type RejectReason string

const (
	ReasonNone             RejectReason = ""
	ReasonBadLength        RejectReason = "INVALID_SIGNATURE_LENGTH"
	ReasonZeroSignature    RejectReason = "ZERO_SIGNATURE"
	ReasonInvalidV         RejectReason = "INVALID_V"
	ReasonMalleable        RejectReason = "MALLEABLE_SIGNATURE"
	ReasonReplay           RejectReason = "REPLAY_DETECTED"
	ReasonNonceMismatch    RejectReason = "NONCE_MISMATCH"
	ReasonNonceUsed        RejectReason = "NONCE_USED"
	ReasonRateLimited      RejectReason = "RATE_LIMITED"
	ReasonRecoverFailed    RejectReason = "RECOVERY_FAILED"
	ReasonSignerMismatch   RejectReason = "SIGNER_MISMATCH"
	ReasonKeyRevoked       RejectReason = "KEY_REVOKED"
	ReasonUnauthorized     RejectReason = "UNAUTHORIZED_SIGNER"
	ReasonLocked           RejectReason = "ACCOUNT_LOCKED"
	ReasonPaused           RejectReason = "ACCOUNT_PAUSED"
	ReasonPolicyViolation  RejectReason = "GAS_POLICY_VIOLATION"
	ReasonPermissionDenied RejectReason = "APP_PERMISSION_DENIED"
	ReasonMalformed        RejectReason = "MALFORMED_INPUT"
)

// SignatureVerdict is the outcome of the signature validation pipeline.
type SignatureVerdict struct {
	Signer        common.Address
	Valid         bool
	Reason        RejectReason
	Err           error
	SignatureHash common.Hash
}

// SignatureVerifier runs the ordered authentication pipeline and owns the
// used-signature set and the per-signer rate limiter. Verification is pure:
// no state is mutated until Commit, so a rejected request leaves no trace
// beyond the security event log.
type SignatureVerifier struct {
	used    map[common.Hash]bool
	limiter *RateLimiter
	keys    *KeyRegistry
	events  *EventLog
}

// NewSignatureVerifier creates a verifier wired to the given key registry
// and event log.
func NewSignatureVerifier(keys *KeyRegistry, events *EventLog) *SignatureVerifier {
	return &SignatureVerifier{
		used:    make(map[common.Hash]bool),
		limiter: NewRateLimiter(RateLimitWindow, RateLimitMaxSignatures),
		keys:    keys,
		events:  events,
	}
}

// Verify runs the seven-stage pipeline on (messageHash, sig, expectedSigner).
// Stages execute in fixed order; later stages are more expensive or depend
// on earlier invariants:
//
//	1. format (length, non-zero)
//	2. malleability (v in {27,28}, low-s per EIP-2)
//	3. replay (used-signature set)
//	4. nonce (declared must equal current exactly, and be unconsumed)
//	5. rate limit (claimed signer budget in the current window)
//	6. cryptographic recovery (recovered address must equal expectedSigner)
//	7. revocation (signer's current key version must not be revoked)
//
// Side effects are deferred to Commit. Replay and rate-limit rejections are
// recorded in the event log as their own observable signals.
func (v *SignatureVerifier) Verify(messageHash common.Hash, sig []byte, expectedSigner common.Address, declaredNonce, currentNonce uint64, nonceUsed bool, now uint64) *SignatureVerdict {
	// Stage 1: format
	if len(sig) != SignatureLength {
		return reject(ReasonBadLength, fmt.Errorf("%w: got %d", ErrBadSignatureLength, len(sig)))
	}
	if allZero(sig) {
		return reject(ReasonZeroSignature, ErrZeroSignature)
	}

	// Stage 2: malleability
	s := new(uint256.Int).SetBytes(sig[32:64])
	vByte := sig[64]
	if vByte < 27 {
		vByte += 27 // tolerate 0/1-based encodings
	}
	if vByte != 27 && vByte != 28 {
		return reject(ReasonInvalidV, fmt.Errorf("%w: v=%d", ErrInvalidV, sig[64]))
	}
	if s.Cmp(Secp256k1HalfN) > 0 {
		return reject(ReasonMalleable, ErrMalleableSignature)
	}

	// Stage 3: replay
	sigHash := crypto.Keccak256Hash(sig)
	if v.used[sigHash] {
		v.events.Append(EventReplayDetected, expectedSigner, sigHash.Hex(), now)
		vd := reject(ReasonReplay, ErrSignatureReplayed)
		vd.SignatureHash = sigHash
		return vd
	}

	// Stage 4: nonce
	if declaredNonce != currentNonce {
		return reject(ReasonNonceMismatch, fmt.Errorf("%w: declared %d, current %d", ErrNonceMismatch, declaredNonce, currentNonce))
	}
	if nonceUsed {
		return reject(ReasonNonceUsed, ErrNonceUsed)
	}

	// Stage 5: rate limit
	if !v.limiter.Allow(expectedSigner, now) {
		v.events.Append(EventRateLimited, expectedSigner, "", now)
		return reject(ReasonRateLimited, ErrRateLimited)
	}

	// Stage 6: cryptographic recovery
	recovered, err := RecoverSigner(messageHash, sig)
	if err != nil {
		v.events.Append(EventInvalidSignature, expectedSigner, err.Error(), now)
		return reject(ReasonRecoverFailed, err)
	}
	if recovered != expectedSigner {
		v.events.Append(EventInvalidSignature, expectedSigner, "signer mismatch", now)
		return reject(ReasonSignerMismatch, fmt.Errorf("%w: recovered %s, expected %s", ErrSignerMismatch, recovered.Hex(), expectedSigner.Hex()))
	}

	// Stage 7: revocation
	if v.keys.Revoked(recovered) {
		return reject(ReasonKeyRevoked, ErrKeyRevoked)
	}

	return &SignatureVerdict{
		Signer:        recovered,
		Valid:         true,
		SignatureHash: sigHash,
	}
}

// Commit applies the side effects of an accepted signature: the signature
// hash is marked used and the signer's rate-limit counter advances. Callers
// commit only after every validation gate on the operation has passed.
func (v *SignatureVerifier) Commit(verdict *SignatureVerdict, now uint64) {
	if verdict == nil || !verdict.Valid {
		return
	}
	v.used[verdict.SignatureHash] = true
	v.limiter.Record(verdict.Signer, now)
}

// SignatureUsed reports whether the given signature hash is consumed.
func (v *SignatureVerifier) SignatureUsed(sigHash common.Hash) bool {
	return v.used[sigHash]
}

// Remaining exposes the signer's remaining signature budget in the window.
func (v *SignatureVerifier) Remaining(signer common.Address, now uint64) uint64 {
	return v.limiter.Remaining(signer, now)
}

// RecoverSigner recovers the address that signed messageHash from a 65-byte
// [R || S || V] signature. V may be 0/1 or 27/28. Panics inside the curve
// library are caught and surfaced as a rejection, never propagated.
func RecoverSigner(messageHash common.Hash, sig []byte) (addr common.Address, err error) {
	defer func() {
		if r := recover(); r != nil {
			addr = common.Address{}
			err = fmt.Errorf("%w: %v", ErrRecoverFailed, r)
		}
	}()

	if len(sig) != SignatureLength {
		return common.Address{}, ErrBadSignatureLength
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, recErr := crypto.SigToPub(messageHash.Bytes(), normalized)
	if recErr != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrRecoverFailed, recErr)
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrRecoverFailed)
	}
	return recovered, nil
}

func reject(reason RejectReason, err error) *SignatureVerdict {
	return &SignatureVerdict{Valid: false, Reason: reason, Err: err}
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
