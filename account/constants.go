// Package account implements an EIP-4337 style smart-contract account:
// signature validation, nonce-based replay protection, session keys,
// gas spending policies, app permissions and owner recovery.
// The validation pipeline is modeled on the patterns used by go-ethereum
// for transaction signature checking (EIP-2 low-s rule, strict nonces).
package account

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Signature encoding constants
const (
	// SignatureLength is the canonical [R || S || V] signature length
	SignatureLength = 65

	// SelectorLength is the length of a 4-byte method selector
	SelectorLength = 4
)

// Rate limiting constants
const (
	// RateLimitWindow is the fixed signature rate-limit window in seconds (1 hour)
	RateLimitWindow = 3600

	// RateLimitMaxSignatures is the maximum signatures per signer per window
	RateLimitMaxSignatures = 100
)

// Nonce bookkeeping constants
const (
	// NonceCleanupThreshold: used-nonce entries more than this far below the
	// current nonce may be pruned by the owner
	NonceCleanupThreshold = 1000
)

// Recovery timing constants (seconds)
const (
	SecondsPerDay = 86400

	// MinRecoveryDelay is the minimum configurable recovery delay (1 day)
	MinRecoveryDelay = SecondsPerDay

	// MaxRecoveryDelay is the maximum configurable recovery delay (30 days)
	MaxRecoveryDelay = 30 * SecondsPerDay
)

// Typed-data domain identity for operation signing
const (
	DomainName    = "SmartAccount"
	DomainVersion = "1"
)

// Secp256k1N is the order of the secp256k1 curve
// secp256k1n = 0xFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141
var Secp256k1N = uint256.MustFromHex("0xFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")

// Secp256k1HalfN is half of the secp256k1 curve order (secp256k1n / 2)
// Used for EIP-2 signature malleability check: s must be <= secp256k1n/2
// secp256k1n/2 = 0x7FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF5D576E7357A4501DDFE92F46681B20A0
var Secp256k1HalfN = uint256.MustFromHex("0x7FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF5D576E7357A4501DDFE92F46681B20A0")

// TestAddresses are common addresses used in testing
var TestAddresses = struct {
	Zero   common.Address
	Owner  common.Address
	App    common.Address
	Target common.Address
	Token  common.Address
}{
	Zero:   common.Address{},
	Owner:  common.HexToAddress("0x0000000000000000000000000000000000000042"),
	App:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
	Target: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
	Token:  common.HexToAddress("0x000000000000000000000000000000000000cccc"),
}

// TestPrivateKeys are known test private keys (DO NOT USE IN PRODUCTION)
var TestPrivateKeys = []string{
	"b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291",
	"8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a",
	"0202020202020202020202020202020202020202020202020202002020202020",
}
