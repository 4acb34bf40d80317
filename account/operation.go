package account

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is the signed payload submitted to the account, with the
// EIP-4337 field set. The signing hash binds every field except Signature
// in this exact order; changing the order breaks cross-implementation
// signature compatibility.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         uint64         `json:"callGasLimit"`
	VerificationGasLimit uint64         `json:"verificationGasLimit"`
	PreVerificationGas   uint64         `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"` // first 20 bytes = paymaster address
	Signature            []byte         `json:"signature"`
}

// PaymasterAddress extracts the paymaster address from PaymasterAndData.
// Returns the zero address if no paymaster.
func (op *UserOperation) PaymasterAddress() common.Address {
	if len(op.PaymasterAndData) < 20 {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:20])
}

// PaymasterData returns the paymaster-specific data portion.
func (op *UserOperation) PaymasterData() []byte {
	if len(op.PaymasterAndData) <= 20 {
		return nil
	}
	return op.PaymasterAndData[20:]
}

// HasPaymaster reports whether this operation names a paymaster.
func (op *UserOperation) HasPaymaster() bool {
	return len(op.PaymasterAndData) >= 20 && op.PaymasterAddress() != (common.Address{})
}

// TotalGasLimit returns the total gas envelope of the operation. The boolean
// is false when the component sum overflows uint64; such an operation must be
// rejected as malformed before any ceiling comparison.
func (op *UserOperation) TotalGasLimit() (uint64, bool) {
	sum, ok := SafeAdd(op.CallGasLimit, op.VerificationGasLimit)
	if !ok {
		return 0, false
	}
	return SafeAdd(sum, op.PreVerificationGas)
}

// NonceUint64 returns the declared nonce as uint64 (0 when nil).
func (op *UserOperation) NonceUint64() uint64 {
	if op.Nonce == nil {
		return 0
	}
	return op.Nonce.Uint64()
}

// Domain is the EIP-712 signing domain binding operations to one account
// instance on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain creates the account's signing domain.
func NewDomain(chainID *big.Int, verifyingContract common.Address) Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	userOpTypeHash = crypto.Keccak256Hash([]byte(
		"UserOperation(address sender,uint256 nonce,bytes initCode,bytes callData," +
			"uint256 callGasLimit,uint256 verificationGasLimit,uint256 preVerificationGas," +
			"uint256 maxFeePerGas,uint256 maxPriorityFeePerGas,bytes paymasterAndData)"))
)

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() common.Hash {
	encoded := make([]byte, 0, 160)
	encoded = append(encoded, domainTypeHash.Bytes()...)
	encoded = append(encoded, crypto.Keccak256([]byte(d.Name))...)
	encoded = append(encoded, crypto.Keccak256([]byte(d.Version))...)
	encoded = append(encoded, common.BigToHash(safeBig(d.ChainID)).Bytes()...)
	encoded = append(encoded, common.BytesToHash(d.VerifyingContract.Bytes()).Bytes()...)
	return crypto.Keccak256Hash(encoded)
}

// StructHash computes the EIP-712 struct hash of the operation. Dynamic
// byte fields are bound by their keccak256 hash.
func (op *UserOperation) StructHash() common.Hash {
	encoded := make([]byte, 0, 352)
	encoded = append(encoded, userOpTypeHash.Bytes()...)
	encoded = append(encoded, common.BytesToHash(op.Sender.Bytes()).Bytes()...)
	encoded = append(encoded, common.BigToHash(safeBig(op.Nonce)).Bytes()...)
	encoded = append(encoded, crypto.Keccak256(op.InitCode)...)
	encoded = append(encoded, crypto.Keccak256(op.CallData)...)
	encoded = append(encoded, common.BigToHash(new(big.Int).SetUint64(op.CallGasLimit)).Bytes()...)
	encoded = append(encoded, common.BigToHash(new(big.Int).SetUint64(op.VerificationGasLimit)).Bytes()...)
	encoded = append(encoded, common.BigToHash(new(big.Int).SetUint64(op.PreVerificationGas)).Bytes()...)
	encoded = append(encoded, common.BigToHash(safeBig(op.MaxFeePerGas)).Bytes()...)
	encoded = append(encoded, common.BigToHash(safeBig(op.MaxPriorityFeePerGas)).Bytes()...)
	encoded = append(encoded, crypto.Keccak256(op.PaymasterAndData)...)
	return crypto.Keccak256Hash(encoded)
}

// SigningHash computes the typed-data digest to sign:
// keccak256(0x19 || 0x01 || domainSeparator || structHash).
func (op *UserOperation) SigningHash(domain Domain) common.Hash {
	encoded := make([]byte, 0, 66)
	encoded = append(encoded, 0x19, 0x01)
	encoded = append(encoded, domain.Separator().Bytes()...)
	encoded = append(encoded, op.StructHash().Bytes()...)
	return crypto.Keccak256Hash(encoded)
}

// SignUserOp signs the operation's typed-data digest with key and returns
// the 65-byte [R || S || V] signature with V in {27, 28}.
func SignUserOp(key *ecdsa.PrivateKey, op *UserOperation, domain Domain) ([]byte, error) {
	digest := op.SigningHash(domain)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign operation: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func safeBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
