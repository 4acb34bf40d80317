package account

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OperationState is the lifecycle stage of a pending operation. On the host
// ledger a rejected validation aborts the whole call, so intermediate states
// are a specification convenience; the all-or-nothing semantics are what
// matters.
type OperationState string

const (
	StateSubmitted             OperationState = "SUBMITTED"
	StateAuthenticationPending OperationState = "AUTHENTICATION_PENDING"
	StateNonceValidated        OperationState = "NONCE_VALIDATED"
	StatePolicyApproved        OperationState = "POLICY_APPROVED"
	StateExecuted              OperationState = "EXECUTED"
	StateRejected              OperationState = "REJECTED"
)

// Validation codes returned to the entry point.
const (
	ValidationAccepted uint64 = 0
	ValidationRejected uint64 = 1
)

// CallExecutor invokes a call on the host ledger with the account as the
// caller context, reporting the gas actually used.
type CallExecutor interface {
	Call(from, to common.Address, value *big.Int, data []byte, gasLimit uint64) (ret []byte, gasUsed uint64, err error)
}

// Ledger is the minimal balance interface of the host state machine, used
// for the prefund repayment obligation toward the entry point.
type Ledger interface {
	GetBalance(addr common.Address) *big.Int
	SubBalance(addr common.Address, amount *big.Int)
	AddBalance(addr common.Address, amount *big.Int)
}

// OperationReceipt reports the outcome of one operation through the full
// validate -> execute -> account-update sequence.
type OperationReceipt struct {
	OpHash        common.Hash
	State         OperationState
	Reason        RejectReason
	Err           error
	Success       bool
	Ret           []byte
	ActualGasUsed uint64
	ActualGasCost *uint256.Int
	NonceAfter    uint64
}

// CallResult is the outcome of one direct (or batch item) execution.
type CallResult struct {
	Success bool
	Ret     []byte
	GasUsed uint64
	Err     error
}

// EncodeCallData packs (target, value, data) into operation calldata:
// 20 bytes target, 32 bytes value, then the inner calldata.
func EncodeCallData(target common.Address, value *big.Int, data []byte) []byte {
	out := make([]byte, 0, 52+len(data))
	out = append(out, target.Bytes()...)
	out = append(out, common.BigToHash(safeBig(value)).Bytes()...)
	out = append(out, data...)
	return out
}

// DecodeCallData unpacks operation calldata produced by EncodeCallData.
func DecodeCallData(callData []byte) (target common.Address, value *big.Int, data []byte, err error) {
	if len(callData) < 52 {
		return common.Address{}, nil, nil, fmt.Errorf("%w: calldata %d bytes", ErrOutOfRange, len(callData))
	}
	target = common.BytesToAddress(callData[:20])
	value = new(big.Int).SetBytes(callData[20:52])
	data = callData[52:]
	return target, value, data, nil
}

// HandleOperation runs a signed operation through the complete lifecycle:
// authentication (seven-stage signature pipeline with strict nonce
// equality), gas-policy approval, commit (signature and nonce consumed,
// nonce incremented), then execution of the packed call. Any gate failure
// rejects the operation with no state change; an execution failure after
// commit is not a validation error and still consumes the nonce.
func (a *SmartAccount) HandleOperation(signer common.Address, op *UserOperation, exec CallExecutor) *OperationReceipt {
	receipt := &OperationReceipt{State: StateSubmitted, NonceAfter: a.nonce}
	now := a.now()

	// Submitted -> AuthenticationPending: entry condition always true.
	receipt.State = StateAuthenticationPending

	if op == nil || op.Nonce == nil || op.MaxFeePerGas == nil {
		return a.rejectOp(receipt, ReasonMalformed, fmt.Errorf("%w: missing operation fields", ErrOutOfRange))
	}
	if op.MaxFeePerGas.Sign() < 0 || (op.MaxPriorityFeePerGas != nil && op.MaxPriorityFeePerGas.Sign() < 0) {
		return a.rejectOp(receipt, ReasonMalformed, fmt.Errorf("%w: negative fee", ErrOutOfRange))
	}
	receipt.OpHash = op.SigningHash(a.domain)

	if a.Locked() {
		return a.rejectOp(receipt, ReasonLocked, ErrAccountLocked)
	}
	if a.roles.Paused() {
		return a.rejectOp(receipt, ReasonPaused, ErrAccountPaused)
	}

	scope, err := a.signerScope(signer, now)
	if err != nil {
		return a.rejectOp(receipt, ReasonUnauthorized, err)
	}

	// AuthenticationPending -> NonceValidated: full signature pipeline.
	declared := op.NonceUint64()
	verdict := a.verifier.Verify(receipt.OpHash, op.Signature, signer, declared, a.nonce, a.usedNonces[declared], now)
	if !verdict.Valid {
		return a.rejectOp(receipt, verdict.Reason, verdict.Err)
	}
	receipt.State = StateNonceValidated

	// NonceValidated -> PolicyApproved.
	gasPrice, overflow := uint256.FromBig(op.MaxFeePerGas)
	if overflow {
		return a.rejectOp(receipt, ReasonMalformed, ErrArithmeticOverflow)
	}
	target, value, data, err := DecodeCallData(op.CallData)
	if err != nil {
		return a.rejectOp(receipt, ReasonMalformed, err)
	}
	totalGas, okGas := op.TotalGasLimit()
	if !okGas {
		return a.rejectOp(receipt, ReasonMalformed, fmt.Errorf("%w: gas envelope", ErrArithmeticOverflow))
	}
	if err := a.checkPolicies(scope, signer, totalGas, gasPrice, now); err != nil {
		return a.rejectOp(receipt, ReasonPolicyViolation, err)
	}
	if scope == ScopeApp {
		estCost, costErr := MulCost(totalGas, gasPrice)
		if costErr != nil {
			return a.rejectOp(receipt, ReasonMalformed, costErr)
		}
		if err := a.checkAppPermission(signer, data, estCost, now); err != nil {
			return a.rejectOp(receipt, ReasonPermissionDenied, err)
		}
	}
	receipt.State = StatePolicyApproved

	// Commit: all gates passed. Signature hash used, rate counter advanced,
	// nonce consumed and incremented.
	a.verifier.Commit(verdict, now)
	a.consumeNonce()
	receipt.NonceAfter = a.nonce

	// PolicyApproved -> Executed: invoke the target with the account as
	// caller. Spending counters update with actual gas used, not estimates.
	ret, gasUsed, execErr := exec.Call(a.address, target, value, data, op.CallGasLimit)
	receipt.State = StateExecuted
	receipt.Ret = ret
	receipt.ActualGasUsed = gasUsed
	actualCost, costErr := MulCost(gasUsed, gasPrice)
	if costErr != nil {
		actualCost = uint256.NewInt(0)
	}
	receipt.ActualGasCost = actualCost
	a.recordSpend(scope, signer, actualCost, now)

	if execErr != nil {
		receipt.Success = false
		receipt.Err = execErr
	} else {
		receipt.Success = true
	}
	return receipt
}

func (a *SmartAccount) rejectOp(receipt *OperationReceipt, reason RejectReason, err error) *OperationReceipt {
	receipt.State = StateRejected
	receipt.Reason = reason
	receipt.Err = err
	receipt.NonceAfter = a.nonce
	return receipt
}

// checkAppPermission enforces the app's authorization record: flag, method
// selector set (empty = wildcard), confirmation requirement and daily gas
// allowance.
func (a *SmartAccount) checkAppPermission(app common.Address, data []byte, estCost *uint256.Int, now uint64) error {
	perm, ok := a.apps[app]
	if !ok || !perm.Authorized {
		return ErrAppNotAuthorized
	}
	if perm.RequiresConfirmation {
		return ErrConfirmationRequired
	}
	if len(perm.AllowedMethods) > 0 {
		sel, ok := SelectorFromData(data)
		if !ok {
			return ErrMethodNotAllowed
		}
		if !perm.MethodAllowed(sel) {
			return ErrMethodNotAllowed
		}
	}
	return perm.CheckAllowance(estCost, now)
}

// ValidateUserOp is the entry-point boundary: it authenticates the operation
// (against the current owner) and, on acceptance, commits the nonce and
// signature and immediately repays missingFunds to the entry point; the
// pre-funding obligation is not deferred. Returns 0 for accepted, 1 for
// rejected. Execution happens later via ExecuteUserOp.
func (a *SmartAccount) ValidateUserOp(ledger Ledger, op *UserOperation, opHash common.Hash, missingFunds *big.Int, entryPoint common.Address) uint64 {
	now := a.now()

	if op == nil || op.Nonce == nil {
		return ValidationRejected
	}
	if a.Locked() || a.roles.Paused() {
		return ValidationRejected
	}

	// The entry point hands us the hash it computed; the signature must
	// bind to our own domain-derived hash, which must agree.
	localHash := op.SigningHash(a.domain)
	if opHash != (common.Hash{}) && opHash != localHash {
		return ValidationRejected
	}

	signer := a.owner
	scope := ScopeOwner
	if recovered, err := RecoverSigner(localHash, op.Signature); err == nil && recovered != a.owner {
		// Secondary signers validate under their own scope.
		if s, serr := a.signerScope(recovered, now); serr == nil {
			signer = recovered
			scope = s
		}
	}

	declared := op.NonceUint64()
	verdict := a.verifier.Verify(localHash, op.Signature, signer, declared, a.nonce, a.usedNonces[declared], now)
	if !verdict.Valid {
		return ValidationRejected
	}

	// Sponsored operations must clear the named paymaster before anything
	// commits; a sponsorship refusal leaves no trace on the account.
	var sponsor *SponsorContext
	if op.HasPaymaster() {
		pm := a.paymasters[op.PaymasterAddress()]
		if pm == nil {
			return ValidationRejected
		}
		totalGas, okGas := op.TotalGasLimit()
		if !okGas {
			return ValidationRejected
		}
		gasPrice, overflow := uint256.FromBig(safeBig(op.MaxFeePerGas))
		if overflow {
			return ValidationRejected
		}
		maxCost, costErr := MulCost(totalGas, gasPrice)
		if costErr != nil {
			return ValidationRejected
		}
		ctx, sponsorErr := pm.SponsorOp(op, localHash, maxCost)
		if sponsorErr != nil {
			return ValidationRejected
		}
		sponsor = ctx
	}

	a.verifier.Commit(verdict, now)
	a.consumeNonce()
	a.pendingOps[localHash] = scope
	if sponsor != nil {
		a.pendingSponsors[localHash] = sponsor
	}

	// Repay the entry point immediately.
	if ledger != nil && missingFunds != nil && missingFunds.Sign() > 0 {
		ledger.SubBalance(a.address, missingFunds)
		ledger.AddBalance(entryPoint, missingFunds)
	}
	return ValidationAccepted
}

// ExecuteUserOp executes a previously validated operation. The entry point
// calls this after ValidateUserOp returned 0. Policy gates run under the
// scope recorded at validation; spending updates use actual gas.
func (a *SmartAccount) ExecuteUserOp(op *UserOperation, exec CallExecutor) *OperationReceipt {
	receipt := &OperationReceipt{State: StatePolicyApproved, NonceAfter: a.nonce}
	now := a.now()

	opHash := op.SigningHash(a.domain)
	receipt.OpHash = opHash
	scope, ok := a.pendingOps[opHash]
	if !ok {
		return a.rejectOp(receipt, ReasonNonceMismatch, fmt.Errorf("%w: %s", ErrOpNotValidated, opHash.Hex()))
	}
	delete(a.pendingOps, opHash)

	signer := a.owner
	if scope != ScopeOwner {
		if recovered, err := RecoverSigner(opHash, op.Signature); err == nil {
			signer = recovered
		}
	}

	gasPrice, overflow := uint256.FromBig(safeBig(op.MaxFeePerGas))
	if overflow {
		return a.rejectOp(receipt, ReasonMalformed, ErrArithmeticOverflow)
	}
	target, value, data, err := DecodeCallData(op.CallData)
	if err != nil {
		return a.rejectOp(receipt, ReasonMalformed, err)
	}
	totalGas, okGas := op.TotalGasLimit()
	if !okGas {
		return a.rejectOp(receipt, ReasonMalformed, fmt.Errorf("%w: gas envelope", ErrArithmeticOverflow))
	}
	if err := a.checkPolicies(scope, signer, totalGas, gasPrice, now); err != nil {
		return a.rejectOp(receipt, ReasonPolicyViolation, err)
	}

	ret, gasUsed, execErr := exec.Call(a.address, target, value, data, op.CallGasLimit)
	receipt.State = StateExecuted
	receipt.Ret = ret
	receipt.ActualGasUsed = gasUsed
	actualCost, costErr := MulCost(gasUsed, gasPrice)
	if costErr != nil {
		actualCost = uint256.NewInt(0)
	}
	receipt.ActualGasCost = actualCost
	a.recordSpend(scope, signer, actualCost, now)
	a.settleSponsorship(opHash, actualCost)
	receipt.NonceAfter = a.nonce

	if execErr != nil {
		receipt.Err = execErr
		return receipt
	}
	receipt.Success = true
	return receipt
}

// settleSponsorship runs the paymaster's post-operation accounting for an
// operation sponsored at validation time. Settlement happens on failed
// executions too: the gas was consumed either way.
func (a *SmartAccount) settleSponsorship(opHash common.Hash, actualCost *uint256.Int) {
	ctx, ok := a.pendingSponsors[opHash]
	if !ok {
		return
	}
	delete(a.pendingSponsors, opHash)
	if pm := a.paymasters[ctx.Paymaster]; pm != nil {
		_ = pm.PostOp(ctx, actualCost)
	}
}

// Execute performs a direct call on behalf of an authenticated caller (the
// ledger supplies the caller identity; no signature is involved). The caller
// must be the owner, an authorized app, or a live session key, and the
// applicable gas policies and app permissions must allow the call.
func (a *SmartAccount) Execute(caller, target common.Address, value *big.Int, data []byte, gasLimit uint64, gasPrice *uint256.Int, exec CallExecutor) (*CallResult, error) {
	now := a.now()
	if a.Locked() {
		return nil, ErrAccountLocked
	}
	if a.roles.Paused() {
		return nil, ErrAccountPaused
	}
	if err := ValidateNonZeroAddress(target, "target"); err != nil {
		return nil, err
	}
	scope, err := a.signerScope(caller, now)
	if err != nil {
		return nil, err
	}
	if err := a.checkPolicies(scope, caller, gasLimit, gasPrice, now); err != nil {
		return nil, err
	}
	if scope == ScopeApp {
		estCost, costErr := MulCost(gasLimit, gasPrice)
		if costErr != nil {
			return nil, costErr
		}
		if err := a.checkAppPermission(caller, data, estCost, now); err != nil {
			return nil, err
		}
	}

	ret, gasUsed, execErr := exec.Call(a.address, target, value, data, gasLimit)
	actualCost, costErr := MulCost(gasUsed, gasPrice)
	if costErr != nil {
		actualCost = uint256.NewInt(0)
	}
	a.recordSpend(scope, caller, actualCost, now)

	result := &CallResult{Ret: ret, GasUsed: gasUsed}
	if execErr != nil {
		result.Err = execErr
		return result, nil
	}
	result.Success = true
	return result, nil
}

// ExecuteBatch performs a sequence of calls, continuing past individual
// failures and reporting a per-item outcome. Validation errors on the batch
// shape (length mismatch) reject the whole batch before any call runs; a
// failing call never rolls back its predecessors.
func (a *SmartAccount) ExecuteBatch(caller common.Address, targets []common.Address, values []*big.Int, datas [][]byte, gasLimits []uint64, gasPrice *uint256.Int, exec CallExecutor) ([]CallResult, error) {
	if err := ValidateSameLength(len(targets), len(values), len(datas), len(gasLimits)); err != nil {
		return nil, err
	}
	results := make([]CallResult, 0, len(targets))
	for i := range targets {
		res, err := a.Execute(caller, targets[i], values[i], datas[i], gasLimits[i], gasPrice, exec)
		if err != nil {
			// Per-item policy rejection: record and continue.
			results = append(results, CallResult{Err: err})
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}
