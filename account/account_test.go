package account

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const testStartTime uint64 = 1_700_000_000

// testClock is a controllable time source for validity-window tests.
type testClock struct {
	now uint64
}

func (c *testClock) Advance(seconds uint64) { c.now += seconds }

func newTestAccount(t *testing.T) (*SmartAccount, *ecdsa.PrivateKey, *testClock) {
	t.Helper()
	key, err := crypto.HexToECDSA(TestPrivateKeys[0])
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	acct, err := NewSmartAccount(common.HexToAddress("0x1000"), owner, big.NewInt(1))
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	clk := &testClock{now: testStartTime}
	acct.SetClock(func() uint64 { return clk.now })
	return acct, key, clk
}

func testKey(t *testing.T, index int) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.HexToECDSA(TestPrivateKeys[index])
	if err != nil {
		t.Fatalf("failed to parse test key %d: %v", index, err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// signedOp builds an operation against the account's current nonce and signs
// it with key.
func signedOp(t *testing.T, acct *SmartAccount, key *ecdsa.PrivateKey, target common.Address, data []byte) *UserOperation {
	t.Helper()
	op := &UserOperation{
		Sender:       acct.Address(),
		Nonce:        new(big.Int).SetUint64(acct.Nonce()),
		CallData:     EncodeCallData(target, big.NewInt(0), data),
		CallGasLimit: 50000,
		MaxFeePerGas: big.NewInt(1_000_000_000),
	}
	sig, err := SignUserOp(key, op, acct.Domain())
	if err != nil {
		t.Fatalf("failed to sign operation: %v", err)
	}
	op.Signature = sig
	return op
}

func TestHandleOperationLifecycle(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	exec := NewSimExecutor()
	exec.SetReturn(TestAddresses.Target, []byte{0xca, 0xfe})

	op := signedOp(t, acct, key, TestAddresses.Target, []byte{0x01, 0x02, 0x03, 0x04})
	receipt := acct.HandleOperation(acct.Owner(), op, exec)

	if receipt.State != StateExecuted {
		t.Fatalf("state = %s, want %s (err: %v)", receipt.State, StateExecuted, receipt.Err)
	}
	if !receipt.Success {
		t.Errorf("expected success, got err: %v", receipt.Err)
	}
	if string(receipt.Ret) != "\xca\xfe" {
		t.Errorf("unexpected return data: %x", receipt.Ret)
	}
	if acct.Nonce() != 1 {
		t.Errorf("nonce = %d, want 1", acct.Nonce())
	}
	if !acct.NonceConsumed(0) {
		t.Error("nonce 0 should be marked consumed")
	}
	if !acct.SignatureUsed(crypto.Keccak256Hash(op.Signature)) {
		t.Error("signature hash should be marked used")
	}
}

func TestReplayedOperationRejected(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	exec := NewSimExecutor()

	op := signedOp(t, acct, key, TestAddresses.Target, nil)
	if r := acct.HandleOperation(acct.Owner(), op, exec); r.State != StateExecuted {
		t.Fatalf("first submission: state = %s, err = %v", r.State, r.Err)
	}

	replay := acct.HandleOperation(acct.Owner(), op, exec)
	if replay.State != StateRejected {
		t.Fatalf("replay: state = %s, want %s", replay.State, StateRejected)
	}
	if replay.Reason != ReasonReplay {
		t.Errorf("replay: reason = %s, want %s", replay.Reason, ReasonReplay)
	}
	if acct.Nonce() != 1 {
		t.Errorf("replay must not advance nonce: got %d", acct.Nonce())
	}
	if got := len(acct.Events().ByKind(EventReplayDetected)); got != 1 {
		t.Errorf("expected 1 replay event, got %d", got)
	}
}

func TestStrictNonceEquality(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	exec := NewSimExecutor()

	// Advance the account to nonce 5.
	for i := 0; i < 5; i++ {
		op := signedOp(t, acct, key, TestAddresses.Target, []byte{byte(i)})
		if r := acct.HandleOperation(acct.Owner(), op, exec); r.State != StateExecuted {
			t.Fatalf("setup op %d: state = %s, err = %v", i, r.State, r.Err)
		}
	}
	if acct.Nonce() != 5 {
		t.Fatalf("nonce = %d, want 5", acct.Nonce())
	}

	tests := []struct {
		name       string
		nonce      uint64
		wantState  OperationState
		wantReason RejectReason
	}{
		{"current nonce accepted", 5, StateExecuted, ReasonNone},
		{"stale nonce rejected", 3, StateRejected, ReasonNonceMismatch},
		{"future nonce rejected", 7, StateRejected, ReasonNonceMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &UserOperation{
				Sender:       acct.Address(),
				Nonce:        new(big.Int).SetUint64(tt.nonce),
				CallData:     EncodeCallData(TestAddresses.Target, big.NewInt(0), []byte{0x99}),
				CallGasLimit: 50000,
				MaxFeePerGas: big.NewInt(1_000_000_000),
			}
			sig, err := SignUserOp(key, op, acct.Domain())
			if err != nil {
				t.Fatalf("failed to sign: %v", err)
			}
			op.Signature = sig

			r := acct.HandleOperation(acct.Owner(), op, exec)
			if r.State != tt.wantState {
				t.Errorf("state = %s, want %s (err: %v)", r.State, tt.wantState, r.Err)
			}
			if r.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", r.Reason, tt.wantReason)
			}
		})
	}
}

func TestLockedAccountRejectsOperations(t *testing.T) {
	acct, key, clk := newTestAccount(t)
	exec := NewSimExecutor()
	owner := acct.Owner()

	if err := acct.LockAccount(owner, clk.now+1000); err != nil {
		t.Fatalf("failed to lock: %v", err)
	}
	op := signedOp(t, acct, key, TestAddresses.Target, nil)
	if r := acct.HandleOperation(owner, op, exec); r.Reason != ReasonLocked {
		t.Errorf("reason = %s, want %s", r.Reason, ReasonLocked)
	}

	// Lock expires on its own.
	clk.Advance(1001)
	if r := acct.HandleOperation(owner, op, exec); r.State != StateExecuted {
		t.Errorf("after lock expiry: state = %s, err = %v", r.State, r.Err)
	}

	// Indefinite lock requires an explicit unlock.
	if err := acct.LockAccount(owner, 0); err != nil {
		t.Fatalf("failed to lock: %v", err)
	}
	clk.Advance(SecondsPerDay)
	if !acct.Locked() {
		t.Error("indefinite lock should not expire")
	}
	if err := acct.UnlockAccount(owner); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	if acct.Locked() {
		t.Error("account should be unlocked")
	}
}

func TestPauseRequiresOperatorRole(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	exec := NewSimExecutor()
	owner := acct.Owner()
	_, operator := testKey(t, 1)

	if err := acct.Pause(operator); !errors.Is(err, ErrNotOwner) {
		t.Errorf("pause without role: err = %v, want %v", err, ErrNotOwner)
	}
	if err := acct.GrantRole(owner, operator, RoleOperator); err != nil {
		t.Fatalf("failed to grant role: %v", err)
	}
	if err := acct.Pause(operator); err != nil {
		t.Fatalf("pause with operator role: %v", err)
	}

	op := signedOp(t, acct, key, TestAddresses.Target, nil)
	if r := acct.HandleOperation(owner, op, exec); r.Reason != ReasonPaused {
		t.Errorf("reason = %s, want %s", r.Reason, ReasonPaused)
	}

	if err := acct.Unpause(operator); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if r := acct.HandleOperation(owner, op, exec); r.State != StateExecuted {
		t.Errorf("after unpause: state = %s, err = %v", r.State, r.Err)
	}
}

func TestGrantRoleRestrictions(t *testing.T) {
	acct, _, _ := newTestAccount(t)
	owner := acct.Owner()
	_, other := testKey(t, 1)

	if err := acct.GrantRole(other, other, RoleAdmin); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner grant: err = %v, want %v", err, ErrNotOwner)
	}
	if err := acct.GrantRole(owner, other, RoleOwner); err == nil {
		t.Error("granting the owner role directly must fail")
	}
}

func TestKeyRotation(t *testing.T) {
	acct, oldKey, _ := newTestAccount(t)
	exec := NewSimExecutor()
	oldOwner := acct.Owner()
	newKey, newOwner := testKey(t, 1)

	if err := acct.RotateKey(oldOwner, newOwner); err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	if acct.Owner() != newOwner {
		t.Fatalf("owner = %s, want %s", acct.Owner().Hex(), newOwner.Hex())
	}
	if acct.KeyVersion(newOwner) != 1 {
		t.Errorf("new owner key version = %d, want 1", acct.KeyVersion(newOwner))
	}
	if acct.Nonce() != 1 {
		t.Errorf("rotation must advance the nonce: got %d", acct.Nonce())
	}

	// The old key is no longer any kind of signer.
	staleOp := signedOp(t, acct, oldKey, TestAddresses.Target, nil)
	if r := acct.HandleOperation(oldOwner, staleOp, exec); r.Reason != ReasonUnauthorized {
		t.Errorf("old signer: reason = %s, want %s", r.Reason, ReasonUnauthorized)
	}

	// The new key signs normally.
	op := signedOp(t, acct, newKey, TestAddresses.Target, nil)
	if r := acct.HandleOperation(newOwner, op, exec); r.State != StateExecuted {
		t.Errorf("new signer: state = %s, err = %v", r.State, r.Err)
	}

	// Rotating to the current owner is a no-op error.
	if err := acct.RotateKey(newOwner, newOwner); !errors.Is(err, ErrSameOwner) {
		t.Errorf("same-owner rotation: err = %v, want %v", err, ErrSameOwner)
	}
}

func TestEmergencyKeyRotation(t *testing.T) {
	acct, _, _ := newTestAccount(t)
	owner := acct.Owner()
	_, newOwner := testKey(t, 1)

	nonceBefore := acct.Nonce()
	if err := acct.EmergencyKeyRotation(owner, newOwner); err != nil {
		t.Fatalf("emergency rotation failed: %v", err)
	}
	if acct.Owner() != newOwner {
		t.Errorf("owner = %s, want %s", acct.Owner().Hex(), newOwner.Hex())
	}
	if acct.Nonce() != nonceBefore+1 {
		t.Errorf("nonce = %d, want %d", acct.Nonce(), nonceBefore+1)
	}
	if got := len(acct.Events().ByKind(EventKeyRotated)); got != 1 {
		t.Errorf("expected 1 rotation event, got %d", got)
	}
}

func TestSessionKeyFlow(t *testing.T) {
	acct, _, clk := newTestAccount(t)
	exec := NewSimExecutor()
	owner := acct.Owner()
	sessionKey, sessionAddr := testKey(t, 1)

	// Expiry must be in the future.
	if err := acct.AddSessionKey(owner, sessionAddr, clk.now); err == nil {
		t.Error("past expiry must be rejected")
	}
	if err := acct.AddSessionKey(owner, sessionAddr, clk.now+3600); err != nil {
		t.Fatalf("failed to add session key: %v", err)
	}
	if !acct.SessionKeyActive(sessionAddr) {
		t.Fatal("session key should be active")
	}

	op := signedOp(t, acct, sessionKey, TestAddresses.Target, nil)
	if r := acct.HandleOperation(sessionAddr, op, exec); r.State != StateExecuted {
		t.Fatalf("session op: state = %s, err = %v", r.State, r.Err)
	}

	// Expired keys stop validating without explicit revocation.
	clk.Advance(3601)
	if acct.SessionKeyActive(sessionAddr) {
		t.Error("session key should have expired")
	}
	expired := signedOp(t, acct, sessionKey, TestAddresses.Target, nil)
	if r := acct.HandleOperation(sessionAddr, expired, exec); r.Reason != ReasonUnauthorized {
		t.Errorf("expired session: reason = %s, want %s", r.Reason, ReasonUnauthorized)
	}

	// Revocation is immediate.
	if err := acct.AddSessionKey(owner, sessionAddr, clk.now+3600); err != nil {
		t.Fatalf("failed to re-add session key: %v", err)
	}
	if err := acct.RevokeSessionKey(owner, sessionAddr); err != nil {
		t.Fatalf("failed to revoke session key: %v", err)
	}
	if acct.SessionKeyActive(sessionAddr) {
		t.Error("revoked session key should be inactive")
	}
}

func TestUnknownSignerRejected(t *testing.T) {
	acct, _, _ := newTestAccount(t)
	exec := NewSimExecutor()
	strangerKey, stranger := testKey(t, 2)

	op := signedOp(t, acct, strangerKey, TestAddresses.Target, nil)
	r := acct.HandleOperation(stranger, op, exec)
	if r.Reason != ReasonUnauthorized {
		t.Errorf("reason = %s, want %s", r.Reason, ReasonUnauthorized)
	}
	if acct.Nonce() != 0 {
		t.Errorf("rejected op must not advance nonce: got %d", acct.Nonce())
	}
}

func TestAppPermissionFlow(t *testing.T) {
	acct, _, clk := newTestAccount(t)
	exec := NewSimExecutor()
	owner := acct.Owner()
	appKey, appAddr := testKey(t, 1)

	transferSel := Selector{0xa9, 0x05, 0x9c, 0xbb}
	perm := NewAppPermission(uint256.NewInt(200_000_000_000_000), []Selector{transferSel}, false, clk.now)
	if err := acct.AuthorizeApp(owner, appAddr, perm); err != nil {
		t.Fatalf("failed to authorize app: %v", err)
	}

	allowedData := append(transferSel[:], 0x00, 0x01)
	op := signedOp(t, acct, appKey, TestAddresses.Target, allowedData)
	if r := acct.HandleOperation(appAddr, op, exec); r.State != StateExecuted {
		t.Fatalf("allowed method: state = %s, reason = %s, err = %v", r.State, r.Reason, r.Err)
	}

	// Selector outside the allow list.
	denied := signedOp(t, acct, appKey, TestAddresses.Target, []byte{0xde, 0xad, 0xbe, 0xef})
	if r := acct.HandleOperation(appAddr, denied, exec); r.Reason != ReasonPermissionDenied {
		t.Errorf("denied method: reason = %s, want %s", r.Reason, ReasonPermissionDenied)
	}

	// Apps flagged for confirmation cannot execute autonomously.
	perm.RequiresConfirmation = true
	confirm := signedOp(t, acct, appKey, TestAddresses.Target, allowedData)
	r := acct.HandleOperation(appAddr, confirm, exec)
	if r.Reason != ReasonPermissionDenied || !errors.Is(r.Err, ErrConfirmationRequired) {
		t.Errorf("confirmation gate: reason = %s, err = %v", r.Reason, r.Err)
	}
	perm.RequiresConfirmation = false

	// Revocation cuts the app off entirely.
	if err := acct.RevokeApp(owner, appAddr); err != nil {
		t.Fatalf("failed to revoke app: %v", err)
	}
	revoked := signedOp(t, acct, appKey, TestAddresses.Target, allowedData)
	if r := acct.HandleOperation(appAddr, revoked, exec); r.Reason != ReasonUnauthorized {
		t.Errorf("revoked app: reason = %s, want %s", r.Reason, ReasonUnauthorized)
	}
}

func TestAppGasAllowance(t *testing.T) {
	acct, _, clk := newTestAccount(t)
	exec := NewSimExecutor()
	owner := acct.Owner()
	appKey, appAddr := testKey(t, 1)

	// Allowance below the op's estimated cost (50000 gas * 1 gwei = 5e13 wei).
	perm := NewAppPermission(uint256.NewInt(10_000_000_000_000), nil, false, clk.now)
	if err := acct.AuthorizeApp(owner, appAddr, perm); err != nil {
		t.Fatalf("failed to authorize app: %v", err)
	}

	op := signedOp(t, acct, appKey, TestAddresses.Target, nil)
	r := acct.HandleOperation(appAddr, op, exec)
	if r.Reason != ReasonPermissionDenied || !errors.Is(r.Err, ErrAllowanceExceeded) {
		t.Errorf("over-allowance: reason = %s, err = %v", r.Reason, r.Err)
	}

	// Raising the allowance unblocks the same op shape.
	perm.GasAllowance = uint256.NewInt(100_000_000_000_000)
	op2 := signedOp(t, acct, appKey, TestAddresses.Target, nil)
	if r := acct.HandleOperation(appAddr, op2, exec); r.State != StateExecuted {
		t.Errorf("within allowance: state = %s, err = %v", r.State, r.Err)
	}
	if perm.DailySpent.IsZero() {
		t.Error("execution should accumulate against the allowance")
	}
}

func TestExecuteBatchContinuesOnFailure(t *testing.T) {
	acct, _, _ := newTestAccount(t)
	exec := NewSimExecutor()
	owner := acct.Owner()
	good := TestAddresses.Target
	bad := common.HexToAddress("0xdead")
	exec.FailTarget(bad)

	results, err := acct.ExecuteBatch(owner,
		[]common.Address{good, bad, good},
		[]*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0)},
		[][]byte{{0x01}, {0x02}, {0x03}},
		[]uint64{50000, 50000, 50000},
		uint256.NewInt(1_000_000_000),
		exec,
	)
	if err != nil {
		t.Fatalf("batch error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Errorf("result pattern = [%v %v %v], want [true false true]",
			results[0].Success, results[1].Success, results[2].Success)
	}
	if exec.Calls() != 3 {
		t.Errorf("executed %d calls, want 3 (failure must not halt the batch)", exec.Calls())
	}
}

func TestExecuteBatchLengthMismatch(t *testing.T) {
	acct, _, _ := newTestAccount(t)
	exec := NewSimExecutor()

	_, err := acct.ExecuteBatch(acct.Owner(),
		[]common.Address{TestAddresses.Target},
		[]*big.Int{big.NewInt(0), big.NewInt(0)},
		[][]byte{{0x01}},
		[]uint64{50000},
		uint256.NewInt(1_000_000_000),
		exec,
	)
	if !errors.Is(err, ErrArrayLengthMismatch) {
		t.Errorf("err = %v, want %v", err, ErrArrayLengthMismatch)
	}
	if exec.Calls() != 0 {
		t.Errorf("malformed batch must not execute anything, got %d calls", exec.Calls())
	}
}

func TestCleanupNonces(t *testing.T) {
	acct, key, clk := newTestAccount(t)
	exec := NewSimExecutor()
	owner := acct.Owner()

	// Advance far past the cleanup threshold. The clock steps past the rate
	// limit window each iteration so the signer budget never binds.
	for i := 0; i <= NonceCleanupThreshold; i++ {
		op := signedOp(t, acct, key, TestAddresses.Target, nil)
		if r := acct.HandleOperation(owner, op, exec); r.State != StateExecuted {
			t.Fatalf("op %d: state = %s, err = %v", i, r.State, r.Err)
		}
		clk.Advance(RateLimitWindow + 1)
	}
	if acct.Nonce() != NonceCleanupThreshold+1 {
		t.Fatalf("nonce = %d, want %d", acct.Nonce(), NonceCleanupThreshold+1)
	}

	// Only nonce 0 sits more than the threshold behind.
	removed, err := acct.CleanupNonces(owner, []uint64{0, 1, 2})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if acct.NonceConsumed(0) {
		t.Error("nonce 0 should have been pruned")
	}
	if !acct.NonceConsumed(1) {
		t.Error("nonce 1 is within the threshold and must survive")
	}

	if _, err := acct.CleanupNonces(TestAddresses.App, []uint64{1}); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner cleanup: err = %v, want %v", err, ErrNotOwner)
	}
}

func TestValidateThenExecuteUserOp(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	exec := NewSimExecutor()
	ledger := NewSimLedger()
	entryPoint := common.HexToAddress("0xe9")
	ledger.AddBalance(acct.Address(), big.NewInt(1_000_000))

	op := signedOp(t, acct, key, TestAddresses.Target, nil)
	opHash := op.SigningHash(acct.Domain())

	if code := acct.ValidateUserOp(ledger, op, opHash, big.NewInt(400_000), entryPoint); code != ValidationAccepted {
		t.Fatalf("validation code = %d, want %d", code, ValidationAccepted)
	}
	if acct.Nonce() != 1 {
		t.Errorf("validation must consume the nonce: got %d", acct.Nonce())
	}
	// The prefund obligation settles immediately.
	if got := ledger.GetBalance(entryPoint); got.Cmp(big.NewInt(400_000)) != 0 {
		t.Errorf("entry point balance = %s, want 400000", got)
	}
	if got := ledger.GetBalance(acct.Address()); got.Cmp(big.NewInt(600_000)) != 0 {
		t.Errorf("account balance = %s, want 600000", got)
	}

	r := acct.ExecuteUserOp(op, exec)
	if r.State != StateExecuted || !r.Success {
		t.Fatalf("execute: state = %s, success = %v, err = %v", r.State, r.Success, r.Err)
	}

	// A second execution of the same validated op has nothing to consume.
	if r2 := acct.ExecuteUserOp(op, exec); r2.State != StateRejected {
		t.Errorf("re-execute: state = %s, want %s", r2.State, StateRejected)
	}
}

func TestValidateUserOpRejectsBadSignature(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	ledger := NewSimLedger()

	op := signedOp(t, acct, key, TestAddresses.Target, nil)
	op.Signature[10] ^= 0xff

	code := acct.ValidateUserOp(ledger, op, op.SigningHash(acct.Domain()), nil, common.Address{})
	if code != ValidationRejected {
		t.Fatalf("validation code = %d, want %d", code, ValidationRejected)
	}
	if acct.Nonce() != 0 {
		t.Errorf("rejected validation must not consume the nonce: got %d", acct.Nonce())
	}
}

func TestValidateUserOpRejectsHashMismatch(t *testing.T) {
	acct, key, _ := newTestAccount(t)

	op := signedOp(t, acct, key, TestAddresses.Target, nil)
	wrongHash := crypto.Keccak256Hash([]byte("not the operation"))
	if code := acct.ValidateUserOp(nil, op, wrongHash, nil, common.Address{}); code != ValidationRejected {
		t.Errorf("validation code = %d, want %d", code, ValidationRejected)
	}
}

func TestExecutionFailureStillConsumesNonce(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	exec := NewSimExecutor()
	exec.FailTarget(TestAddresses.Target)

	op := signedOp(t, acct, key, TestAddresses.Target, nil)
	r := acct.HandleOperation(acct.Owner(), op, exec)

	// Execution failure is not a validation error: the op reached Executed
	// state, the nonce is spent, only Success reflects the revert.
	if r.State != StateExecuted {
		t.Fatalf("state = %s, want %s", r.State, StateExecuted)
	}
	if r.Success {
		t.Error("reverted call must not report success")
	}
	if !errors.Is(r.Err, ErrCallReverted) {
		t.Errorf("err = %v, want %v", r.Err, ErrCallReverted)
	}
	if acct.Nonce() != 1 {
		t.Errorf("nonce = %d, want 1", acct.Nonce())
	}
}
