package account

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestPaymasterFullMode(t *testing.T) {
	pmAddr := common.HexToAddress("0xcafe")
	_, pmOwner := testKey(t, 1)
	pm := NewPaymaster(pmAddr, pmOwner, PaymasterModeFull, uint256.NewInt(1_000_000))
	op := sampleOp()
	opHash := common.HexToHash("0x01")

	ctx, err := pm.SponsorOp(op, opHash, uint256.NewInt(400_000))
	if err != nil {
		t.Fatalf("sponsor failed: %v", err)
	}
	if ctx.Paymaster != pmAddr || ctx.Sender != op.Sender {
		t.Errorf("context = %+v", ctx)
	}

	if _, err := pm.SponsorOp(op, opHash, uint256.NewInt(2_000_000)); !errors.Is(err, ErrPaymasterBudget) {
		t.Errorf("over budget: err = %v, want %v", err, ErrPaymasterBudget)
	}

	pm.SetPerOpLimit(uint256.NewInt(100_000))
	if _, err := pm.SponsorOp(op, opHash, uint256.NewInt(400_000)); !errors.Is(err, ErrPaymasterPerOpLimit) {
		t.Errorf("over per-op limit: err = %v, want %v", err, ErrPaymasterPerOpLimit)
	}

	pm.SetActive(false)
	if _, err := pm.SponsorOp(op, opHash, uint256.NewInt(1)); !errors.Is(err, ErrPaymasterInactive) {
		t.Errorf("inactive: err = %v, want %v", err, ErrPaymasterInactive)
	}
}

func TestPaymasterBudgetDepletion(t *testing.T) {
	pm := NewPaymaster(common.HexToAddress("0xcafe"), common.HexToAddress("0x01"), PaymasterModeFull, uint256.NewInt(1_000))
	op := sampleOp()

	ctx, err := pm.SponsorOp(op, common.HexToHash("0x01"), uint256.NewInt(800))
	if err != nil {
		t.Fatalf("sponsor failed: %v", err)
	}
	if err := pm.PostOp(ctx, uint256.NewInt(800)); err != nil {
		t.Fatalf("post-op failed: %v", err)
	}

	// Only 200 of budget remains.
	if _, err := pm.SponsorOp(op, common.HexToHash("0x02"), uint256.NewInt(300)); !errors.Is(err, ErrPaymasterBudget) {
		t.Errorf("depleted budget: err = %v, want %v", err, ErrPaymasterBudget)
	}
	if _, err := pm.SponsorOp(op, common.HexToHash("0x02"), uint256.NewInt(200)); err != nil {
		t.Errorf("within remaining budget: %v", err)
	}
}

func TestPaymasterOverCommittedBudget(t *testing.T) {
	pm := NewPaymaster(common.HexToAddress("0xcafe"), common.HexToAddress("0x01"), PaymasterModeFull, uint256.NewInt(1_000))
	op := sampleOp()

	// Sponsorship reserves nothing, so two in-flight operations can both be
	// approved against the same budget and settle past it.
	ctx1, err := pm.SponsorOp(op, common.HexToHash("0x01"), uint256.NewInt(800))
	if err != nil {
		t.Fatalf("first sponsorship: %v", err)
	}
	ctx2, err := pm.SponsorOp(op, common.HexToHash("0x02"), uint256.NewInt(800))
	if err != nil {
		t.Fatalf("second sponsorship: %v", err)
	}
	if err := pm.PostOp(ctx1, uint256.NewInt(800)); err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	if err := pm.PostOp(ctx2, uint256.NewInt(800)); err != nil {
		t.Fatalf("second settlement: %v", err)
	}

	// sponsored (1600) now exceeds budget (1000); the budget check must stay
	// armed rather than wrap.
	if _, err := pm.SponsorOp(op, common.HexToHash("0x03"), uint256.NewInt(1)); !errors.Is(err, ErrPaymasterBudget) {
		t.Errorf("over-committed budget: err = %v, want %v", err, ErrPaymasterBudget)
	}
}

func TestPaymasterVerifyingMode(t *testing.T) {
	signerKey, signerAddr := testKey(t, 1)
	wrongKey, _ := testKey(t, 2)
	pm := NewPaymaster(common.HexToAddress("0xcafe"), common.HexToAddress("0x01"), PaymasterModeVerifying, uint256.NewInt(1_000_000))
	pm.SetSigner(signerAddr)

	opHash := common.HexToHash("0xabcdef")
	maxCost := uint256.NewInt(1_000)

	withSig := func(sig []byte) *UserOperation {
		op := sampleOp()
		op.PaymasterAndData = append(pm.Address().Bytes(), sig...)
		return op
	}

	// No signature appended at all.
	bare := sampleOp()
	bare.PaymasterAndData = pm.Address().Bytes()
	if _, err := pm.SponsorOp(bare, opHash, maxCost); !errors.Is(err, ErrPaymasterDataTooShort) {
		t.Errorf("missing signature: err = %v, want %v", err, ErrPaymasterDataTooShort)
	}

	// Signature from the wrong key.
	wrongSig := signHash(t, wrongKey, opHash)
	if _, err := pm.SponsorOp(withSig(wrongSig), opHash, maxCost); !errors.Is(err, ErrInvalidPaymasterSig) {
		t.Errorf("wrong signer: err = %v, want %v", err, ErrInvalidPaymasterSig)
	}

	// Valid signature from the configured signer.
	goodSig := signHash(t, signerKey, opHash)
	if _, err := pm.SponsorOp(withSig(goodSig), opHash, maxCost); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
}

func TestPaymasterPostOpFeeAndCap(t *testing.T) {
	pm := NewPaymaster(common.HexToAddress("0xcafe"), common.HexToAddress("0x01"), PaymasterModeFull, uint256.NewInt(10_000_000))
	pm.SetFeeBps(250) // 2.5%
	op := sampleOp()

	ctx, err := pm.SponsorOp(op, common.HexToHash("0x01"), uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("sponsor failed: %v", err)
	}

	// 100000 actual + 2.5% fee = 102500 settled.
	if err := pm.PostOp(ctx, uint256.NewInt(100_000)); err != nil {
		t.Fatalf("post-op failed: %v", err)
	}
	sponsored, count := pm.Stats()
	if sponsored.Cmp(uint256.NewInt(102_500)) != 0 {
		t.Errorf("sponsored = %s, want 102500", sponsored)
	}
	if count != 1 {
		t.Errorf("op count = %d, want 1", count)
	}

	// Settlement never exceeds the sponsorship-time maximum.
	ctx2, err := pm.SponsorOp(op, common.HexToHash("0x02"), uint256.NewInt(100_000))
	if err != nil {
		t.Fatalf("sponsor failed: %v", err)
	}
	if err := pm.PostOp(ctx2, uint256.NewInt(100_000)); err != nil {
		t.Fatalf("post-op failed: %v", err)
	}
	sponsored2, _ := pm.Stats()
	delta := new(uint256.Int).Sub(sponsored2, sponsored)
	if delta.Cmp(uint256.NewInt(100_000)) != 0 {
		t.Errorf("capped settlement = %s, want 100000", delta)
	}

	if err := pm.PostOp(nil, uint256.NewInt(1)); err == nil {
		t.Error("nil context must be rejected")
	}
}

func TestSponsoredUserOpLifecycle(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	exec := NewSimExecutor()
	pm := NewPaymaster(common.HexToAddress("0xcafe"), common.HexToAddress("0x01"), PaymasterModeFull, ether(1))
	acct.RegisterPaymaster(pm)

	op := &UserOperation{
		Sender:           acct.Address(),
		Nonce:            big.NewInt(0),
		CallData:         EncodeCallData(TestAddresses.Target, big.NewInt(0), nil),
		CallGasLimit:     50_000,
		MaxFeePerGas:     big.NewInt(1_000_000_000),
		PaymasterAndData: pm.Address().Bytes(),
	}
	sig, err := SignUserOp(key, op, acct.Domain())
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	op.Signature = sig
	opHash := op.SigningHash(acct.Domain())

	if code := acct.ValidateUserOp(nil, op, opHash, nil, common.Address{}); code != ValidationAccepted {
		t.Fatalf("validation code = %d, want %d", code, ValidationAccepted)
	}

	r := acct.ExecuteUserOp(op, exec)
	if r.State != StateExecuted || !r.Success {
		t.Fatalf("state = %s, success = %v, err = %v", r.State, r.Success, r.Err)
	}

	// Settlement ran with the actual cost, not the sponsored maximum.
	sponsored, count := pm.Stats()
	if count != 1 {
		t.Fatalf("op count = %d, want 1", count)
	}
	if sponsored.Cmp(r.ActualGasCost) != 0 {
		t.Errorf("sponsored = %s, want actual cost %s", sponsored, r.ActualGasCost)
	}
}

func TestSponsoredUserOpRejectedWithoutSponsor(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	unknown := common.HexToAddress("0x00000000000000000000000000000000000000f0")

	op := &UserOperation{
		Sender:           acct.Address(),
		Nonce:            big.NewInt(0),
		CallData:         EncodeCallData(TestAddresses.Target, big.NewInt(0), nil),
		CallGasLimit:     50_000,
		MaxFeePerGas:     big.NewInt(1_000_000_000),
		PaymasterAndData: unknown.Bytes(),
	}
	sig, err := SignUserOp(key, op, acct.Domain())
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	op.Signature = sig
	opHash := op.SigningHash(acct.Domain())

	// Unregistered paymaster.
	if code := acct.ValidateUserOp(nil, op, opHash, nil, common.Address{}); code != ValidationRejected {
		t.Fatalf("unregistered paymaster: code = %d, want %d", code, ValidationRejected)
	}
	if acct.Nonce() != 0 {
		t.Errorf("refused sponsorship must not consume the nonce: got %d", acct.Nonce())
	}

	// Registered but inactive paymaster.
	pm := NewPaymaster(unknown, common.HexToAddress("0x01"), PaymasterModeFull, ether(1))
	pm.SetActive(false)
	acct.RegisterPaymaster(pm)
	if code := acct.ValidateUserOp(nil, op, opHash, nil, common.Address{}); code != ValidationRejected {
		t.Fatalf("inactive paymaster: code = %d, want %d", code, ValidationRejected)
	}
	if acct.Nonce() != 0 {
		t.Errorf("refused sponsorship must not consume the nonce: got %d", acct.Nonce())
	}

	// Activating the paymaster unblocks the identical operation.
	pm.SetActive(true)
	if code := acct.ValidateUserOp(nil, op, opHash, nil, common.Address{}); code != ValidationAccepted {
		t.Fatalf("active paymaster: code = %d, want %d", code, ValidationAccepted)
	}
}

func TestSponsoredOperationEndToEnd(t *testing.T) {
	acct, key, _ := newTestAccount(t)
	exec := NewSimExecutor()
	pmSignerKey, pmSignerAddr := testKey(t, 1)
	pm := NewPaymaster(common.HexToAddress("0xcafe"), pmSignerAddr, PaymasterModeVerifying, ether(1))
	pm.SetSigner(pmSignerAddr)

	// Build the op, let the paymaster countersign its hash, then the owner
	// signs the whole thing.
	op := &UserOperation{
		Sender:       acct.Address(),
		Nonce:        big.NewInt(0),
		CallData:     EncodeCallData(TestAddresses.Target, big.NewInt(0), nil),
		CallGasLimit: 50_000,
		MaxFeePerGas: big.NewInt(1_000_000_000),
	}
	// The paymaster signs a pre-signature view of the op.
	pmHash := op.SigningHash(acct.Domain())
	op.PaymasterAndData = append(pm.Address().Bytes(), signHash(t, pmSignerKey, pmHash)...)

	totalGas, ok := op.TotalGasLimit()
	if !ok {
		t.Fatal("unexpected gas envelope overflow")
	}
	maxCost, err := MulCost(totalGas, uint256.NewInt(1_000_000_000))
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	ctx, err := pm.SponsorOp(op, pmHash, maxCost)
	if err != nil {
		t.Fatalf("sponsorship rejected: %v", err)
	}

	sig, err := SignUserOp(key, op, acct.Domain())
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	op.Signature = sig

	r := acct.HandleOperation(acct.Owner(), op, exec)
	if r.State != StateExecuted || !r.Success {
		t.Fatalf("state = %s, success = %v, err = %v", r.State, r.Success, r.Err)
	}

	if err := pm.PostOp(ctx, r.ActualGasCost); err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	sponsored, count := pm.Stats()
	if sponsored.IsZero() || count != 1 {
		t.Errorf("sponsored = %s, count = %d", sponsored, count)
	}
}
