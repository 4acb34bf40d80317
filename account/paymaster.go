package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PaymasterMode defines how the paymaster sponsors gas.
type PaymasterMode uint8

const (
	// PaymasterModeFull sponsors every operation within budget
	PaymasterModeFull PaymasterMode = iota
	// PaymasterModeVerifying requires a valid signature from the paymaster
	// signer over the operation hash, carried in PaymasterAndData
	PaymasterModeVerifying
)

// SponsorContext is handed back by SponsorOp and passed to PostOp so the
// paymaster can settle against the actual gas cost.
type SponsorContext struct {
	Paymaster common.Address
	Sender    common.Address
	OpHash    common.Hash
	MaxCost   *uint256.Int
}

// Paymaster sponsors gas for operations it approves. Budget and per-op
// ceilings are enforced at sponsorship time against the maximum cost; actual
// settlement happens in PostOp with the real cost plus the service fee.
type Paymaster struct {
	address    common.Address
	owner      common.Address
	signer     common.Address // for verifying mode
	mode       PaymasterMode
	active     bool
	budget     *uint256.Int // total sponsorship budget
	sponsored  *uint256.Int // cumulative settled amount
	perOpLimit *uint256.Int // max sponsored cost per op (nil = unlimited)
	feeBps     uint64       // service fee in basis points on actual cost
	opCount    uint64
}

// NewPaymaster creates an active paymaster.
func NewPaymaster(address, owner common.Address, mode PaymasterMode, budget *uint256.Int) *Paymaster {
	return &Paymaster{
		address:   address,
		owner:     owner,
		mode:      mode,
		active:    true,
		budget:    budget,
		sponsored: uint256.NewInt(0),
	}
}

// SetSigner configures the verifying-mode signer.
func (pm *Paymaster) SetSigner(signer common.Address) { pm.signer = signer }

// SetPerOpLimit configures the per-operation sponsorship ceiling.
func (pm *Paymaster) SetPerOpLimit(limit *uint256.Int) { pm.perOpLimit = limit }

// SetFeeBps configures the service fee in basis points.
func (pm *Paymaster) SetFeeBps(bps uint64) { pm.feeBps = bps }

// SetActive enables or disables sponsorship.
func (pm *Paymaster) SetActive(active bool) { pm.active = active }

// Address returns the paymaster address.
func (pm *Paymaster) Address() common.Address { return pm.address }

// Stats returns the cumulative sponsored amount and operation count.
func (pm *Paymaster) Stats() (*uint256.Int, uint64) {
	return new(uint256.Int).Set(pm.sponsored), pm.opCount
}

// SponsorOp validates an operation from the paymaster's perspective and
// reserves nothing: budget accounting happens in PostOp with actual cost.
func (pm *Paymaster) SponsorOp(op *UserOperation, opHash common.Hash, maxCost *uint256.Int) (*SponsorContext, error) {
	if !pm.active {
		return nil, ErrPaymasterInactive
	}
	// Settled amounts can overshoot the budget because sponsorship reserves
	// nothing; the subtraction below must never see sponsored > budget.
	if pm.sponsored.Cmp(pm.budget) >= 0 {
		return nil, ErrPaymasterBudget
	}
	remaining := new(uint256.Int).Sub(pm.budget, pm.sponsored)
	if remaining.Cmp(maxCost) < 0 {
		return nil, ErrPaymasterBudget
	}
	if pm.perOpLimit != nil && maxCost.Cmp(pm.perOpLimit) > 0 {
		return nil, ErrPaymasterPerOpLimit
	}

	if pm.mode == PaymasterModeVerifying {
		if err := pm.verifySignature(op, opHash); err != nil {
			return nil, err
		}
	}

	return &SponsorContext{
		Paymaster: pm.address,
		Sender:    op.Sender,
		OpHash:    opHash,
		MaxCost:   maxCost,
	}, nil
}

// PostOp settles the sponsorship with the actual gas cost plus the service
// fee. The settled amount is capped at the sponsorship-time maximum.
func (pm *Paymaster) PostOp(ctx *SponsorContext, actualCost *uint256.Int) error {
	if ctx == nil {
		return ErrPaymasterDataTooShort
	}
	charge := new(uint256.Int).Set(actualCost)
	if pm.feeBps > 0 {
		fee, err := BasisPoints(actualCost, pm.feeBps)
		if err != nil {
			return err
		}
		charge.Add(charge, fee)
	}
	if charge.Cmp(ctx.MaxCost) > 0 {
		charge.Set(ctx.MaxCost)
	}
	pm.sponsored = new(uint256.Int).Add(pm.sponsored, charge)
	pm.opCount++
	return nil
}

// verifySignature checks the paymaster signature appended to the op's
// PaymasterAndData (last 65 bytes).
func (pm *Paymaster) verifySignature(op *UserOperation, opHash common.Hash) error {
	pmData := op.PaymasterData()
	if len(pmData) < SignatureLength {
		return ErrPaymasterDataTooShort
	}
	sig := pmData[len(pmData)-SignatureLength:]
	recovered, err := RecoverSigner(opHash, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPaymasterSig, err)
	}
	if recovered != pm.signer {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidPaymasterSig, pm.signer.Hex(), recovered.Hex())
	}
	return nil
}
