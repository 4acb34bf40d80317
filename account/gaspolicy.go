package account

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// GasPolicy is a per-scope gas spending policy. A scope is the account
// itself, a specific app, or a specific session key. DailySpent resets
// lazily whenever a check or update observes that a day has passed since
// LastResetTime; no scheduled job exists.
type GasPolicy struct {
	PaymentToken  common.Address
	MaxGasPrice   *uint256.Int
	DailyGasLimit *uint256.Int // wei per day
	PerTxGasLimit *uint256.Int // wei per transaction
	DailySpent    *uint256.Int
	LastResetTime uint64
	Enabled       bool
}

// NewGasPolicy creates an enabled policy with the given ceilings.
func NewGasPolicy(maxGasPrice, dailyLimit, perTxLimit *uint256.Int, now uint64) *GasPolicy {
	return &GasPolicy{
		MaxGasPrice:   maxGasPrice,
		DailyGasLimit: dailyLimit,
		PerTxGasLimit: perTxLimit,
		DailySpent:    uint256.NewInt(0),
		LastResetTime: now,
		Enabled:       true,
	}
}

// Check validates a prospective spend against the policy without mutating
// anything. Disabled policies always permit. The daily ceiling is computed
// against a hypothetical post-reset DailySpent if the day boundary passed.
// Order: per-tx cost ceiling, gas-price ceiling, daily cumulative ceiling.
func (p *GasPolicy) Check(gasLimit uint64, gasPrice *uint256.Int, now uint64) error {
	if p == nil || !p.Enabled {
		return nil
	}
	cost, err := MulCost(gasLimit, gasPrice)
	if err != nil {
		return err
	}
	if p.PerTxGasLimit != nil && cost.Cmp(p.PerTxGasLimit) > 0 {
		return ErrPerTxLimitExceeded
	}
	if p.MaxGasPrice != nil && gasPrice.Cmp(p.MaxGasPrice) > 0 {
		return ErrGasPriceTooHigh
	}
	if p.DailyGasLimit != nil {
		spent := p.DailySpent
		if now >= p.LastResetTime+SecondsPerDay {
			spent = uint256.NewInt(0)
		}
		total := new(uint256.Int).Add(spent, cost)
		if total.Cmp(p.DailyGasLimit) > 0 {
			return ErrDailyLimitExceeded
		}
	}
	return nil
}

// RecordSpend is the mutating counterpart of Check, called post-execution
// with the actual cost. It applies the lazy daily reset before accumulating.
func (p *GasPolicy) RecordSpend(actualCost *uint256.Int, now uint64) {
	if p == nil || !p.Enabled {
		return
	}
	if now >= p.LastResetTime+SecondsPerDay {
		p.DailySpent = uint256.NewInt(0)
		p.LastResetTime = now
	}
	p.DailySpent = new(uint256.Int).Add(p.DailySpent, actualCost)
}
