package account

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrCallReverted is returned by the simulated executor for failing targets.
var ErrCallReverted = errors.New("call reverted")

// SimExecutor is a deterministic CallExecutor for local runs and tests.
// Gas is charged as base cost plus calldata bytes, mirroring intrinsic gas:
// 21000 + 16 per non-zero byte + 4 per zero byte.
type SimExecutor struct {
	failing map[common.Address]bool
	returns map[common.Address][]byte
	calls   int
}

// NewSimExecutor creates an executor where every call succeeds.
func NewSimExecutor() *SimExecutor {
	return &SimExecutor{
		failing: make(map[common.Address]bool),
		returns: make(map[common.Address][]byte),
	}
}

// FailTarget makes calls to target revert.
func (e *SimExecutor) FailTarget(target common.Address) {
	e.failing[target] = true
}

// SetReturn sets the return data for calls to target.
func (e *SimExecutor) SetReturn(target common.Address, ret []byte) {
	e.returns[target] = ret
}

// Calls returns how many calls were executed (reverted ones included).
func (e *SimExecutor) Calls() int { return e.calls }

// Call implements CallExecutor.
func (e *SimExecutor) Call(from, to common.Address, value *big.Int, data []byte, gasLimit uint64) ([]byte, uint64, error) {
	e.calls++
	gas := uint64(21000)
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	if gas > gasLimit {
		gas = gasLimit
	}
	if e.failing[to] {
		return nil, gas, ErrCallReverted
	}
	return e.returns[to], gas, nil
}

// SimLedger is an in-memory balance ledger for local runs and tests.
type SimLedger struct {
	balances map[common.Address]*big.Int
}

// NewSimLedger creates an empty ledger.
func NewSimLedger() *SimLedger {
	return &SimLedger{balances: make(map[common.Address]*big.Int)}
}

// GetBalance implements Ledger.
func (l *SimLedger) GetBalance(addr common.Address) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// SubBalance implements Ledger.
func (l *SimLedger) SubBalance(addr common.Address, amount *big.Int) {
	b := l.GetBalance(addr)
	l.balances[addr] = b.Sub(b, amount)
}

// AddBalance implements Ledger.
func (l *SimLedger) AddBalance(addr common.Address, amount *big.Int) {
	b := l.GetBalance(addr)
	l.balances[addr] = b.Add(b, amount)
}
