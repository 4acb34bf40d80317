package account

import (
	"github.com/holiman/uint256"
)

// Selector is a 4-byte method selector.
type Selector [SelectorLength]byte

// SelectorFromData extracts the method selector from calldata.
// Returns false when the calldata is too short to carry one.
func SelectorFromData(data []byte) (Selector, bool) {
	var sel Selector
	if len(data) < SelectorLength {
		return sel, false
	}
	copy(sel[:], data[:SelectorLength])
	return sel, true
}

// AppPermission is the per-app authorization record. An empty AllowedMethods
// set means all methods are allowed (wildcard by convention).
type AppPermission struct {
	Authorized           bool
	GasAllowance         *uint256.Int // wei per day the app may spend
	DailySpent           *uint256.Int
	LastResetTime        uint64
	AllowedMethods       map[Selector]struct{}
	RequiresConfirmation bool
}

// NewAppPermission creates an authorized permission record.
func NewAppPermission(gasAllowance *uint256.Int, methods []Selector, requiresConfirmation bool, now uint64) *AppPermission {
	allowed := make(map[Selector]struct{}, len(methods))
	for _, m := range methods {
		allowed[m] = struct{}{}
	}
	return &AppPermission{
		Authorized:           true,
		GasAllowance:         gasAllowance,
		DailySpent:           uint256.NewInt(0),
		LastResetTime:        now,
		AllowedMethods:       allowed,
		RequiresConfirmation: requiresConfirmation,
	}
}

// MethodAllowed reports whether the app may call the given selector.
func (p *AppPermission) MethodAllowed(sel Selector) bool {
	if len(p.AllowedMethods) == 0 {
		return true
	}
	_, ok := p.AllowedMethods[sel]
	return ok
}

// CheckAllowance validates a prospective spend against the app's daily gas
// allowance without mutating state (lazy-reset semantics as in GasPolicy).
func (p *AppPermission) CheckAllowance(cost *uint256.Int, now uint64) error {
	if p.GasAllowance == nil {
		return nil
	}
	spent := p.DailySpent
	if now >= p.LastResetTime+SecondsPerDay {
		spent = uint256.NewInt(0)
	}
	total := new(uint256.Int).Add(spent, cost)
	if total.Cmp(p.GasAllowance) > 0 {
		return ErrAllowanceExceeded
	}
	return nil
}

// RecordSpend accumulates actual spend against the allowance.
func (p *AppPermission) RecordSpend(actualCost *uint256.Int, now uint64) {
	if now >= p.LastResetTime+SecondsPerDay {
		p.DailySpent = uint256.NewInt(0)
		p.LastResetTime = now
	}
	p.DailySpent = new(uint256.Int).Add(p.DailySpent, actualCost)
}
