package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SessionKeyTable maps session keys to expiry timestamps. A zero or past
// timestamp means the key is invalid/absent. Session keys are secondary
// signers with a bounded validity window and their own gas policy scope;
// they carry no ownership rights.
type SessionKeyTable struct {
	expiry map[common.Address]uint64
}

// NewSessionKeyTable creates an empty table.
func NewSessionKeyTable() *SessionKeyTable {
	return &SessionKeyTable{expiry: make(map[common.Address]uint64)}
}

// Add registers key with the given expiry. The expiry must be in the future.
func (t *SessionKeyTable) Add(key common.Address, expiresAt, now uint64) error {
	if err := ValidateNonZeroAddress(key, "session key"); err != nil {
		return err
	}
	if expiresAt <= now {
		return fmt.Errorf("%w: expiry %d not after %d", ErrOutOfRange, expiresAt, now)
	}
	t.expiry[key] = expiresAt
	return nil
}

// Revoke removes a session key.
func (t *SessionKeyTable) Revoke(key common.Address) {
	delete(t.expiry, key)
}

// Active reports whether key is registered and unexpired at time now.
func (t *SessionKeyTable) Active(key common.Address, now uint64) bool {
	exp, ok := t.expiry[key]
	return ok && exp > now
}

// ExpiresAt returns the expiry for key (0 if absent).
func (t *SessionKeyTable) ExpiresAt(key common.Address) uint64 {
	return t.expiry[key]
}

// Keys returns all registered session keys, expired ones included.
func (t *SessionKeyTable) Keys() []common.Address {
	out := make([]common.Address, 0, len(t.expiry))
	for k := range t.expiry {
		out = append(out, k)
	}
	return out
}
