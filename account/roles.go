package account

import "github.com/ethereum/go-ethereum/common"

// Role is an access level within the account's administration surface.
type Role uint8

const (
	RoleNone Role = iota
	RoleOperator
	RoleAdmin
	RoleOwner
)

// String returns a human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "OWNER"
	case RoleAdmin:
		return "ADMIN"
	case RoleOperator:
		return "OPERATOR"
	default:
		return "NONE"
	}
}

// RoleTable maps addresses to administration roles and carries the pause flag.
// The owner role is managed by the account itself on rotation/recovery; admins
// and operators are granted explicitly.
type RoleTable struct {
	roles  map[common.Address]Role
	paused bool
}

// NewRoleTable creates a role table with the initial owner.
func NewRoleTable(owner common.Address) *RoleTable {
	rt := &RoleTable{roles: make(map[common.Address]Role)}
	rt.roles[owner] = RoleOwner
	return rt
}

// Grant assigns a role to an address. Granting RoleNone removes the entry.
func (rt *RoleTable) Grant(addr common.Address, role Role) {
	if role == RoleNone {
		delete(rt.roles, addr)
		return
	}
	rt.roles[addr] = role
}

// Role returns the role of an address (RoleNone if absent).
func (rt *RoleTable) Role(addr common.Address) Role {
	return rt.roles[addr]
}

// HasAtLeast reports whether addr holds the given role or higher.
func (rt *RoleTable) HasAtLeast(addr common.Address, role Role) bool {
	return rt.roles[addr] >= role
}

// ReplaceOwner moves the owner role from old to new atomically.
func (rt *RoleTable) ReplaceOwner(old, new common.Address) {
	delete(rt.roles, old)
	rt.roles[new] = RoleOwner
}

// Pause sets the pause flag. Paused accounts reject all operations.
func (rt *RoleTable) Pause() { rt.paused = true }

// Unpause clears the pause flag.
func (rt *RoleTable) Unpause() { rt.paused = false }

// Paused reports the pause flag.
func (rt *RoleTable) Paused() bool { return rt.paused }

// NonceTracker is a generic per-address strictly increasing counter, used for
// request replay protection outside the account's own operation nonce
// (e.g. guardian API requests).
type NonceTracker struct {
	nonces map[common.Address]uint64
}

// NewNonceTracker creates an empty tracker.
func NewNonceTracker() *NonceTracker {
	return &NonceTracker{nonces: make(map[common.Address]uint64)}
}

// Current returns the last consumed nonce for addr (0 if none).
func (nt *NonceTracker) Current(addr common.Address) uint64 {
	return nt.nonces[addr]
}

// Use consumes nonce for addr. The nonce must be strictly greater than the
// last consumed value.
func (nt *NonceTracker) Use(addr common.Address, nonce uint64) error {
	if nonce <= nt.nonces[addr] {
		return ErrNonceUsed
	}
	nt.nonces[addr] = nonce
	return nil
}
