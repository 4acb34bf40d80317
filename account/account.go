package account

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Scope identifies which gas-policy scope an operation executes under.
type Scope uint8

const (
	ScopeOwner Scope = iota
	ScopeApp
	ScopeSession
)

// String returns a human-readable scope name.
func (s Scope) String() string {
	switch s {
	case ScopeOwner:
		return "owner"
	case ScopeApp:
		return "app"
	case ScopeSession:
		return "session"
	default:
		return "unknown"
	}
}

// RecoveryRequest is a pending guardian-initiated owner replacement.
type RecoveryRequest struct {
	NewOwner    common.Address `json:"newOwner"`
	RequestedAt uint64         `json:"requestedAt"`
}

// SmartAccount is the explicit account context object. All state that the
// on-chain account would keep in contract storage lives here and is passed
// through the validation pipeline explicitly; there are no package-level
// mutable globals. The host ledger executes one operation at a time, so the
// struct needs no internal locking: total ordering is enforced by the strict
// nonce-equality check.
type SmartAccount struct {
	address common.Address
	owner   common.Address

	nonce      uint64
	usedNonces map[uint64]bool

	locked    bool
	lockUntil uint64

	recovery        common.Address
	recoveryDelay   uint64
	pendingRecovery *RecoveryRequest

	keys     *KeyRegistry
	sessions *SessionKeyTable
	apps     map[common.Address]*AppPermission

	policy          *GasPolicy // account scope, always checked
	appPolicies     map[common.Address]*GasPolicy
	sessionPolicies map[common.Address]*GasPolicy

	verifier *SignatureVerifier
	roles    *RoleTable
	events   *EventLog
	domain   Domain

	// pending userops validated through ValidateUserOp, keyed by op hash
	pendingOps map[common.Hash]Scope

	// registered gas sponsors and sponsorships awaiting settlement
	paymasters      map[common.Address]*Paymaster
	pendingSponsors map[common.Hash]*SponsorContext

	now func() uint64
}

// NewSmartAccount creates an account owned by owner, deployed at address,
// bound to chainID for operation signing.
func NewSmartAccount(address, owner common.Address, chainID *big.Int) (*SmartAccount, error) {
	if err := ValidateNonZeroAddress(owner, "owner"); err != nil {
		return nil, err
	}
	keys := NewKeyRegistry()
	events := NewEventLog()
	return &SmartAccount{
		address:         address,
		owner:           owner,
		usedNonces:      make(map[uint64]bool),
		keys:            keys,
		sessions:        NewSessionKeyTable(),
		apps:            make(map[common.Address]*AppPermission),
		appPolicies:     make(map[common.Address]*GasPolicy),
		sessionPolicies: make(map[common.Address]*GasPolicy),
		verifier:        NewSignatureVerifier(keys, events),
		roles:           NewRoleTable(owner),
		events:          events,
		domain:          NewDomain(chainID, address),
		pendingOps:      make(map[common.Hash]Scope),
		paymasters:      make(map[common.Address]*Paymaster),
		pendingSponsors: make(map[common.Hash]*SponsorContext),
		now:             func() uint64 { return uint64(time.Now().Unix()) },
	}, nil
}

// SetClock overrides the account's time source. Tests use this to control
// validity windows; the default follows wall time.
func (a *SmartAccount) SetClock(now func() uint64) { a.now = now }

// Address returns the account's own address.
func (a *SmartAccount) Address() common.Address { return a.address }

// Owner returns the current owner key.
func (a *SmartAccount) Owner() common.Address { return a.owner }

// Nonce returns the current account nonce.
func (a *SmartAccount) Nonce() uint64 { return a.nonce }

// Domain returns the account's operation signing domain.
func (a *SmartAccount) Domain() Domain { return a.domain }

// Events returns the account's security event log.
func (a *SmartAccount) Events() *EventLog { return a.events }

// Guardian returns the configured recovery guardian (zero if unset).
func (a *SmartAccount) Guardian() common.Address { return a.recovery }

// RecoveryDelay returns the configured recovery delay in seconds.
func (a *SmartAccount) RecoveryDelay() uint64 { return a.recoveryDelay }

// PendingRecovery returns a copy of the pending recovery request, if any.
func (a *SmartAccount) PendingRecovery() *RecoveryRequest {
	if a.pendingRecovery == nil {
		return nil
	}
	req := *a.pendingRecovery
	return &req
}

// KeyVersion returns the current key version for an address.
func (a *SmartAccount) KeyVersion(addr common.Address) uint64 { return a.keys.Version(addr) }

// NonceConsumed reports whether a nonce value was ever consumed.
func (a *SmartAccount) NonceConsumed(nonce uint64) bool { return a.usedNonces[nonce] }

// SignatureUsed reports whether a signature hash was ever consumed.
func (a *SmartAccount) SignatureUsed(sigHash common.Hash) bool {
	return a.verifier.SignatureUsed(sigHash)
}

// Locked reports whether the account currently rejects operations due to a
// lock. A lock with a lockUntil in the past has expired.
func (a *SmartAccount) Locked() bool {
	if !a.locked {
		return false
	}
	if a.lockUntil != 0 && a.now() >= a.lockUntil {
		return false
	}
	return true
}

// Paused reports the administrative pause flag.
func (a *SmartAccount) Paused() bool { return a.roles.Paused() }

func (a *SmartAccount) requireOwner(caller common.Address) error {
	if caller != a.owner {
		return ErrNotOwner
	}
	return nil
}

// signerScope classifies a signer: the owner, a live session key, or an
// authorized app, in that precedence order.
func (a *SmartAccount) signerScope(signer common.Address, now uint64) (Scope, error) {
	if signer == a.owner {
		return ScopeOwner, nil
	}
	if a.sessions.Active(signer, now) {
		return ScopeSession, nil
	}
	if p, ok := a.apps[signer]; ok && p.Authorized {
		return ScopeApp, nil
	}
	if exp := a.sessions.ExpiresAt(signer); exp != 0 && exp <= now {
		return ScopeOwner, ErrSessionExpired
	}
	return ScopeOwner, ErrUnauthorizedSigner
}

// consumeNonce marks the current nonce used and advances it. Called only
// after every validation gate has passed, or by admin operations that must
// invalidate signed-but-unsubmitted operations.
func (a *SmartAccount) consumeNonce() {
	a.usedNonces[a.nonce] = true
	a.nonce++
}

// --- Owner administration ---

// GrantRole assigns an administration role. Owner only. The owner role
// itself cannot be granted this way; it moves only via rotation/recovery.
func (a *SmartAccount) GrantRole(caller, addr common.Address, role Role) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if role == RoleOwner {
		return fmt.Errorf("%w: owner role moves only via rotation", ErrOutOfRange)
	}
	if err := ValidateNonZeroAddress(addr, "role holder"); err != nil {
		return err
	}
	a.roles.Grant(addr, role)
	return nil
}

// Pause stops all operation processing. Operator role or above.
func (a *SmartAccount) Pause(caller common.Address) error {
	if !a.roles.HasAtLeast(caller, RoleOperator) {
		return ErrNotOwner
	}
	a.roles.Pause()
	return nil
}

// Unpause resumes operation processing. Operator role or above.
func (a *SmartAccount) Unpause(caller common.Address) error {
	if !a.roles.HasAtLeast(caller, RoleOperator) {
		return ErrNotOwner
	}
	a.roles.Unpause()
	return nil
}

// LockAccount locks the account until the given timestamp (0 = indefinite).
// Owner only.
func (a *SmartAccount) LockAccount(caller common.Address, until uint64) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	a.locked = true
	a.lockUntil = until
	a.events.Append(EventAccountLocked, caller, fmt.Sprintf("until=%d", until), a.now())
	return nil
}

// UnlockAccount clears the lock. Owner only.
func (a *SmartAccount) UnlockAccount(caller common.Address) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	a.locked = false
	a.lockUntil = 0
	a.events.Append(EventAccountUnlocked, caller, "", a.now())
	return nil
}

// SetGasPolicy installs the account-scope gas policy. Owner or admin.
func (a *SmartAccount) SetGasPolicy(caller common.Address, policy *GasPolicy) error {
	if caller != a.owner && !a.roles.HasAtLeast(caller, RoleAdmin) {
		return ErrNotOwner
	}
	a.policy = policy
	return nil
}

// SetAppGasPolicy installs a gas policy scoped to one app. Owner or admin.
func (a *SmartAccount) SetAppGasPolicy(caller, app common.Address, policy *GasPolicy) error {
	if caller != a.owner && !a.roles.HasAtLeast(caller, RoleAdmin) {
		return ErrNotOwner
	}
	if err := ValidateNonZeroAddress(app, "app"); err != nil {
		return err
	}
	a.appPolicies[app] = policy
	return nil
}

// SetSessionGasPolicy installs a gas policy scoped to one session key.
// Owner or admin.
func (a *SmartAccount) SetSessionGasPolicy(caller, key common.Address, policy *GasPolicy) error {
	if caller != a.owner && !a.roles.HasAtLeast(caller, RoleAdmin) {
		return ErrNotOwner
	}
	if err := ValidateNonZeroAddress(key, "session key"); err != nil {
		return err
	}
	a.sessionPolicies[key] = policy
	return nil
}

// AccountGasPolicy returns the account-scope policy (nil if unset).
func (a *SmartAccount) AccountGasPolicy() *GasPolicy { return a.policy }

// RegisterPaymaster makes a paymaster available to operations that name its
// address in PaymasterAndData. Operations naming an unregistered paymaster
// fail validation.
func (a *SmartAccount) RegisterPaymaster(pm *Paymaster) {
	a.paymasters[pm.Address()] = pm
}

// AuthorizeApp grants an app permission to operate through the account.
// Owner only.
func (a *SmartAccount) AuthorizeApp(caller, app common.Address, perm *AppPermission) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if err := ValidateNonZeroAddress(app, "app"); err != nil {
		return err
	}
	a.apps[app] = perm
	a.events.Append(EventAppAuthorized, app, "", a.now())
	return nil
}

// RevokeApp deletes an app's permission record entirely. Owner only.
func (a *SmartAccount) RevokeApp(caller, app common.Address) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	delete(a.apps, app)
	delete(a.appPolicies, app)
	a.events.Append(EventAppRevoked, app, "", a.now())
	return nil
}

// AppPermission returns the permission record for an app (nil if absent).
func (a *SmartAccount) AppPermission(app common.Address) *AppPermission { return a.apps[app] }

// AuthorizedApps returns the addresses of all currently authorized apps.
func (a *SmartAccount) AuthorizedApps() []common.Address {
	out := make([]common.Address, 0, len(a.apps))
	for addr, p := range a.apps {
		if p.Authorized {
			out = append(out, addr)
		}
	}
	return out
}

// AddSessionKey registers a session key valid until expiresAt. Owner only.
func (a *SmartAccount) AddSessionKey(caller, key common.Address, expiresAt uint64) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	now := a.now()
	if err := a.sessions.Add(key, expiresAt, now); err != nil {
		return err
	}
	a.events.Append(EventSessionAdded, key, fmt.Sprintf("expires=%d", expiresAt), now)
	return nil
}

// RevokeSessionKey removes a session key and its policy. Owner only.
func (a *SmartAccount) RevokeSessionKey(caller, key common.Address) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	a.sessions.Revoke(key)
	delete(a.sessionPolicies, key)
	a.events.Append(EventSessionRevoked, key, "", a.now())
	return nil
}

// SessionKeyActive reports whether key is a live session key.
func (a *SmartAccount) SessionKeyActive(key common.Address) bool {
	return a.sessions.Active(key, a.now())
}

// RotateKey replaces the owner key. The old key's version is revoked and the
// account nonce advances, invalidating any signed-but-unsubmitted operations.
// Atomic: there is no state in which both keys are valid. Owner only.
func (a *SmartAccount) RotateKey(caller, newKey common.Address) error {
	return a.rotateOwner(caller, newKey, "rotate")
}

// EmergencyKeyRotation is identical in effect to RotateKey but exposed as a
// separate, un-delayed entry point. The owner still controls the account, so
// no timelock applies; contrast with guardian recovery.
func (a *SmartAccount) EmergencyKeyRotation(caller, newKey common.Address) error {
	return a.rotateOwner(caller, newKey, "emergency")
}

func (a *SmartAccount) rotateOwner(caller, newKey common.Address, detail string) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if err := ValidateNonZeroAddress(newKey, "new owner"); err != nil {
		return err
	}
	if newKey == a.owner {
		return ErrSameOwner
	}
	old := a.owner
	a.keys.Rotate(old, newKey)
	a.roles.ReplaceOwner(old, newKey)
	a.owner = newKey
	a.consumeNonce()
	a.events.Append(EventKeyRotated, newKey, detail, a.now())
	return nil
}

// RevokeKey marks an address's current key version revoked without rotating
// the owner field. Owner only.
func (a *SmartAccount) RevokeKey(caller, addr common.Address) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	a.keys.RevokeCurrent(addr)
	a.events.Append(EventKeyRevoked, addr, "", a.now())
	return nil
}

// CleanupNonces prunes used-nonce entries from the given list that sit more
// than NonceCleanupThreshold below the current nonce. Owner only. Returns
// how many entries were removed.
func (a *SmartAccount) CleanupNonces(caller common.Address, nonceList []uint64) (int, error) {
	if err := a.requireOwner(caller); err != nil {
		return 0, err
	}
	removed := 0
	for _, n := range nonceList {
		if !a.usedNonces[n] {
			continue
		}
		if a.nonce > n && a.nonce-n > NonceCleanupThreshold {
			delete(a.usedNonces, n)
			removed++
		}
	}
	if removed > 0 {
		a.events.Append(EventNonceCleanup, caller, fmt.Sprintf("removed=%d", removed), a.now())
	}
	return removed, nil
}

// policyForScope returns the scope-specific policy for a signer, or nil.
func (a *SmartAccount) policyForScope(scope Scope, signer common.Address) *GasPolicy {
	switch scope {
	case ScopeApp:
		return a.appPolicies[signer]
	case ScopeSession:
		return a.sessionPolicies[signer]
	default:
		return nil
	}
}

// checkPolicies runs the gas-policy gates for a prospective spend: the
// account-scope policy always, plus the signer's scope policy when the
// signer is not the owner.
func (a *SmartAccount) checkPolicies(scope Scope, signer common.Address, gasLimit uint64, gasPrice *uint256.Int, now uint64) error {
	if err := a.policy.Check(gasLimit, gasPrice, now); err != nil {
		return err
	}
	if scope != ScopeOwner {
		if err := a.policyForScope(scope, signer).Check(gasLimit, gasPrice, now); err != nil {
			return err
		}
	}
	return nil
}

// recordSpend updates the spending counters post-execution with the actual
// cost, at the account scope and the signer's scope.
func (a *SmartAccount) recordSpend(scope Scope, signer common.Address, actualCost *uint256.Int, now uint64) {
	a.policy.RecordSpend(actualCost, now)
	if scope != ScopeOwner {
		a.policyForScope(scope, signer).RecordSpend(actualCost, now)
	}
	if scope == ScopeApp {
		if p, ok := a.apps[signer]; ok {
			p.RecordSpend(actualCost, now)
		}
	}
}
