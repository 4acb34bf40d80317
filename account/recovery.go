package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SetRecovery configures the recovery guardian and delay. Owner only.
// The delay is bounded to [1 day, 30 days]: it must leave the true owner a
// contest window without stretching the attacker's window unboundedly.
func (a *SmartAccount) SetRecovery(caller, guardian common.Address, delay uint64) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if err := ValidateNonZeroAddress(guardian, "guardian"); err != nil {
		return err
	}
	if guardian == a.owner {
		return fmt.Errorf("%w: guardian must differ from owner", ErrOutOfRange)
	}
	if delay < MinRecoveryDelay || delay > MaxRecoveryDelay {
		return ErrRecoveryDelayBounds
	}
	a.recovery = guardian
	a.recoveryDelay = delay
	return nil
}

// InitiateRecovery starts the owner-replacement timelock. Guardian only.
func (a *SmartAccount) InitiateRecovery(caller, newOwner common.Address) error {
	if a.recovery == (common.Address{}) {
		return ErrRecoveryNotConfigured
	}
	if caller != a.recovery {
		return ErrNotGuardian
	}
	if err := ValidateNonZeroAddress(newOwner, "new owner"); err != nil {
		return err
	}
	if newOwner == a.owner {
		return ErrSameOwner
	}
	if a.pendingRecovery != nil {
		return ErrRecoveryPending
	}
	now := a.now()
	a.pendingRecovery = &RecoveryRequest{NewOwner: newOwner, RequestedAt: now}
	a.events.Append(EventRecoveryInitiated, newOwner, fmt.Sprintf("guardian=%s", caller.Hex()), now)
	return nil
}

// CancelRecovery discards a pending recovery request. Owner or guardian;
// the owner uses this to contest a hostile recovery during the delay.
func (a *SmartAccount) CancelRecovery(caller common.Address) error {
	if caller != a.owner && caller != a.recovery {
		return ErrNotGuardian
	}
	if a.pendingRecovery == nil {
		return ErrNoRecoveryRequest
	}
	a.pendingRecovery = nil
	return nil
}

// CompleteRecovery finalizes a pending request after the delay has elapsed.
// Guardian only. On success the owner is replaced, the nonce advances to
// invalidate pending operations, the request is cleared, and every app
// authorization is revoked: a recovered account must not inherit trust
// relationships granted by a potentially-compromised prior owner.
func (a *SmartAccount) CompleteRecovery(caller, newOwner common.Address) error {
	if a.recovery == (common.Address{}) {
		return ErrRecoveryNotConfigured
	}
	if caller != a.recovery {
		return ErrNotGuardian
	}
	if a.pendingRecovery == nil || a.pendingRecovery.NewOwner != newOwner {
		return ErrNoRecoveryRequest
	}
	now := a.now()
	if now < a.pendingRecovery.RequestedAt+a.recoveryDelay {
		return ErrRecoveryDelayActive
	}

	old := a.owner
	a.keys.Rotate(old, newOwner)
	a.roles.ReplaceOwner(old, newOwner)
	a.owner = newOwner
	a.consumeNonce()
	a.pendingRecovery = nil

	// Security sweep: drop every app trust relationship.
	for app := range a.apps {
		delete(a.apps, app)
		delete(a.appPolicies, app)
		a.events.Append(EventAppRevoked, app, "recovery sweep", now)
	}

	a.events.Append(EventRecoveryCompleted, newOwner, fmt.Sprintf("previous=%s", old.Hex()), now)
	return nil
}
