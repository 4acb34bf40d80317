package account

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// FormatAccountStatus formats the account's current state for display.
func FormatAccountStatus(a *SmartAccount) string {
	var sb strings.Builder

	sb.WriteString("\n--- Smart Account Status ---\n\n")
	sb.WriteString(fmt.Sprintf("Address: %s\n", a.Address().Hex()))
	sb.WriteString(fmt.Sprintf("Owner: %s\n", a.Owner().Hex()))
	sb.WriteString(fmt.Sprintf("Nonce: %d\n", a.Nonce()))
	sb.WriteString(fmt.Sprintf("Owner Key Version: %d\n", a.KeyVersion(a.Owner())))
	sb.WriteString(fmt.Sprintf("Locked: %v\n", a.Locked()))
	sb.WriteString(fmt.Sprintf("Paused: %v\n", a.Paused()))

	if a.Guardian() != (common.Address{}) {
		sb.WriteString(fmt.Sprintf("Guardian: %s\n", a.Guardian().Hex()))
		sb.WriteString(fmt.Sprintf("Recovery Delay: %ds\n", a.RecoveryDelay()))
	}
	if req := a.PendingRecovery(); req != nil {
		sb.WriteString(fmt.Sprintf("Pending Recovery: new owner %s requested at %d\n",
			req.NewOwner.Hex(), req.RequestedAt))
	}

	apps := a.AuthorizedApps()
	if len(apps) > 0 {
		sb.WriteString("\nAuthorized Apps:\n")
		for _, app := range apps {
			sb.WriteString(fmt.Sprintf("  - %s\n", app.Hex()))
		}
	}

	return sb.String()
}

// FormatReceipt formats an operation receipt for display.
func FormatReceipt(r *OperationReceipt) string {
	var sb strings.Builder

	sb.WriteString("\n--- Operation Receipt ---\n\n")
	sb.WriteString(fmt.Sprintf("Op Hash: %s\n", r.OpHash.Hex()))
	sb.WriteString(fmt.Sprintf("State: %s\n", r.State))
	if r.Reason != ReasonNone {
		sb.WriteString(fmt.Sprintf("Reject Reason: %s\n", r.Reason))
	}
	if r.Err != nil {
		sb.WriteString(fmt.Sprintf("Error: %v\n", r.Err))
	}
	if r.State == StateExecuted {
		sb.WriteString(fmt.Sprintf("Success: %v\n", r.Success))
		sb.WriteString(fmt.Sprintf("Gas Used: %d\n", r.ActualGasUsed))
		if r.ActualGasCost != nil {
			sb.WriteString(fmt.Sprintf("Gas Cost: %s wei\n", r.ActualGasCost))
		}
	}
	sb.WriteString(fmt.Sprintf("Nonce After: %d\n", r.NonceAfter))

	return sb.String()
}

// FormatEvents formats the security event log for display.
func FormatEvents(events []SecurityEvent) string {
	var sb strings.Builder

	sb.WriteString("\n--- Security Events ---\n\n")
	if len(events) == 0 {
		sb.WriteString("  (none)\n")
		return sb.String()
	}
	for i, ev := range events {
		sb.WriteString(fmt.Sprintf("[%d] [%s] signer=%s t=%d\n", i+1, ev.Kind, ev.Signer.Hex(), ev.Timestamp))
		if ev.Details != "" {
			sb.WriteString(fmt.Sprintf("    %s\n", ev.Details))
		}
	}

	return sb.String()
}
