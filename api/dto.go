// Package api exposes a local guardian and inspection HTTP service for a
// smart account: status, security events, recovery flow and operation
// submission.
package api

// AccountStatusResponse describes the account's current state.
type AccountStatusResponse struct {
	Address         string   `json:"address"`
	Owner           string   `json:"owner"`
	Nonce           uint64   `json:"nonce"`
	OwnerKeyVersion uint64   `json:"ownerKeyVersion"`
	Locked          bool     `json:"locked"`
	Paused          bool     `json:"paused"`
	Guardian        string   `json:"guardian,omitempty"`
	RecoveryDelay   uint64   `json:"recoveryDelay,omitempty"`
	AuthorizedApps  []string `json:"authorizedApps"`
}

// RecoveryStatusResponse describes a pending recovery request.
type RecoveryStatusResponse struct {
	Pending       bool   `json:"pending"`
	NewOwner      string `json:"newOwner,omitempty"`
	RequestedAt   uint64 `json:"requestedAt,omitempty"`
	CompletableAt uint64 `json:"completableAt,omitempty"`
}

// RecoveryRequest is the body for initiate/complete recovery calls. The
// guardian authenticates with its address and a strictly increasing request
// nonce; replayed or out-of-order requests are rejected.
type RecoveryRequest struct {
	Guardian     string `json:"guardian"`
	NewOwner     string `json:"newOwner"`
	RequestNonce uint64 `json:"requestNonce"`
}

// SubmitOperationRequest carries a signed operation. Byte fields are 0x-hex.
type SubmitOperationRequest struct {
	Signer               string `json:"signer"`
	Sender               string `json:"sender"`
	Nonce                uint64 `json:"nonce"`
	InitCode             string `json:"initCode"`
	CallData             string `json:"callData"`
	CallGasLimit         uint64 `json:"callGasLimit"`
	VerificationGasLimit uint64 `json:"verificationGasLimit"`
	PreVerificationGas   uint64 `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	PaymasterAndData     string `json:"paymasterAndData"`
	Signature            string `json:"signature"`
}

// SubmitOperationResponse reports the operation outcome.
type SubmitOperationResponse struct {
	OpHash     string `json:"opHash"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	Success    bool   `json:"success"`
	GasUsed    uint64 `json:"gasUsed"`
	NonceAfter uint64 `json:"nonceAfter"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
