package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"

	"github.com/stable-net/smart-account/account"
)

// Server wires a smart account to HTTP handlers. Guardian requests are
// replay-protected with a per-guardian strictly increasing request nonce.
type Server struct {
	account  *account.SmartAccount
	executor account.CallExecutor
	nonces   *account.NonceTracker
}

// NewServer creates a server for the given account and call executor.
func NewServer(acct *account.SmartAccount, executor account.CallExecutor) *Server {
	return &Server{
		account:  acct,
		executor: executor,
		nonces:   account.NewNonceTracker(),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/account", s.handleAccountStatus).Methods("GET")
	r.HandleFunc("/events", s.handleEvents).Methods("GET")
	r.HandleFunc("/recovery", s.handleRecoveryStatus).Methods("GET")
	r.HandleFunc("/recovery/initiate", s.handleInitiateRecovery).Methods("POST")
	r.HandleFunc("/recovery/complete", s.handleCompleteRecovery).Methods("POST")
	r.HandleFunc("/operations", s.handleSubmitOperation).Methods("POST")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK\n"))
}

func (s *Server) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	apps := s.account.AuthorizedApps()
	appsHex := make([]string, 0, len(apps))
	for _, a := range apps {
		appsHex = append(appsHex, a.Hex())
	}
	resp := AccountStatusResponse{
		Address:         s.account.Address().Hex(),
		Owner:           s.account.Owner().Hex(),
		Nonce:           s.account.Nonce(),
		OwnerKeyVersion: s.account.KeyVersion(s.account.Owner()),
		Locked:          s.account.Locked(),
		Paused:          s.account.Paused(),
		AuthorizedApps:  appsHex,
	}
	if s.account.Guardian() != (common.Address{}) {
		resp.Guardian = s.account.Guardian().Hex()
		resp.RecoveryDelay = s.account.RecoveryDelay()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.account.Events().Events()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		events = s.account.Events().ByKind(account.EventKind(kind))
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	resp := RecoveryStatusResponse{}
	if req := s.account.PendingRecovery(); req != nil {
		resp.Pending = true
		resp.NewOwner = req.NewOwner.Hex()
		resp.RequestedAt = req.RequestedAt
		resp.CompletableAt = req.RequestedAt + s.account.RecoveryDelay()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInitiateRecovery(w http.ResponseWriter, r *http.Request) {
	guardian, newOwner, ok := s.decodeRecoveryRequest(w, r)
	if !ok {
		return
	}
	if err := s.account.InitiateRecovery(guardian, newOwner); err != nil {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recovery_initiated"})
}

func (s *Server) handleCompleteRecovery(w http.ResponseWriter, r *http.Request) {
	guardian, newOwner, ok := s.decodeRecoveryRequest(w, r)
	if !ok {
		return
	}
	if err := s.account.CompleteRecovery(guardian, newOwner); err != nil {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recovery_completed"})
}

// decodeRecoveryRequest parses and replay-checks a guardian request.
func (s *Server) decodeRecoveryRequest(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"})
		return common.Address{}, common.Address{}, false
	}
	if !common.IsHexAddress(req.Guardian) || !common.IsHexAddress(req.NewOwner) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid address"})
		return common.Address{}, common.Address{}, false
	}
	guardian := common.HexToAddress(req.Guardian)
	if err := s.nonces.Use(guardian, req.RequestNonce); err != nil {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "request nonce already used"})
		return common.Address{}, common.Address{}, false
	}
	return guardian, common.HexToAddress(req.NewOwner), true
}

func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SubmitOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"})
		return
	}
	if !common.IsHexAddress(req.Signer) || !common.IsHexAddress(req.Sender) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid address"})
		return
	}

	op := &account.UserOperation{
		Sender:               common.HexToAddress(req.Sender),
		Nonce:                new(big.Int).SetUint64(req.Nonce),
		InitCode:             decodeHex(req.InitCode),
		CallData:             decodeHex(req.CallData),
		CallGasLimit:         req.CallGasLimit,
		VerificationGasLimit: req.VerificationGasLimit,
		PreVerificationGas:   req.PreVerificationGas,
		MaxFeePerGas:         decodeBig(req.MaxFeePerGas),
		MaxPriorityFeePerGas: decodeBig(req.MaxPriorityFeePerGas),
		PaymasterAndData:     decodeHex(req.PaymasterAndData),
		Signature:            decodeHex(req.Signature),
	}

	receipt := s.account.HandleOperation(common.HexToAddress(req.Signer), op, s.executor)
	resp := SubmitOperationResponse{
		OpHash:     receipt.OpHash.Hex(),
		State:      string(receipt.State),
		Reason:     string(receipt.Reason),
		Success:    receipt.Success,
		GasUsed:    receipt.ActualGasUsed,
		NonceAfter: receipt.NonceAfter,
	}
	if receipt.Err != nil {
		resp.Error = receipt.Err.Error()
	}
	status := http.StatusOK
	if receipt.State == account.StateRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeHex(s string) []byte {
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil
	}
	return b
}

func decodeBig(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	// base 0 accepts both decimal and 0x-prefixed hex
	if v, ok := new(big.Int).SetString(s, 0); ok {
		return v
	}
	return new(big.Int)
}
