package account

import "github.com/ethereum/go-ethereum/common"

// signerWindow tracks signature counts for one signer within a fixed window.
type signerWindow struct {
	count             uint64
	windowStart       uint64
	lastSignatureTime uint64
}

// RateLimiter enforces a per-signer signature budget over a fixed-size window.
// The window resets lazily on the first check after expiry; no timers run.
type RateLimiter struct {
	window  uint64 // window size in seconds
	max     uint64 // max signatures per window
	signers map[common.Address]*signerWindow
}

// NewRateLimiter creates a rate limiter with the given window (seconds) and
// per-window signature budget.
func NewRateLimiter(window, max uint64) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		signers: make(map[common.Address]*signerWindow),
	}
}

// Allow reports whether the signer may issue one more signature at time now.
// Read-only: the window is evaluated as if lazily reset but nothing mutates.
func (rl *RateLimiter) Allow(signer common.Address, now uint64) bool {
	return rl.effectiveCount(signer, now) < rl.max
}

// Remaining returns how many signatures the signer has left in the window.
func (rl *RateLimiter) Remaining(signer common.Address, now uint64) uint64 {
	used := rl.effectiveCount(signer, now)
	if used >= rl.max {
		return 0
	}
	return rl.max - used
}

// Record commits one signature for the signer. Callers must have passed Allow
// on the same timestamp; Record performs the lazy window reset for real.
func (rl *RateLimiter) Record(signer common.Address, now uint64) {
	w, ok := rl.signers[signer]
	if !ok {
		rl.signers[signer] = &signerWindow{count: 1, windowStart: now, lastSignatureTime: now}
		return
	}
	if now-w.lastSignatureTime > rl.window {
		w.count = 1
		w.windowStart = now
	} else {
		w.count++
	}
	w.lastSignatureTime = now
}

// effectiveCount returns the count after a hypothetical lazy reset.
func (rl *RateLimiter) effectiveCount(signer common.Address, now uint64) uint64 {
	w, ok := rl.signers[signer]
	if !ok {
		return 0
	}
	if now-w.lastSignatureTime > rl.window {
		return 0
	}
	return w.count
}
