package account

import "github.com/ethereum/go-ethereum/common"

// KeyRegistry tracks per-address key versions and per-version revocations.
// Rotating a key revokes the old version and bumps the new holder's version
// in one step, so a restored old key can never validate again.
type KeyRegistry struct {
	versions map[common.Address]uint64
	revoked  map[common.Address]map[uint64]bool
}

// NewKeyRegistry creates an empty registry. All addresses start at version 0.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{
		versions: make(map[common.Address]uint64),
		revoked:  make(map[common.Address]map[uint64]bool),
	}
}

// Version returns the current key version for addr (0 if never rotated).
func (kr *KeyRegistry) Version(addr common.Address) uint64 {
	return kr.versions[addr]
}

// Revoked reports whether addr's current key version is revoked.
func (kr *KeyRegistry) Revoked(addr common.Address) bool {
	return kr.revoked[addr][kr.versions[addr]]
}

// RevokeVersion marks (addr, version) as revoked. Write-once.
func (kr *KeyRegistry) RevokeVersion(addr common.Address, version uint64) {
	if kr.revoked[addr] == nil {
		kr.revoked[addr] = make(map[uint64]bool)
	}
	kr.revoked[addr][version] = true
}

// RevokeCurrent revokes addr's current key version.
func (kr *KeyRegistry) RevokeCurrent(addr common.Address) {
	kr.RevokeVersion(addr, kr.versions[addr])
}

// Rotate revokes old's current version and installs new at version+1.
// The two effects are a single step: there is no state in which both keys
// are simultaneously valid.
func (kr *KeyRegistry) Rotate(old, new common.Address) {
	oldVersion := kr.versions[old]
	kr.RevokeVersion(old, oldVersion)
	kr.versions[new] = oldVersion + 1
}
