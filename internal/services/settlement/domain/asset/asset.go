// Package asset defines the opaque value types moved by the settlement core.
//
// An Asset is a unique, indivisible handle whose ownership lives in the
// transfer gateway's ledger. Fungible value (bid funds, futures payments) is
// expressed as plain unit amounts against ledger balances.
package asset

import "strings"

// Asset is an opaque handle to a unique asset tracked by the ledger.
type Asset struct {
	ID string
}

// IsZero reports whether the handle is empty or malformed.
func (a Asset) IsZero() bool {
	return strings.TrimSpace(a.ID) == ""
}

// Held is a consumable slot for an escrowed asset. It either holds exactly
// one asset or is empty after the single release; the two states are mutually
// exclusive and the slot never refills.
type Held struct {
	asset   Asset
	present bool
}

// Holding returns a slot holding the given asset.
func Holding(a Asset) Held {
	return Held{asset: a, present: true}
}

// Present reports whether the slot still holds its asset.
func (h Held) Present() bool {
	return h.present
}

// Peek returns the held asset without consuming it.
func (h Held) Peek() (Asset, bool) {
	return h.asset, h.present
}

// Take empties the slot and returns the asset it held. A second Take reports
// false: release happens at most once.
func (h *Held) Take() (Asset, bool) {
	if h == nil || !h.present {
		return Asset{}, false
	}
	taken := h.asset
	h.asset = Asset{}
	h.present = false
	return taken, true
}
