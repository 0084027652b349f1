// Package registry maps a logical user+role to its chain-specific
// custodial wallets and linked external addresses, persisted to flat
// JSON storage.
package registry

import (
	"fmt"
	"time"
)

// Roles a user-role account can hold.
const (
	RoleIssuer   = "issuer"
	RoleInvestor = "investor"
	RoleAdmin    = "admin"
)

// Account states.
const (
	StateLive   = "LIVE"
	StateFrozen = "FROZEN"
)

// ChainWallet is one custodial wallet handle per (user, role, chain)
// triple. Created lazily on first need, never deleted; the address is
// immutable once derived. The wallet id may be shared across chains for
// EOA-style wallets.
type ChainWallet struct {
	WalletID string `json:"walletId"`
	Address  string `json:"address"`
}

// UserWallet is the aggregate root: one per (userId, role) pair.
type UserWallet struct {
	UserID          string                 `json:"userId"`
	Role            string                 `json:"role"`
	ChainWallets    map[string]ChainWallet `json:"chainWallets"`
	ExternalWallets []string               `json:"externalWallets,omitempty"`
	State           string                 `json:"state"`
	CreatedAt       time.Time              `json:"createdAt"`
	LastLogin       *time.Time             `json:"lastLogin,omitempty"`
}

// Key identifies the aggregate in the store.
func (w *UserWallet) Key() string {
	return walletKey(w.UserID, w.Role)
}

func walletKey(userID, role string) string {
	return userID + "/" + role
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleIssuer, RoleInvestor, RoleAdmin:
		return true
	default:
		return false
	}
}

// ConflictError signals a registry inconsistency, e.g. an external
// address already claimed by a different user-role. Surfaced
// immediately, never retried, and no mutation is performed.
type ConflictError struct {
	Address string
	OwnerID string
	Role    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("address %s is already linked to user %s (role %s)", e.Address, e.OwnerID, e.Role)
}
