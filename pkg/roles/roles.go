// Package roles implements the role registry: a mapping from 32-byte role
// tags to the principals holding them, with an admin-role indirection. Each
// role has a designated admin role whose holders may grant or revoke it.
package roles

import (
	"encoding/hex"

	"github.com/bridgelock/escrow/pkg/contracts"
)

// Role is a fixed-size opaque role tag.
type Role [32]byte

// RoleTag derives a role tag from a name, the same way the token contracts
// derive theirs: the Keccak-256 digest of the name.
func RoleTag(name string) Role {
	return Role(contracts.Keccak256([]byte(name)))
}

// The roles the escrow deployment knows about. MinterRole gates mint,
// MinterAdminRole administers MinterRole, OperatorRole may cancel transfers
// and adjust pool custody. OperatorRole administers itself.
var (
	MinterRole      = RoleTag("MINTER_ROLE")
	MinterAdminRole = RoleTag("MINTER_ADMIN_ROLE")
	OperatorRole    = RoleTag("OPERATOR_ROLE")
)

func (r Role) String() string { return hex.EncodeToString(r[:]) }

// ParseRole decodes a 64-character hex string into a Role.
func ParseRole(s string) (Role, error) {
	var r Role
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(r) {
		return r, contracts.ErrInvalidParameters
	}
	copy(r[:], raw)
	return r, nil
}

// Grant is one (role, principal, adminRole) initialization triple.
type Grant struct {
	Role      Role
	Principal contracts.Principal
	AdminRole Role
}
