// Package auth holds the caller identity and the per-role capability policy.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"ticketdesk/internal/domain"
)

type Capability string

const (
	// CapManageTickets covers creating, editing and deleting tickets.
	CapManageTickets   Capability = "tickets.manage"
	CapWorkTickets     Capability = "tickets.work"
	CapManageCustomers Capability = "customers.manage"
	CapReadCustomers   Capability = "customers.read"
	CapManageUsers     Capability = "users.manage"
)

var roleCapabilities = map[domain.Role][]Capability{
	domain.RoleAdmin: {CapManageTickets, CapManageCustomers, CapReadCustomers, CapManageUsers},
	domain.RoleAgent: {CapWorkTickets, CapReadCustomers},
}

// Capabilities returns what a role may do.
func Capabilities(role domain.Role) []Capability {
	return append([]Capability(nil), roleCapabilities[role]...)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   domain.Role
}

// System is the identity used by local tooling such as the CLI and seeding.
var System = Identity{UserID: "system", Role: domain.RoleAdmin}

func (i Identity) Anonymous() bool {
	return i.UserID == "" || !i.Role.Valid()
}

func (i Identity) Can(c Capability) bool {
	for _, have := range roleCapabilities[i.Role] {
		if have == c {
			return true
		}
	}
	return false
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Capability Capability
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Capability)
}

// Require fails with AuthenticationError for an anonymous identity and with
// ForbiddenError when the role lacks the capability.
func Require(id Identity, c Capability) error {
	if id.Anonymous() {
		return domain.AuthenticationError{}
	}
	if !id.Can(c) {
		return ForbiddenError{Capability: c}
	}
	return nil
}

func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
