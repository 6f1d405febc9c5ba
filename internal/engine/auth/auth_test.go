package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ticketdesk/internal/domain"
)

func TestRequire(t *testing.T) {
	admin := Identity{UserID: "u-1", Role: domain.RoleAdmin}
	agent := Identity{UserID: "u-2", Role: domain.RoleAgent}

	cases := []struct {
		name string
		id   Identity
		cap  Capability
		want error
	}{
		{"admin manages tickets", admin, CapManageTickets, nil},
		{"agent works tickets", agent, CapWorkTickets, nil},
		{"agent reads customers", agent, CapReadCustomers, nil},
		{"agent cannot create tickets", agent, CapManageTickets, ForbiddenError{Capability: CapManageTickets}},
		{"admin has no worklist", admin, CapWorkTickets, ForbiddenError{Capability: CapWorkTickets}},
		{"anonymous", Identity{}, CapReadCustomers, domain.AuthenticationError{}},
		{"unknown role", Identity{UserID: "u-3", Role: "guest"}, CapReadCustomers, domain.AuthenticationError{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Require(tc.id, tc.cap))
		})
	}
}

func TestCapabilitiesReturnsCopy(t *testing.T) {
	caps := Capabilities(domain.RoleAgent)
	caps[0] = "mutated"
	assert.True(t, Identity{UserID: "u", Role: domain.RoleAgent}.Can(CapWorkTickets))
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
