package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ticketdesk/internal/allocator"
	"ticketdesk/internal/db"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/engine"
	"ticketdesk/internal/engine/auth"
	"ticketdesk/internal/migrate"
	"ticketdesk/internal/repo"
)

type testEnv struct {
	Engine    engine.Engine
	Allocator *allocator.Allocator
	Ctx       context.Context
	Admin     auth.Identity
	Agent     auth.Identity
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, dialect, nil)
	eng.PasswordCost = bcrypt.MinCost
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	users, err := eng.Seed(ctx, 1, 1, "123")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return testEnv{
		Engine:    eng,
		Allocator: allocator.New(conn, dialect, allocator.Options{}),
		Ctx:       ctx,
		Admin:     auth.Identity{UserID: users[0].ID, Role: users[0].Role},
		Agent:     auth.Identity{UserID: users[1].ID, Role: users[1].Role},
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	again, err := env.Engine.Seed(env.Ctx, 1, 1, "other")
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if len(again) != 2 || again[0].ID != env.Admin.UserID || again[1].ID != env.Agent.UserID {
		t.Fatalf("reseed returned different users: %+v", again)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "admin1", "123"); err != nil {
		t.Fatalf("original password should still work: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.Authenticate(env.Ctx, "agent1", "123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if u.Role != domain.RoleAgent {
		t.Fatalf("expected agent role, got %s", u.Role)
	}
	var authErr domain.AuthenticationError
	if _, err := env.Engine.Authenticate(env.Ctx, "agent1", "nope"); !errors.As(err, &authErr) {
		t.Fatalf("expected authentication error for wrong password, got %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "ghost", "123"); !errors.As(err, &authErr) {
		t.Fatalf("expected authentication error for unknown user, got %v", err)
	}
}

func TestCreateUserRejectsDuplicateAndBadRole(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateUser(env.Ctx, env.Admin, engine.UserCreateOptions{Username: "agent1", Password: "x", Role: domain.RoleAgent})
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err = env.Engine.CreateUser(env.Ctx, env.Admin, engine.UserCreateOptions{Username: "x", Password: "x", Role: "boss"})
	var verr domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "role" {
		t.Fatalf("expected role validation error, got %v", err)
	}
	_, err = env.Engine.CreateUser(env.Ctx, env.Agent, engine.UserCreateOptions{Username: "y", Password: "x", Role: domain.RoleAgent})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("agent must not create users, got %v", err)
	}
}

func TestTicketCRUD(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTicket(env.Ctx, env.Admin, engine.TicketCreateOptions{Title: "Concert"}); err == nil {
		t.Fatalf("description should be required")
	}
	tk, err := env.Engine.CreateTicket(env.Ctx, env.Admin, engine.TicketCreateOptions{Title: "Concert", Description: "Row A"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tk.CreatedBy != env.Admin.UserID {
		t.Fatalf("creator not recorded: %+v", tk)
	}
	title := "Concert (late show)"
	tk, err = env.Engine.UpdateTicket(env.Ctx, env.Admin, tk.ID, engine.TicketUpdateOptions{Title: &title})
	if err != nil || tk.Title != title || tk.Description != "Row A" {
		t.Fatalf("update: %v %+v", err, tk)
	}
	list, err := env.Engine.ListTickets(env.Ctx, env.Admin, repo.TicketFilters{})
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	if err := env.Engine.DeleteTicket(env.Ctx, env.Admin, tk.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var nf domain.NotFoundError
	if _, err := env.Engine.GetTicket(env.Ctx, env.Admin, tk.ID); !errors.As(err, &nf) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := env.Engine.DeleteTicket(env.Ctx, env.Admin, tk.ID); !errors.As(err, &nf) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestAgentCannotManageTickets(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTicket(env.Ctx, env.Agent, engine.TicketCreateOptions{Title: "t", Description: "d"})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.ListTickets(env.Ctx, auth.Identity{}, repo.TicketFilters{}); !errors.As(err, new(domain.AuthenticationError)) {
		t.Fatalf("expected authentication error for anonymous caller, got %v", err)
	}
}

func TestAgentTicketScopedToHolder(t *testing.T) {
	env := newTestEnv(t)
	tk, err := env.Engine.CreateTicket(env.Ctx, env.Admin, engine.TicketCreateOptions{Title: "t", Description: "d"})
	if err != nil {
		t.Fatal(err)
	}
	var nf domain.NotFoundError
	if _, err := env.Engine.AgentTicket(env.Ctx, env.Agent, tk.ID); !errors.As(err, &nf) {
		t.Fatalf("unclaimed ticket must be hidden, got %v", err)
	}
	if _, err := env.Allocator.FetchWorklist(env.Ctx, env.Agent.UserID); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.AgentTicket(env.Ctx, env.Agent, tk.ID)
	if err != nil || got.ID != tk.ID {
		t.Fatalf("held ticket: %v %+v", err, got)
	}
}

func TestCustomerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	var verr domain.ValidationError
	if _, err := env.Engine.CreateCustomer(env.Ctx, env.Admin, engine.CustomerCreateOptions{Name: "Ann", Email: "not-an-email"}); !errors.As(err, &verr) {
		t.Fatalf("expected email validation error, got %v", err)
	}
	c, err := env.Engine.CreateCustomer(env.Ctx, env.Admin, engine.CustomerCreateOptions{Name: "Ann", Email: "ann@example.com"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	var conflict domain.ConflictError
	if _, err := env.Engine.CreateCustomer(env.Ctx, env.Admin, engine.CustomerCreateOptions{Name: "Ann 2", Email: "ann@example.com"}); !errors.As(err, &conflict) {
		t.Fatalf("expected duplicate email conflict, got %v", err)
	}
	name := "Ann Smith"
	c, err = env.Engine.UpdateCustomer(env.Ctx, env.Admin, c.ID, engine.CustomerUpdateOptions{Name: &name})
	if err != nil || c.Name != name {
		t.Fatalf("update customer: %v %+v", err, c)
	}
	list, err := env.Engine.ListCustomers(env.Ctx, env.Agent, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("agent list customers: %v %d", err, len(list))
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.CreateCustomer(env.Ctx, env.Agent, engine.CustomerCreateOptions{Name: "B", Email: "b@example.com"}); !errors.As(err, &forbidden) {
		t.Fatalf("agent must not create customers, got %v", err)
	}
}

func TestDeleteCustomerWithPurchasesIsRefused(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateCustomer(env.Ctx, env.Admin, engine.CustomerCreateOptions{Name: "Ann", Email: "ann@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	tk, err := env.Engine.CreateTicket(env.Ctx, env.Admin, engine.TicketCreateOptions{Title: "t", Description: "d"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Allocator.FetchWorklist(env.Ctx, env.Agent.UserID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Allocator.CompleteSale(env.Ctx, env.Agent.UserID, tk.ID, c.ID); err != nil {
		t.Fatal(err)
	}
	var conflict domain.ConflictError
	if err := env.Engine.DeleteCustomer(env.Ctx, env.Admin, c.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	stats, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Sold != 1 || stats.Assigned != 0 || stats.Unassigned != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestMutationsAppendEvents(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTicket(env.Ctx, env.Admin, engine.TicketCreateOptions{Title: "t", Description: "d"}); err != nil {
		t.Fatal(err)
	}
	evs, err := env.Engine.LatestEvents(env.Ctx, repo.EventFilters{EntityKind: "ticket"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != "ticket.created" || evs[0].ActorID != env.Admin.UserID {
		t.Fatalf("unexpected events %+v", evs)
	}
}
