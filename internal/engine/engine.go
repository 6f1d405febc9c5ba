package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketdesk/internal/db"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/engine/auth"
	"ticketdesk/internal/events"
	"ticketdesk/internal/repo"
)

// Engine implements the ticket, customer and user bookkeeping around the
// allocator. Every mutation runs in a transaction that also appends an event.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Logger *slog.Logger
	Now    func() time.Time
	// PasswordCost is the bcrypt cost; zero means the library default.
	PasswordCost int
}

func New(conn *sql.DB, dialect db.Dialect, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Events: events.Writer{Dialect: dialect},
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// --- users ---

type UserCreateOptions struct {
	Username string
	Password string
	Name     string
	Role     domain.Role
}

func (e Engine) CreateUser(ctx context.Context, actor auth.Identity, opts UserCreateOptions) (domain.User, error) {
	if err := auth.Require(actor, auth.CapManageUsers); err != nil {
		return domain.User{}, err
	}
	opts.Username = strings.TrimSpace(opts.Username)
	if opts.Username == "" {
		return domain.User{}, domain.ValidationError{Field: "username", Reason: "is required"}
	}
	if opts.Password == "" {
		return domain.User{}, domain.ValidationError{Field: "password", Reason: "is required"}
	}
	if !opts.Role.Valid() {
		return domain.User{}, domain.ValidationError{Field: "role", Reason: fmt.Sprintf("must be %s or %s", domain.RoleAdmin, domain.RoleAgent)}
	}
	hash, err := auth.HashPassword(opts.Password, e.PasswordCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := e.now()
	u := domain.User{
		ID:           newID(),
		Username:     opts.Username,
		Name:         opts.Name,
		Role:         opts.Role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.User{}, domain.ConflictError{Resource: "user", Reason: "username already taken"}
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.created", "user", u.ID, actor.UserID, events.EventPayload{"username": u.Username, "role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords fail the same way.
func (e Engine) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	if username == "" || password == "" {
		return domain.User{}, domain.ValidationError{Reason: "username and password required"}
	}
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, domain.AuthenticationError{Reason: "invalid credentials"}
	}
	if err != nil {
		return domain.User{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return domain.User{}, domain.AuthenticationError{Reason: "invalid credentials"}
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	return u, notFound(err, "user")
}

func (e Engine) ListUsers(ctx context.Context, actor auth.Identity, role domain.Role) ([]domain.User, error) {
	if err := auth.Require(actor, auth.CapManageUsers); err != nil {
		return nil, err
	}
	return e.Repo.ListUsers(ctx, role)
}

// Seed creates admin1..adminN and agent1..agentN with the given password.
// Existing usernames are left untouched and returned as they are.
func (e Engine) Seed(ctx context.Context, admins, agents int, password string) ([]domain.User, error) {
	var out []domain.User
	add := func(prefix, label string, n int, role domain.Role) error {
		for i := 1; i <= n; i++ {
			username := fmt.Sprintf("%s%d", prefix, i)
			u, err := e.CreateUser(ctx, auth.System, UserCreateOptions{
				Username: username,
				Password: password,
				Name:     fmt.Sprintf("%s %d", label, i),
				Role:     role,
			})
			var conflict domain.ConflictError
			if errors.As(err, &conflict) {
				u, err = e.Repo.GetUserByUsername(ctx, username)
			}
			if err != nil {
				return fmt.Errorf("seed %s: %w", username, err)
			}
			out = append(out, u)
		}
		return nil
	}
	if err := add("admin", "Admin", admins, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if err := add("agent", "Agent", agents, domain.RoleAgent); err != nil {
		return nil, err
	}
	e.Logger.Info("seeded users", "admins", admins, "agents", agents)
	return out, nil
}

// --- tickets ---

type TicketCreateOptions struct {
	Title       string
	Description string
}

func (e Engine) CreateTicket(ctx context.Context, actor auth.Identity, opts TicketCreateOptions) (domain.Ticket, error) {
	if err := auth.Require(actor, auth.CapManageTickets); err != nil {
		return domain.Ticket{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Ticket{}, domain.ValidationError{Field: "title", Reason: "is required"}
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Ticket{}, domain.ValidationError{Field: "description", Reason: "is required"}
	}
	now := e.now()
	t := domain.Ticket{
		ID:          newID(),
		Title:       opts.Title,
		Description: opts.Description,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTicket(ctx, tx, t); err != nil {
		return domain.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "ticket.created", "ticket", t.ID, actor.UserID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

func (e Engine) ListTickets(ctx context.Context, actor auth.Identity, f repo.TicketFilters) ([]domain.Ticket, error) {
	if err := auth.Require(actor, auth.CapManageTickets); err != nil {
		return nil, err
	}
	return e.Repo.ListTickets(ctx, f)
}

func (e Engine) GetTicket(ctx context.Context, actor auth.Identity, id string) (domain.Ticket, error) {
	if err := auth.Require(actor, auth.CapManageTickets); err != nil {
		return domain.Ticket{}, err
	}
	t, err := e.Repo.GetTicket(ctx, id)
	return t, notFound(err, "ticket")
}

// AgentTicket returns a ticket only while the calling agent holds it.
func (e Engine) AgentTicket(ctx context.Context, actor auth.Identity, id string) (domain.TicketSummary, error) {
	if err := auth.Require(actor, auth.CapWorkTickets); err != nil {
		return domain.TicketSummary{}, err
	}
	t, err := e.Repo.GetAssignedTicket(ctx, id, actor.UserID)
	if err != nil {
		return domain.TicketSummary{}, notFound(err, "ticket")
	}
	return t.Summary(), nil
}

type TicketUpdateOptions struct {
	Title       *string
	Description *string
}

func (e Engine) UpdateTicket(ctx context.Context, actor auth.Identity, id string, opts TicketUpdateOptions) (domain.Ticket, error) {
	if err := auth.Require(actor, auth.CapManageTickets); err != nil {
		return domain.Ticket{}, err
	}
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return domain.Ticket{}, domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.Description != nil && strings.TrimSpace(*opts.Description) == "" {
		return domain.Ticket{}, domain.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTicketText(ctx, tx, id, opts.Title, opts.Description, e.now()); err != nil {
		return domain.Ticket{}, notFound(err, "ticket")
	}
	payload := events.EventPayload{}
	if opts.Title != nil {
		payload["title"] = *opts.Title
	}
	if err := e.Events.Append(ctx, tx, "ticket.updated", "ticket", id, actor.UserID, payload); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Ticket{}, err
	}
	t, err := e.Repo.GetTicket(ctx, id)
	return t, notFound(err, "ticket")
}

func (e Engine) DeleteTicket(ctx context.Context, actor auth.Identity, id string) error {
	if err := auth.Require(actor, auth.CapManageTickets); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteTicket(ctx, tx, id); err != nil {
		return notFound(err, "ticket")
	}
	if err := e.Events.Append(ctx, tx, "ticket.deleted", "ticket", id, actor.UserID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- customers ---

type CustomerCreateOptions struct {
	Name  string
	Email string
}

func validateCustomer(name, email string) error {
	if strings.TrimSpace(name) == "" {
		return domain.ValidationError{Field: "name", Reason: "is required"}
	}
	if email == "" {
		return domain.ValidationError{Field: "email", Reason: "is required"}
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return domain.ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	return nil
}

func (e Engine) CreateCustomer(ctx context.Context, actor auth.Identity, opts CustomerCreateOptions) (domain.Customer, error) {
	if err := auth.Require(actor, auth.CapManageCustomers); err != nil {
		return domain.Customer{}, err
	}
	opts.Email = strings.TrimSpace(opts.Email)
	if err := validateCustomer(opts.Name, opts.Email); err != nil {
		return domain.Customer{}, err
	}
	now := e.now()
	c := domain.Customer{ID: newID(), Name: opts.Name, Email: opts.Email, CreatedAt: now, UpdatedAt: now}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Customer{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCustomer(ctx, tx, c); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Customer{}, domain.ConflictError{Resource: "customer", Reason: "email already registered"}
		}
		return domain.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "customer.created", "customer", c.ID, actor.UserID, events.EventPayload{"email": c.Email}); err != nil {
		return domain.Customer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Customer{}, err
	}
	return c, nil
}

func (e Engine) ListCustomers(ctx context.Context, actor auth.Identity, limit int) ([]domain.Customer, error) {
	if err := auth.Require(actor, auth.CapReadCustomers); err != nil {
		return nil, err
	}
	return e.Repo.ListCustomers(ctx, limit)
}

func (e Engine) GetCustomer(ctx context.Context, actor auth.Identity, id string) (domain.Customer, error) {
	if err := auth.Require(actor, auth.CapReadCustomers); err != nil {
		return domain.Customer{}, err
	}
	c, err := e.Repo.GetCustomer(ctx, id)
	return c, notFound(err, "customer")
}

type CustomerUpdateOptions struct {
	Name  *string
	Email *string
}

func (e Engine) UpdateCustomer(ctx context.Context, actor auth.Identity, id string, opts CustomerUpdateOptions) (domain.Customer, error) {
	if err := auth.Require(actor, auth.CapManageCustomers); err != nil {
		return domain.Customer{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Customer{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCustomerTx(ctx, tx, id)
	if err != nil {
		return domain.Customer{}, notFound(err, "customer")
	}
	if opts.Name != nil {
		c.Name = *opts.Name
	}
	if opts.Email != nil {
		c.Email = strings.TrimSpace(*opts.Email)
	}
	if err := validateCustomer(c.Name, c.Email); err != nil {
		return domain.Customer{}, err
	}
	c.UpdatedAt = e.now()
	if err := e.Repo.UpdateCustomer(ctx, tx, c); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Customer{}, domain.ConflictError{Resource: "customer", Reason: "email already registered"}
		}
		return domain.Customer{}, notFound(err, "customer")
	}
	if err := e.Events.Append(ctx, tx, "customer.updated", "customer", c.ID, actor.UserID, events.EventPayload{"email": c.Email}); err != nil {
		return domain.Customer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Customer{}, err
	}
	return c, nil
}

// DeleteCustomer refuses to remove a customer who bought tickets; a sale's
// buyer reference is never cleared.
func (e Engine) DeleteCustomer(ctx context.Context, actor auth.Identity, id string) error {
	if err := auth.Require(actor, auth.CapManageCustomers); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n, err := e.Repo.CountTicketsSoldTo(ctx, tx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.ConflictError{Resource: "customer", Reason: fmt.Sprintf("has %d purchased tickets", n)}
	}
	if err := e.Repo.DeleteCustomer(ctx, tx, id); err != nil {
		if repo.IsForeignKeyViolation(err) {
			return domain.ConflictError{Resource: "customer", Reason: "has purchased tickets"}
		}
		return notFound(err, "customer")
	}
	if err := e.Events.Append(ctx, tx, "customer.deleted", "customer", id, actor.UserID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- events & status ---

func (e Engine) LatestEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

type Stats struct {
	Tickets    int `json:"tickets"`
	Assigned   int `json:"assigned"`
	Sold       int `json:"sold"`
	Unassigned int `json:"unassigned"`
}

func (e Engine) Stats(ctx context.Context) (Stats, error) {
	total, assigned, sold, err := e.Repo.CountTickets(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Tickets: total, Assigned: assigned, Sold: sold, Unassigned: total - assigned - sold}, nil
}

// --- helpers ---

func notFound(err error, resource string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Resource: resource}
	}
	return err
}
