package server

import (
	"time"

	"ticketdesk/internal/domain"
	"ticketdesk/internal/engine"
)

// envelope is the success body shape shared by every data endpoint.
type envelope[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type output[T any] struct {
	Body envelope[T] `json:"body"`
}

func reply[T any](data T, message string) *output[T] {
	return &output[T]{Body: envelope[T]{Data: data, Message: message}}
}

// Request payloads

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateTicketRequest struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type UpdateTicketRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateCustomerRequest struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type UpdateCustomerRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type SellRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Role         string    `json:"role" enum:"admin,support-agent"`
	Capabilities []string  `json:"capabilities"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// TicketResponse is the admin view of a ticket.
type TicketResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status" enum:"unassigned,assigned,sold"`
	CreatedBy   string    `json:"created_by"`
	AssigneeID  *string   `json:"assignee_id,omitempty"`
	BuyerID     *string   `json:"buyer_id,omitempty"`
	SoldBy      *string   `json:"sold_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TicketSummaryResponse is what an agent sees of a ticket.
type TicketSummaryResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SaleResponse struct {
	TicketID   string    `json:"ticket_id"`
	CustomerID string    `json:"customer_id"`
	SoldBy     string    `json:"sold_by"`
	SoldAt     time.Time `json:"sold_at"`
}

type CustomerResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EventResponse struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Payload    string    `json:"payload_json,omitempty"`
}

type StatsResponse = engine.Stats

func ticketStatus(t domain.Ticket) string {
	switch {
	case t.Sold():
		return "sold"
	case t.AssigneeID != nil:
		return "assigned"
	default:
		return "unassigned"
	}
}

func ticketResponse(t domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      ticketStatus(t),
		CreatedBy:   t.CreatedBy,
		AssigneeID:  t.AssigneeID,
		BuyerID:     t.BuyerID,
		SoldBy:      t.SoldBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTickets(items []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(items))
	for _, t := range items {
		out = append(out, ticketResponse(t))
	}
	return out
}

func summaryResponse(t domain.TicketSummary) TicketSummaryResponse {
	return TicketSummaryResponse(t)
}

func mapSummaries(items []domain.TicketSummary) []TicketSummaryResponse {
	out := make([]TicketSummaryResponse, 0, len(items))
	for _, t := range items {
		out = append(out, summaryResponse(t))
	}
	return out
}

func customerResponse(c domain.Customer) CustomerResponse {
	return CustomerResponse(c)
}

func mapCustomers(items []domain.Customer) []CustomerResponse {
	out := make([]CustomerResponse, 0, len(items))
	for _, c := range items {
		out = append(out, customerResponse(c))
	}
	return out
}

func userResponse(u domain.User, caps []string) UserResponse {
	if caps == nil {
		caps = []string{}
	}
	return UserResponse{
		ID:           u.ID,
		Username:     u.Username,
		Name:         u.Name,
		Role:         string(u.Role),
		Capabilities: caps,
		CreatedAt:    u.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse(e)
}
