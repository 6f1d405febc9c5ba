package domain

import "time"

// Quota is the default number of tickets an agent may hold at once.
const Quota = 15

type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "support-agent"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleAgent
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Role         Role      `json:"role" enum:"admin,support-agent"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ticket is one unit of sellable work. BuyerID is set at most once; a sold
// ticket never has an assignee.
type Ticket struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	AssigneeID  *string   `json:"assignee_id,omitempty"`
	BuyerID     *string   `json:"buyer_id,omitempty"`
	SoldBy      *string   `json:"sold_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t Ticket) Sold() bool {
	return t.BuyerID != nil
}

func (t Ticket) Summary() TicketSummary {
	return TicketSummary{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// TicketSummary is the agent-facing view of a ticket.
type TicketSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func Summaries(tickets []Ticket) []TicketSummary {
	out := make([]TicketSummary, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.Summary())
	}
	return out
}

type Event struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Payload    string    `json:"payload_json"`
}
