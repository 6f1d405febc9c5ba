package ticketdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal ticketdesk HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

// User is the authenticated account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	CreatedAt    time.Time `json:"created_at"`
}

// Ticket is the agent view of a ticket.
type Ticket struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AdminTicket is the full ticket record.
type AdminTicket struct {
	Ticket
	Status     string  `json:"status"`
	CreatedBy  string  `json:"created_by"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	BuyerID    *string `json:"buyer_id,omitempty"`
	SoldBy     *string `json:"sold_by,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Sale struct {
	TicketID   string    `json:"ticket_id"`
	CustomerID string    `json:"customer_id"`
	SoldBy     string    `json:"sold_by"`
	SoldAt     time.Time `json:"sold_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type envelope[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	var resp envelope[struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
		User      User      `json:"user"`
	}]
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]string{"username": username, "password": password}, &resp)
	if err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Data.Token
	return resp.Data.User, nil
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (User, error) {
	var resp envelope[User]
	err := c.do(ctx, http.MethodGet, "auth/profile", nil, &resp)
	return resp.Data, err
}

// Worklist fetches the caller's tickets, claiming new ones up to quota.
func (c *Client) Worklist(ctx context.Context) ([]Ticket, error) {
	var resp envelope[[]Ticket]
	err := c.do(ctx, http.MethodGet, "agent/tickets", nil, &resp)
	return resp.Data, err
}

// Ticket returns a ticket held by the caller.
func (c *Client) Ticket(ctx context.Context, id string) (Ticket, error) {
	var resp envelope[Ticket]
	err := c.do(ctx, http.MethodGet, "agent/tickets/"+url.PathEscape(id), nil, &resp)
	return resp.Data, err
}

// Sell completes the sale of a held ticket.
func (c *Client) Sell(ctx context.Context, ticketID, customerID string) (Sale, error) {
	var resp envelope[Sale]
	endpoint := fmt.Sprintf("agent/tickets/%s/sell", url.PathEscape(ticketID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"customer_id": customerID}, &resp)
	return resp.Data, err
}

// Customers lists customers visible to the caller's role.
func (c *Client) Customers(ctx context.Context, admin bool) ([]Customer, error) {
	var resp envelope[[]Customer]
	endpoint := "agent/customers"
	if admin {
		endpoint = "admin/customers"
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Data, err
}

// CreateTicket opens a ticket (admin only).
func (c *Client) CreateTicket(ctx context.Context, title, description string) (AdminTicket, error) {
	var resp envelope[AdminTicket]
	err := c.do(ctx, http.MethodPost, "admin/tickets", map[string]string{"title": title, "description": description}, &resp)
	return resp.Data, err
}

// AdminTickets lists tickets (admin only).
func (c *Client) AdminTickets(ctx context.Context, limit int) ([]AdminTicket, error) {
	var resp envelope[[]AdminTicket]
	endpoint := "admin/tickets"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Data, err
}

// CreateCustomer registers a customer (admin only).
func (c *Client) CreateCustomer(ctx context.Context, name, email string) (Customer, error) {
	var resp envelope[Customer]
	err := c.do(ctx, http.MethodPost, "admin/customers", map[string]string{"name": name, "email": email}, &resp)
	return resp.Data, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
