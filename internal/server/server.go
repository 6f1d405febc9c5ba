package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ticketdesk/internal/allocator"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/engine"
	"ticketdesk/internal/engine/auth"
	"ticketdesk/internal/metrics"
	"ticketdesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Allocator *allocator.Allocator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_sold"`
	Message string         `json:"message" example:"ticket 0190c1de already sold"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	engine engine.Engine
	alloc  *allocator.Allocator
	log    *slog.Logger
	auth   AuthConfig
	now    func() time.Time
}

var bearerSecurity = []map[string][]string{{"bearer": {}}}

// New returns an HTTP handler exposing the ticketdesk API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Allocator == nil {
		return nil, errors.New("server: allocator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema and request validation failures are client input errors.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger, cfg.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("Ticketdesk API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := &handlers{
		engine: cfg.Engine,
		alloc:  cfg.Allocator,
		log:    logger,
		auth:   cfg.Auth,
		now:    time.Now,
	}
	registerHealth(group)
	registerAuth(group, h)
	registerAdminTickets(group, h)
	registerAdminCustomers(group, h)
	registerAdminReports(group, h)
	registerAgentTickets(group, h)
	registerAgentCustomers(group, h)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, path.Join(basePath, "metrics"), cfg.Metrics.Handler())
	}
	return router, nil
}

func requestLogger(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Request(r.Method, status)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain failures onto HTTP statuses. Unknown errors become
// a generic 500 with no internal detail.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var (
		contention *domain.ResourceContentionError
		validation domain.ValidationError
		authn      domain.AuthenticationError
		forbidden  auth.ForbiddenError
		notFound   domain.NotFoundError
		sold       domain.AlreadySoldError
		conflict   domain.ConflictError
	)
	switch {
	case errors.As(err, &contention):
		return newAPIError(http.StatusServiceUnavailable, "resource_contention", "tickets are busy, retry shortly",
			map[string]any{"op": contention.Op, "attempts": contention.Attempts})
	case errors.As(err, &validation):
		var details map[string]any
		if validation.Field != "" {
			details = map[string]any{"field": validation.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", validation.Error(), details)
	case errors.As(err, &authn):
		return newAPIError(http.StatusUnauthorized, "unauthorized", authn.Error(), nil)
	case errors.As(err, &forbidden):
		return newAPIError(http.StatusForbidden, "forbidden", forbidden.Error(), map[string]any{"capability": forbidden.Capability})
	case errors.As(err, &notFound):
		return newAPIError(http.StatusNotFound, "not_found", notFound.Error(), nil)
	case errors.As(err, &sold):
		return newAPIError(http.StatusConflict, "already_sold", "ticket already sold", map[string]any{"ticket_id": sold.TicketID})
	case errors.As(err, &conflict):
		return newAPIError(http.StatusConflict, "conflict", conflict.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

// fail maps err and logs the cause of every server-side failure.
func (h *handlers) fail(ctx context.Context, err error) huma.StatusError {
	se := handleError(err)
	if se.GetStatus() >= http.StatusInternalServerError {
		h.log.ErrorContext(ctx, "request failed", "status", se.GetStatus(), "err", err, "request_id", middleware.GetReqID(ctx))
	}
	return se
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "resource_contention"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// require resolves the caller and checks one capability.
func (h *handlers) require(ctx context.Context, c auth.Capability) (auth.Identity, huma.StatusError) {
	id, herr := callerIdentity(ctx)
	if herr != nil {
		return id, herr
	}
	if err := auth.Require(id, c); err != nil {
		return id, h.fail(ctx, err)
	}
	return id, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange username and password for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*output[LoginResponse], error) {
		u, err := h.engine.Authenticate(ctx, strings.TrimSpace(input.Body.Username), input.Body.Password)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		token, expires, err := signToken(h.auth.JWTSecret, u, h.auth.ttl(), h.now())
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(LoginResponse{
			Token:     token,
			ExpiresAt: expires,
			User:      userResponse(u, capabilityNames(u.Role)),
		}, "Login successful"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "profile",
		Method:      http.MethodGet,
		Path:        "/auth/profile",
		Summary:     "Current user",
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[UserResponse], error) {
		id, herr := callerIdentity(ctx)
		if herr != nil {
			return nil, herr
		}
		u, err := h.engine.GetUser(ctx, id.UserID)
		if err != nil {
			var nf domain.NotFoundError
			if errors.As(err, &nf) {
				// A valid token for a deleted user.
				return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
			}
			return nil, h.fail(ctx, err)
		}
		return reply(userResponse(u, capabilityNames(u.Role)), ""), nil
	})
}

func capabilityNames(role domain.Role) []string {
	caps := auth.Capabilities(role)
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, string(c))
	}
	return out
}

type idPath struct {
	ID string `path:"id"`
}

func registerAdminTickets(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "admin-create-ticket",
		Method:        http.MethodPost,
		Path:          "/admin/tickets",
		Summary:       "Open a ticket",
		Tags:          []string{"admin"},
		Security:      bearerSecurity,
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateTicketRequest `json:"body"`
	}) (*output[TicketResponse], error) {
		id, herr := h.require(ctx, auth.CapManageTickets)
		if herr != nil {
			return nil, herr
		}
		t, err := h.engine.CreateTicket(ctx, id, engine.TicketCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(ticketResponse(t), "Ticket created"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-tickets",
		Method:      http.MethodGet,
		Path:        "/admin/tickets",
		Summary:     "List tickets, newest first",
		Tags:        []string{"admin"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AssigneeID string `query:"assignee_id"`
		Sold       string `query:"sold" enum:"true,false"`
		Limit      int    `query:"limit" default:"50"`
	}) (*output[[]TicketResponse], error) {
		id, herr := h.require(ctx, auth.CapManageTickets)
		if herr != nil {
			return nil, herr
		}
		f := repo.TicketFilters{AssigneeID: input.AssigneeID, Limit: normalizeLimit(input.Limit)}
		if input.Sold != "" {
			sold := input.Sold == "true"
			f.Sold = &sold
		}
		items, err := h.engine.ListTickets(ctx, id, f)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(mapTickets(items), ""), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-get-ticket",
		Method:      http.MethodGet,
		Path:        "/admin/tickets/{id}",
		Summary:     "Get a ticket",
		Tags:        []string{"admin"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*output[TicketResponse], error) {
		id, herr := h.require(ctx, auth.CapManageTickets)
		if herr != nil {
			return nil, herr
		}
		t, err := h.engine.GetTicket(ctx, id, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(ticketResponse(t), ""), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-update-ticket",
		Method:      http.MethodPatch,
		Path:        "/admin/tickets/{id}",
		Summary:     "Edit a ticket's title or description",
		Tags:        []string{"admin"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateTicketRequest `json:"body"`
	}) (*output[TicketResponse], error) {
		id, herr := h.require(ctx, auth.CapManageTickets)
		if herr != nil {
			return nil, herr
		}
		t, err := h.engine.UpdateTicket(ctx, id, input.ID, engine.TicketUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(ticketResponse(t), "Ticket updated"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "admin-delete-ticket",
		Method:        http.MethodDelete,
		Path:          "/admin/tickets/{id}",
		Summary:       "Delete a ticket",
		Tags:          []string{"admin"},
		Security:      bearerSecurity,
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		id, herr := h.require(ctx, auth.CapManageTickets)
		if herr != nil {
			return nil, herr
		}
		if err := h.engine.DeleteTicket(ctx, id, input.ID); err != nil {
			return nil, h.fail(ctx, err)
		}
		return nil, nil
	})
}

func registerAdminCustomers(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "admin-create-customer",
		Method:        http.MethodPost,
		Path:          "/admin/customers",
		Summary:       "Register a customer",
		Tags:          []string{"admin"},
		Security:      bearerSecurity,
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateCustomerRequest `json:"body"`
	}) (*output[CustomerResponse], error) {
		id, herr := h.require(ctx, auth.CapManageCustomers)
		if herr != nil {
			return nil, herr
		}
		c, err := h.engine.CreateCustomer(ctx, id, engine.CustomerCreateOptions{Name: input.Body.Name, Email: input.Body.Email})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(customerResponse(c), "Customer created"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-customers",
		Method:      http.MethodGet,
		Path:        "/admin/customers",
		Summary:     "List customers",
		Tags:        []string{"admin"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, listCustomersHandler(h, auth.CapManageCustomers))

	huma.Register(api, huma.Operation{
		OperationID: "admin-get-customer",
		Method:      http.MethodGet,
		Path:        "/admin/customers/{id}",
		Summary:     "Get a customer",
		Tags:        []string{"admin"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, getCustomerHandler(h, auth.CapManageCustomers))

	huma.Register(api, huma.Operation{
		OperationID: "admin-update-customer",
		Method:      http.MethodPatch,
		Path:        "/admin/customers/{id}",
		Summary:     "Edit a customer",
		Tags:        []string{"admin"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateCustomerRequest `json:"body"`
	}) (*output[CustomerResponse], error) {
		id, herr := h.require(ctx, auth.CapManageCustomers)
		if herr != nil {
			return nil, herr
		}
		c, err := h.engine.UpdateCustomer(ctx, id, input.ID, engine.CustomerUpdateOptions{Name: input.Body.Name, Email: input.Body.Email})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(customerResponse(c), "Customer updated"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "admin-delete-customer",
		Method:        http.MethodDelete,
		Path:          "/admin/customers/{id}",
		Summary:       "Delete a customer without purchases",
		Tags:          []string{"admin"},
		Security:      bearerSecurity,
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		id, herr := h.require(ctx, auth.CapManageCustomers)
		if herr != nil {
			return nil, herr
		}
		if err := h.engine.DeleteCustomer(ctx, id, input.ID); err != nil {
			return nil, h.fail(ctx, err)
		}
		return nil, nil
	})
}

type listCustomersInput struct {
	Limit int `query:"limit" default:"50"`
}

func listCustomersHandler(h *handlers, c auth.Capability) func(context.Context, *listCustomersInput) (*output[[]CustomerResponse], error) {
	return func(ctx context.Context, input *listCustomersInput) (*output[[]CustomerResponse], error) {
		id, herr := h.require(ctx, c)
		if herr != nil {
			return nil, herr
		}
		items, err := h.engine.ListCustomers(ctx, id, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(mapCustomers(items), ""), nil
	}
}

func getCustomerHandler(h *handlers, c auth.Capability) func(context.Context, *idPath) (*output[CustomerResponse], error) {
	return func(ctx context.Context, input *idPath) (*output[CustomerResponse], error) {
		id, herr := h.require(ctx, c)
		if herr != nil {
			return nil, herr
		}
		cust, err := h.engine.GetCustomer(ctx, id, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(customerResponse(cust), ""), nil
	}
}

func registerAdminReports(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-stats",
		Method:      http.MethodGet,
		Path:        "/admin/stats",
		Summary:     "Ticket counts by state",
		Tags:        []string{"admin"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*output[StatsResponse], error) {
		if _, herr := h.require(ctx, auth.CapManageTickets); herr != nil {
			return nil, herr
		}
		stats, err := h.engine.Stats(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(stats, ""), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-events",
		Method:      http.MethodGet,
		Path:        "/admin/events",
		Summary:     "List recent events",
		Tags:        []string{"admin"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"ticket,customer,user,agent"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*output[[]EventResponse], error) {
		if _, herr := h.require(ctx, auth.CapManageTickets); herr != nil {
			return nil, herr
		}
		items, err := h.engine.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, e := range items {
			out = append(out, eventResponse(e))
		}
		return reply(out, ""), nil
	})
}

func registerAgentTickets(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-worklist",
		Method:      http.MethodGet,
		Path:        "/agent/tickets",
		Summary:     "Fetch the caller's worklist, claiming tickets up to quota",
		Tags:        []string{"agent"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*output[[]TicketSummaryResponse], error) {
		id, herr := h.require(ctx, auth.CapWorkTickets)
		if herr != nil {
			return nil, herr
		}
		list, err := h.alloc.FetchWorklist(ctx, id.UserID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(mapSummaries(list), fmt.Sprintf("%d tickets assigned", len(list))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-get-ticket",
		Method:      http.MethodGet,
		Path:        "/agent/tickets/{id}",
		Summary:     "Get a ticket the caller holds",
		Tags:        []string{"agent"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*output[TicketSummaryResponse], error) {
		id, herr := h.require(ctx, auth.CapWorkTickets)
		if herr != nil {
			return nil, herr
		}
		t, err := h.engine.AgentTicket(ctx, id, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(summaryResponse(t), ""), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-sell-ticket",
		Method:      http.MethodPost,
		Path:        "/agent/tickets/{id}/sell",
		Summary:     "Sell a held ticket to a customer",
		Tags:        []string{"agent"},
		Security:    bearerSecurity,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body SellRequest `json:"body"`
	}) (*output[SaleResponse], error) {
		id, herr := h.require(ctx, auth.CapWorkTickets)
		if herr != nil {
			return nil, herr
		}
		t, err := h.alloc.CompleteSale(ctx, id.UserID, input.ID, strings.TrimSpace(input.Body.CustomerID))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(SaleResponse{
			TicketID:   t.ID,
			CustomerID: *t.BuyerID,
			SoldBy:     id.UserID,
			SoldAt:     t.UpdatedAt,
		}, "Ticket sold"), nil
	})
}

func registerAgentCustomers(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-list-customers",
		Method:      http.MethodGet,
		Path:        "/agent/customers",
		Summary:     "List customers",
		Tags:        []string{"agent"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, listCustomersHandler(h, auth.CapWorkTickets))

	huma.Register(api, huma.Operation{
		OperationID: "agent-get-customer",
		Method:      http.MethodGet,
		Path:        "/agent/customers/{id}",
		Summary:     "Get a customer",
		Tags:        []string{"agent"},
		Security:    bearerSecurity,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, getCustomerHandler(h, auth.CapWorkTickets))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
