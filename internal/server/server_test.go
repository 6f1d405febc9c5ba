package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ticketdesk/internal/app"
	"ticketdesk/internal/config"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/engine/auth"
	ticketdesksdk "ticketdesk/sdk/go"
)

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	a, err := app.Open(cfg, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	a.Engine.PasswordCost = bcrypt.MinCost
	if _, err := a.Engine.Seed(context.Background(), 1, 4, "123"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{
		Engine:    a.Engine,
		Allocator: a.Allocator,
		Metrics:   a.Metrics,
		BasePath:  "/api",
		Auth:      AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func (s *testServer) login(t *testing.T, username string) *ticketdesksdk.Client {
	t.Helper()
	c := ticketdesksdk.New(s.URL)
	_, err := c.Login(context.Background(), username, "123")
	require.NoError(t, err)
	return c
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func apiErrorOf(t *testing.T, err error) *ticketdesksdk.APIError {
	t.Helper()
	var apiErr *ticketdesksdk.APIError
	require.ErrorAs(t, err, &apiErr)
	return apiErr
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/agent/tickets", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	var body struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "unauthorized", body.Error.Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/agent/tickets", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLoginAndProfile(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	c := ticketdesksdk.New(srv.URL)
	_, err := c.Login(context.Background(), "agent1", "wrong")
	assert.Equal(t, http.StatusUnauthorized, apiErrorOf(t, err).StatusCode)

	u, err := c.Login(context.Background(), "agent1", "123")
	require.NoError(t, err)
	assert.Equal(t, "support-agent", u.Role)
	assert.Contains(t, u.Capabilities, string(auth.CapWorkTickets))

	profile, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, u.ID, profile.ID)
}

func TestRoleSeparation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	agent := srv.login(t, "agent1")
	_, err := agent.CreateTicket(ctx, "t", "d")
	apiErr := apiErrorOf(t, err)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "forbidden", apiErr.Code)

	admin := srv.login(t, "admin1")
	_, err = admin.Worklist(ctx)
	assert.Equal(t, http.StatusForbidden, apiErrorOf(t, err).StatusCode)
}

func TestAdminTicketValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := srv.login(t, "admin1")

	_, err := admin.CreateTicket(context.Background(), "Only a title", "")
	apiErr := apiErrorOf(t, err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "description")
}

func TestConcurrentWorklistOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	admin := srv.login(t, "admin1")
	for i := 0; i < 60; i++ {
		_, err := admin.CreateTicket(ctx, fmt.Sprintf("ticket %02d", i), "seat")
		require.NoError(t, err)
	}
	agents := make([]*ticketdesksdk.Client, 4)
	for i := range agents {
		agents[i] = srv.login(t, fmt.Sprintf("agent%d", i+1))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		start   = make(chan struct{})
		results = make([][]ticketdesksdk.Ticket, len(agents))
		errs    []error
	)
	for i, c := range agents {
		wg.Add(1)
		go func(i int, c *ticketdesksdk.Client) {
			defer wg.Done()
			<-start
			list, err := c.Worklist(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results[i] = list
		}(i, c)
	}
	close(start)
	wg.Wait()
	require.Empty(t, errs)

	seen := map[string]int{}
	for i, list := range results {
		assert.Len(t, list, domain.Quota, "agent%d", i+1)
		for j := 1; j < len(list); j++ {
			assert.False(t, list[j].CreatedAt.Before(list[j-1].CreatedAt), "worklist must be oldest first")
		}
		for _, tk := range list {
			seen[tk.ID]++
		}
	}
	assert.Len(t, seen, 60)
	for id, n := range seen {
		assert.Equal(t, 1, n, "ticket %s assigned %d times", id, n)
	}
}

func TestSellFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	admin := srv.login(t, "admin1")
	tk, err := admin.CreateTicket(ctx, "Concert", "Row A")
	require.NoError(t, err)
	cust, err := admin.CreateCustomer(ctx, "Ann", "ann@example.com")
	require.NoError(t, err)

	seller := srv.login(t, "agent1")
	other := srv.login(t, "agent2")
	list, err := seller.Worklist(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = seller.Sell(ctx, tk.ID, "")
	assert.Equal(t, http.StatusBadRequest, apiErrorOf(t, err).StatusCode)

	_, err = seller.Sell(ctx, tk.ID, "missing-customer")
	apiErr := apiErrorOf(t, err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "customer not found", apiErr.Message)

	_, err = other.Sell(ctx, tk.ID, cust.ID)
	apiErr = apiErrorOf(t, err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "ticket not found", apiErr.Message)

	sale, err := seller.Sell(ctx, tk.ID, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, cust.ID, sale.CustomerID)

	_, err = seller.Sell(ctx, tk.ID, cust.ID)
	apiErr = apiErrorOf(t, err)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "already_sold", apiErr.Code)

	list, err = seller.Worklist(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = seller.Ticket(ctx, tk.ID)
	assert.Equal(t, http.StatusNotFound, apiErrorOf(t, err).StatusCode)

	customers, err := seller.Customers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, customers, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := srv.login(t, "admin1")
	_, err := admin.CreateTicket(context.Background(), "t", "d")
	require.NoError(t, err)
	_, err = srv.login(t, "agent1").Worklist(context.Background())
	require.NoError(t, err)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "ticketdesk_tickets_claimed_total 1")
}

func TestHandleErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.ResourceContentionError{Op: "fetch_worklist", Attempts: 200, Err: errors.New("database is locked")}, http.StatusServiceUnavailable, "resource_contention"},
		{domain.ValidationError{Field: "customer_id", Reason: "is required"}, http.StatusBadRequest, "bad_request"},
		{domain.AuthenticationError{}, http.StatusUnauthorized, "unauthorized"},
		{auth.ForbiddenError{Capability: auth.CapManageTickets}, http.StatusForbidden, "forbidden"},
		{domain.NotFoundError{Resource: "ticket"}, http.StatusNotFound, "not_found"},
		{domain.AlreadySoldError{TicketID: "t-1"}, http.StatusConflict, "already_sold"},
		{domain.ConflictError{Resource: "customer", Reason: "email already registered"}, http.StatusConflict, "conflict"},
		{fmt.Errorf("wrap: %w", domain.NotFoundError{Resource: "customer"}), http.StatusNotFound, "not_found"},
		{errors.New("pq: connection reset by peer"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		se := handleError(tc.err)
		ae, ok := se.(*apiError)
		require.True(t, ok)
		assert.Equal(t, tc.status, ae.GetStatus(), tc.err.Error())
		assert.Equal(t, tc.code, ae.Body.Code, tc.err.Error())
		if tc.status == http.StatusInternalServerError || tc.status == http.StatusServiceUnavailable {
			assert.False(t, strings.Contains(ae.Body.Message, tc.err.Error()), "internal cause leaked: %s", ae.Body.Message)
		}
	}
}
