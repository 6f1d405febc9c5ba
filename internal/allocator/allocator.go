// Package allocator hands unassigned tickets to agents up to a fixed quota and
// completes sales against held tickets.
//
// Mutual exclusion between concurrent claimants is enforced by the database,
// not by the process: Postgres skips rows locked by another claim
// (FOR UPDATE SKIP LOCKED) and SQLite serializes write transactions. Every
// update is a compare-and-swap, so a lost race surfaces as a transient error
// and the whole operation is retried within a bounded time budget.
package allocator

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"time"

	"ticketdesk/internal/clock"
	"ticketdesk/internal/db"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/events"
	"ticketdesk/internal/metrics"
	"ticketdesk/internal/repo"
	"ticketdesk/internal/retry"
)

const (
	DefaultRetryTimeout = 5 * time.Second
	DefaultRetryDelay   = 25 * time.Millisecond

	opFetchWorklist = "fetch_worklist"
	opCompleteSale  = "complete_sale"
)

type Options struct {
	Quota        int
	RetryTimeout time.Duration
	RetryDelay   time.Duration
	// Clock drives retry waits. Defaults to the real clock.
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Allocator struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Quota   int
	Retry   retry.Policy
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, opts Options) *Allocator {
	if opts.Quota <= 0 {
		opts.Quota = domain.Quota
	}
	if opts.RetryTimeout <= 0 {
		opts.RetryTimeout = DefaultRetryTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Allocator{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Events: events.Writer{Dialect: dialect},
		Quota:  opts.Quota,
		Retry: retry.Policy{
			MaxElapsed: opts.RetryTimeout,
			Delay:      opts.RetryDelay,
			Clock:      opts.Clock,
			Retryable:  repo.IsTransient,
		},
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
		Now:     time.Now,
	}
}

func (a *Allocator) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// FetchWorklist tops the agent's worklist up to the quota with the oldest
// unclaimed tickets and returns every ticket the agent holds, oldest first.
// An agent already at quota gets its current worklist without a claim.
func (a *Allocator) FetchWorklist(ctx context.Context, agentID string) ([]domain.TicketSummary, error) {
	if agentID == "" {
		return nil, domain.ValidationError{Field: "agent_id", Reason: "is required"}
	}
	defer a.Metrics.ObserveFetch(time.Now())

	var held []domain.Ticket
	err := a.withRetry(ctx, opFetchWorklist, agentID, func(ctx context.Context) error {
		claimed, err := a.claim(ctx, agentID)
		if err != nil {
			return err
		}
		held, err = a.Repo.ListAssigned(ctx, agentID)
		if err != nil {
			return err
		}
		a.Metrics.Claimed(len(claimed))
		if len(claimed) > 0 {
			a.Logger.Info("tickets claimed", "agent", agentID, "claimed", len(claimed), "held", len(held))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return domain.Summaries(held), nil
}

// claim runs one all-or-nothing claim transaction and returns the ids it
// assigned.
func (a *Allocator) claim(ctx context.Context, agentID string) ([]string, error) {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := a.Repo.LockAgentTx(ctx, tx, agentID); err != nil {
		return nil, err
	}
	count, err := a.Repo.CountAssignedTx(ctx, tx, agentID)
	if err != nil {
		return nil, err
	}
	need := a.Quota - count
	if need <= 0 {
		return nil, nil
	}
	ids, err := a.Repo.SelectClaimableTx(ctx, tx, need)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	now := a.now()
	for _, id := range ids {
		if err := a.Repo.AssignTicketTx(ctx, tx, id, agentID, now); err != nil {
			return nil, err
		}
	}
	if err := a.Events.Append(ctx, tx, "ticket.claimed", "agent", agentID, agentID, events.EventPayload{"ticket_ids": ids}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// CompleteSale sells a ticket the agent holds to an existing customer and
// releases the hold. A ticket the agent neither holds nor sold is reported as
// not found, whether or not it exists.
func (a *Allocator) CompleteSale(ctx context.Context, agentID, ticketID, customerID string) (domain.Ticket, error) {
	switch {
	case agentID == "":
		return domain.Ticket{}, domain.ValidationError{Field: "agent_id", Reason: "is required"}
	case ticketID == "":
		return domain.Ticket{}, domain.ValidationError{Field: "ticket_id", Reason: "is required"}
	case customerID == "":
		return domain.Ticket{}, domain.ValidationError{Field: "customer_id", Reason: "is required"}
	}
	var sold domain.Ticket
	err := a.withRetry(ctx, opCompleteSale, agentID, func(ctx context.Context) error {
		var err error
		sold, err = a.sell(ctx, agentID, ticketID, customerID)
		return err
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	a.Metrics.Sold()
	a.Logger.Info("ticket sold", "agent", agentID, "ticket", ticketID, "customer", customerID)
	return sold, nil
}

func (a *Allocator) sell(ctx context.Context, agentID, ticketID, customerID string) (domain.Ticket, error) {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback()

	t, err := a.Repo.GetHeldTicketTx(ctx, tx, ticketID, agentID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Ticket{}, domain.NotFoundError{Resource: "ticket"}
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.Sold() {
		return domain.Ticket{}, domain.AlreadySoldError{TicketID: t.ID}
	}
	if _, err := a.Repo.GetCustomerTx(ctx, tx, customerID); errors.Is(err, repo.ErrNotFound) {
		return domain.Ticket{}, domain.NotFoundError{Resource: "customer"}
	} else if err != nil {
		return domain.Ticket{}, err
	}
	now := a.now()
	if err := a.Repo.SellTicketTx(ctx, tx, t.ID, agentID, customerID, now); err != nil {
		return domain.Ticket{}, err
	}
	if err := a.Events.Append(ctx, tx, "ticket.sold", "ticket", t.ID, agentID, events.EventPayload{"customer_id": customerID}); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Ticket{}, err
	}
	t.AssigneeID = nil
	t.BuyerID = &customerID
	t.SoldBy = &agentID
	t.UpdatedAt = now
	return t, nil
}

// withRetry runs op under the allocator's retry policy and turns an exhausted
// budget into a ResourceContentionError.
func (a *Allocator) withRetry(ctx context.Context, op, agentID string, fn func(context.Context) error) error {
	p := a.Retry
	if p.Retryable == nil {
		p.Retryable = repo.IsTransient
	}
	p.OnRetry = func(attempt int, err error) {
		a.Metrics.Retried(op)
		a.Logger.Debug("retrying after transient store error", "op", op, "agent", agentID, "attempt", attempt, "err", err)
	}
	err := retry.Do(ctx, p, fn)
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		a.Metrics.Contention(op)
		a.Logger.Error("retry budget exhausted", "op", op, "agent", agentID, "attempts", exhausted.Attempts, "elapsed", exhausted.Elapsed, "err", exhausted.Last)
		return &domain.ResourceContentionError{Op: op, Attempts: exhausted.Attempts, Elapsed: exhausted.Elapsed, Err: exhausted.Last}
	}
	return err
}
