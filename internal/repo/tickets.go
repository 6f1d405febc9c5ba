package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ticketdesk/internal/db"
	"ticketdesk/internal/domain"
)

const ticketColumns = `id,title,description,created_by,assignee_id,buyer_id,sold_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var t domain.Ticket
	var assignee, buyer, soldBy sql.NullString
	var created, updated string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.CreatedBy, &assignee, &buyer, &soldBy, &created, &updated)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.AssigneeID = ptrFromNull(assignee)
	t.BuyerID = ptrFromNull(buyer)
	t.SoldBy = ptrFromNull(soldBy)
	t.CreatedAt, t.UpdatedAt, err = parseTimes(created, updated)
	return t, err
}

func scanTickets(rows *sql.Rows) ([]domain.Ticket, error) {
	defer rows.Close()
	res := []domain.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket) error {
	_, err := r.exec(ctx, tx, `INSERT INTO tickets(`+ticketColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.CreatedBy, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.BuyerID),
		nullableStringPtr(t.SoldBy), db.FormatTime(t.CreatedAt), db.FormatTime(t.UpdatedAt))
	return err
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	return scanTicket(r.queryRow(ctx, nil, `SELECT `+ticketColumns+` FROM tickets WHERE id=?`, id))
}

type TicketFilters struct {
	AssigneeID string
	// Sold filters on the buyer reference when non-nil.
	Sold  *bool
	Limit int
}

func (r Repo) ListTickets(ctx context.Context, f TicketFilters) ([]domain.Ticket, error) {
	var clauses []string
	var args []any
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Sold != nil {
		if *f.Sold {
			clauses = append(clauses, "buyer_id IS NOT NULL")
		} else {
			clauses = append(clauses, "buyer_id IS NULL")
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

func (r Repo) UpdateTicketText(ctx context.Context, tx *sql.Tx, id string, title, description *string, now time.Time) error {
	fields := []string{"updated_at=?"}
	args := []any{db.FormatTime(now)}
	if title != nil {
		fields = append(fields, "title=?")
		args = append(args, *title)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, *description)
	}
	args = append(args, id)
	res, err := r.exec(ctx, tx, fmt.Sprintf(`UPDATE tickets SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteTicket(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM tickets WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// LockAgentTx serializes allocator transactions of one agent. Postgres takes
// a transaction-scoped advisory lock; SQLite write transactions are already
// exclusive.
func (r Repo) LockAgentTx(ctx context.Context, tx *sql.Tx, agentID string) error {
	if r.Dialect != db.Postgres {
		return nil
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, agentID)
	return err
}

func (r Repo) CountAssignedTx(ctx context.Context, tx *sql.Tx, agentID string) (int, error) {
	var n int
	err := r.queryRow(ctx, tx, `SELECT COUNT(*) FROM tickets WHERE assignee_id=?`, agentID).Scan(&n)
	return n, err
}

// SelectClaimableTx returns up to limit unassigned, unsold ticket ids, oldest
// first. On Postgres the rows stay locked until the transaction ends and rows
// already locked by a concurrent claim are skipped rather than waited on.
func (r Repo) SelectClaimableTx(ctx context.Context, tx *sql.Tx, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `SELECT id FROM tickets WHERE assignee_id IS NULL AND buyer_id IS NULL ORDER BY created_at ASC, id ASC LIMIT ?`
	if r.Dialect == db.Postgres {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	rows, err := r.query(ctx, tx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AssignTicketTx hands an unassigned ticket to agentID. It returns
// ErrClaimConflict when the ticket is no longer free.
func (r Repo) AssignTicketTx(ctx context.Context, tx *sql.Tx, id, agentID string, now time.Time) error {
	res, err := r.exec(ctx, tx, `UPDATE tickets SET assignee_id=?, updated_at=? WHERE id=? AND assignee_id IS NULL AND buyer_id IS NULL`,
		agentID, db.FormatTime(now), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimConflict
	}
	return nil
}

// ListAssigned returns the agent's worklist, oldest first.
func (r Repo) ListAssigned(ctx context.Context, agentID string) ([]domain.Ticket, error) {
	rows, err := r.query(ctx, nil, `SELECT `+ticketColumns+` FROM tickets WHERE assignee_id=? ORDER BY created_at ASC, id ASC`, agentID)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

// GetAssignedTicket returns the ticket only while agentID holds it.
func (r Repo) GetAssignedTicket(ctx context.Context, id, agentID string) (domain.Ticket, error) {
	return scanTicket(r.queryRow(ctx, nil, `SELECT `+ticketColumns+` FROM tickets WHERE id=? AND assignee_id=?`, id, agentID))
}

// GetHeldTicketTx looks a ticket up scoped to an agent: either the agent holds
// it now or the agent is the one who sold it.
func (r Repo) GetHeldTicketTx(ctx context.Context, tx *sql.Tx, id, agentID string) (domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=? AND (assignee_id=? OR sold_by=?)`
	if r.Dialect == db.Postgres {
		query += ` FOR UPDATE`
	}
	return scanTicket(r.queryRow(ctx, tx, query, id, agentID, agentID))
}

// SellTicketTx binds the ticket to a buyer and releases the agent's hold in
// one statement. It returns ErrClaimConflict when the agent no longer holds
// an unsold ticket with that id.
func (r Repo) SellTicketTx(ctx context.Context, tx *sql.Tx, id, agentID, customerID string, now time.Time) error {
	res, err := r.exec(ctx, tx, `UPDATE tickets SET buyer_id=?, sold_by=?, assignee_id=NULL, updated_at=? WHERE id=? AND assignee_id=? AND buyer_id IS NULL`,
		customerID, agentID, db.FormatTime(now), id, agentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimConflict
	}
	return nil
}

func (r Repo) CountTicketsSoldTo(ctx context.Context, tx *sql.Tx, customerID string) (int, error) {
	var n int
	err := r.queryRow(ctx, tx, `SELECT COUNT(*) FROM tickets WHERE buyer_id=?`, customerID).Scan(&n)
	return n, err
}

// CountTickets returns totals used by status output.
func (r Repo) CountTickets(ctx context.Context) (total, assigned, sold int, err error) {
	err = r.queryRow(ctx, nil, `SELECT COUNT(*),
COALESCE(SUM(CASE WHEN assignee_id IS NOT NULL THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN buyer_id IS NOT NULL THEN 1 ELSE 0 END),0) FROM tickets`).Scan(&total, &assigned, &sold)
	return total, assigned, sold, err
}
