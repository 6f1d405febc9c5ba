package repo

import (
	"context"
	"database/sql"

	"ticketdesk/internal/db"
	"ticketdesk/internal/domain"
)

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	var created, updated string
	err := row.Scan(&c.ID, &c.Name, &c.Email, &created, &updated)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.CreatedAt, c.UpdatedAt, err = parseTimes(created, updated)
	return c, err
}

func (r Repo) InsertCustomer(ctx context.Context, tx *sql.Tx, c domain.Customer) error {
	_, err := r.exec(ctx, tx, `INSERT INTO customers(id,name,email,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, c.Name, c.Email, db.FormatTime(c.CreatedAt), db.FormatTime(c.UpdatedAt))
	return err
}

func (r Repo) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return r.GetCustomerTx(ctx, nil, id)
}

func (r Repo) GetCustomerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Customer, error) {
	return scanCustomer(r.queryRow(ctx, tx, `SELECT id,name,email,created_at,updated_at FROM customers WHERE id=?`, id))
}

func (r Repo) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	query := `SELECT id,name,email,created_at,updated_at FROM customers ORDER BY created_at ASC, id ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCustomer(ctx context.Context, tx *sql.Tx, c domain.Customer) error {
	res, err := r.exec(ctx, tx, `UPDATE customers SET name=?, email=?, updated_at=? WHERE id=?`,
		c.Name, c.Email, db.FormatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteCustomer(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM customers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
