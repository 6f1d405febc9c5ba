package repo

import (
	"context"
	"database/sql"

	"ticketdesk/internal/db"
	"ticketdesk/internal/domain"
)

const userColumns = `id,username,password_hash,name,role,created_at,updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var role, created, updated string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &role, &created, &updated)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Role = domain.Role(role)
	u.CreatedAt, u.UpdatedAt, err = parseTimes(created, updated)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.exec(ctx, tx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.Username, u.PasswordHash, u.Name, string(u.Role), db.FormatTime(u.CreatedAt), db.FormatTime(u.UpdatedAt))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, nil, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, nil, `SELECT `+userColumns+` FROM users WHERE username=?`, username))
}

func (r Repo) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY username ASC`
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
