package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type (
	registryOps struct {
		sqler Ops
		clock txclock
	}

	// RegistryOps reads and writes rendezvous users and sessions. Address and
	// member lists keep insertion order and ignore duplicates.
	RegistryOps interface {
		CreateUser(ctx context.Context, user uuid.UUID, addresses []string) error
		AddAddress(ctx context.Context, user uuid.UUID, address string) error
		Addresses(ctx context.Context, user uuid.UUID) ([]string, error)

		CreateSession(ctx context.Context, session, creator uuid.UUID) error
		AddMember(ctx context.Context, session, user uuid.UUID) (added bool, err error)
		Members(ctx context.Context, session uuid.UUID) ([]uuid.UUID, error)
		Sessions(ctx context.Context) ([]uuid.UUID, error)
	}
)

func (r *registryOps) CreateUser(ctx context.Context, user uuid.UUID, addresses []string) error {
	_, err := r.sqler.ExecContext(ctx, "insert into t_users(user_id, clk_created_at_unixms, clk_trid) values (?, ?, ?)",
		user.String(), r.clock.ts.UnixMilli(), r.clock.trid)
	if err != nil {
		r.sqler.Fail(err)
		return fmt.Errorf("store: create user: %w", err)
	}
	for _, a := range addresses {
		if err := r.AddAddress(ctx, user, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *registryOps) AddAddress(ctx context.Context, user uuid.UUID, address string) error {
	if err := r.userExists(ctx, user); err != nil {
		return err
	}
	_, err := r.sqler.ExecContext(ctx, `
		insert into t_user_addresses (user_id, position, address, clk_trid)
		select ?, coalesce(max(position), 0) + 1, ?, ?
		from t_user_addresses where user_id = ?
		on conflict (user_id, address) do nothing`,
		user.String(), address, r.clock.trid, user.String())
	if err != nil {
		r.sqler.Fail(err)
		return fmt.Errorf("store: add address: %w", err)
	}
	return nil
}

func (r *registryOps) Addresses(ctx context.Context, user uuid.UUID) ([]string, error) {
	if err := r.userExists(ctx, user); err != nil {
		return nil, err
	}
	rows, err := r.sqler.QueryContext(ctx, "select address from t_user_addresses where user_id = ? order by position", user.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *registryOps) CreateSession(ctx context.Context, session, creator uuid.UUID) error {
	_, err := r.sqler.ExecContext(ctx, "insert into t_sessions(session_id, clk_created_at_unixms, clk_trid) values (?, ?, ?)",
		session.String(), r.clock.ts.UnixMilli(), r.clock.trid)
	if err != nil {
		r.sqler.Fail(err)
		return fmt.Errorf("store: create session: %w", err)
	}
	_, err = r.AddMember(ctx, session, creator)
	return err
}

func (r *registryOps) AddMember(ctx context.Context, session, user uuid.UUID) (bool, error) {
	if err := r.sessionExists(ctx, session); err != nil {
		return false, err
	}
	if err := r.userExists(ctx, user); err != nil {
		return false, err
	}
	res, err := r.sqler.ExecContext(ctx, `
		insert into t_session_members (session_id, user_id, position, clk_trid)
		select ?, ?, coalesce(max(position), 0) + 1, ?
		from t_session_members where session_id = ?
		on conflict (session_id, user_id) do nothing`,
		session.String(), user.String(), r.clock.trid, session.String())
	if err != nil {
		r.sqler.Fail(err)
		return false, fmt.Errorf("store: add member: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *registryOps) Members(ctx context.Context, session uuid.UUID) ([]uuid.UUID, error) {
	if err := r.sessionExists(ctx, session); err != nil {
		return nil, err
	}
	return r.uuids(ctx, "select user_id from t_session_members where session_id = ? order by position", session.String())
}

func (r *registryOps) Sessions(ctx context.Context) ([]uuid.UUID, error) {
	return r.uuids(ctx, "select session_id from t_sessions order by clk_trid, session_id")
}

func (r *registryOps) uuids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.sqler.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []uuid.UUID{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *registryOps) userExists(ctx context.Context, user uuid.UUID) error {
	return r.exists(ctx, "select 1 from t_users where user_id = ?", "user", user)
}

func (r *registryOps) sessionExists(ctx context.Context, session uuid.UUID) error {
	return r.exists(ctx, "select 1 from t_sessions where session_id = ?", "session", session)
}

func (r *registryOps) exists(ctx context.Context, query, kind string, id uuid.UUID) error {
	if err := r.sqler.Err(); err != nil {
		return err
	}
	var one int
	err := r.sqler.QueryRowContext(ctx, query, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v %v", errNotFound, kind, id)
	}
	return err
}
