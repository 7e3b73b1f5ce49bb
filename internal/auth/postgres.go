package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"accessd.org/internal/ids"
)

// sessionTokenBytes is the entropy of a session token value. 64 bytes encode
// to 86 URL-safe characters, within the column's 100-char limit.
const sessionTokenBytes = 64

const pgUniqueViolation = "23505"

var (
	_ SessionStore   = (*PGSessionStore)(nil)
	_ UserRepository = (*PGUserStore)(nil)
)

// PGSessionStore implements SessionStore on PostgreSQL.
type PGSessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGSessionStore constructs a session store over the given handle.
func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db, now: time.Now}
}

func (s *PGSessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (*SessionToken, error) {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	tok := &SessionToken{
		Token:     value,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	_, err = s.db.ExecContext(ctx,
		`insert into session_tokens(token, user_id, created_at, expires_at) values($1,$2,$3,$4)`,
		tok.Token, tok.UserID, tok.CreatedAt, tok.ExpiresAt,
	)
	if err != nil {
		return nil, storeErr("insert session", err)
	}
	return tok, nil
}

func (s *PGSessionStore) GetByToken(ctx context.Context, value string) (*SessionToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select token, user_id, created_at, expires_at from session_tokens where token=$1`, value)
	var tok SessionToken
	if err := row.Scan(&tok.Token, &tok.UserID, &tok.CreatedAt, &tok.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("select session", err)
	}
	return &tok, nil
}

// Consume deletes and returns the row in a single statement, so two refresh
// calls racing on the same value settle with exactly one winner.
func (s *PGSessionStore) Consume(ctx context.Context, value string) (*SessionToken, error) {
	row := s.db.QueryRowContext(ctx,
		`delete from session_tokens where token=$1 returning token, user_id, created_at, expires_at`, value)
	var tok SessionToken
	if err := row.Scan(&tok.Token, &tok.UserID, &tok.CreatedAt, &tok.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("consume session", err)
	}
	return &tok, nil
}

func (s *PGSessionStore) DeleteByToken(ctx context.Context, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from session_tokens where token=$1`, value)
	if err != nil {
		return false, storeErr("delete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("delete session", err)
	}
	return n > 0, nil
}

func (s *PGSessionStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from session_tokens where user_id=$1`, userID)
	if err != nil {
		return 0, storeErr("delete user sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete user sessions", err)
	}
	return n, nil
}

func (s *PGSessionStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from session_tokens where expires_at <= $1`, cutoff)
	if err != nil {
		return 0, storeErr("delete expired sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete expired sessions", err)
	}
	return n, nil
}

// PGUserStore implements UserRepository on PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

// NewPGUserStore constructs a user repository over the given handle.
func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

// Create inserts the user and its role assignments in one transaction.
func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`insert into users(id, firstname, lastname, email, password_hash) values($1,$2,$3,$4,$5)`,
		u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserAlreadyExists
		}
		return storeErr("insert user", err)
	}

	for i := range u.Roles {
		role := &u.Roles[i]
		if role.ID == "" {
			row := tx.QueryRowContext(ctx, `select id from roles where name=$1`, role.Name)
			if err := row.Scan(&role.ID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("auth: unknown role %q", role.Name)
				}
				return storeErr("select role", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`insert into user_roles(user_id, role_id) values($1,$2)`, u.ID, role.ID); err != nil {
			return storeErr("assign role", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func (s *PGUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getBy(ctx, `where id=$1`, id)
}

func (s *PGUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getBy(ctx, `where email=$1`, email)
}

func (s *PGUserStore) getBy(ctx context.Context, clause, arg string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, firstname, lastname, email, password_hash, created_at, updated_at from users `+clause, arg)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("select user", err)
	}
	roles, err := s.rolesFor(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (s *PGUserStore) rolesFor(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.id, r.name from roles r join user_roles ur on ur.role_id = r.id where ur.user_id=$1 order by r.name`,
		userID)
	if err != nil {
		return nil, storeErr("select roles", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, storeErr("scan role", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("select roles", err)
	}
	return roles, nil
}

func (s *PGUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, userID, passwordHash)
	if err != nil {
		return storeErr("update password", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update password", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func newTokenValue() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
