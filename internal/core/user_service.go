package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

type userService struct {
	base
}

// NewUserService constructs a UserService backed by PostgreSQL.
func NewUserService(pool *pgxpool.Pool, opts Options) UserService {
	return &userService{base: newBase(pool, opts)}
}

const userColumns = "id, company_id, username, email, password_hash, role, is_active, created_at"

func scanUser(row pgx.Row, u *User) error {
	return row.Scan(&u.ID, &u.CompanyID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt)
}

func (s *userService) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	u, err := s.createUser(ctx, in)
	if err != nil {
		return nil, s.fail("create_user", Scope{CompanyCode: in.CompanyCode}, logrus.Fields{"username": in.Username}, err)
	}
	return u, nil
}

func (s *userService) createUser(ctx context.Context, in UserInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, invalidf("username is required")
	}
	if in.PasswordHash == "" {
		return nil, invalidf("password is required")
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	if role != RoleAdmin && role != RoleUser {
		return nil, invalidf("role must be %s or %s, got %q", RoleAdmin, RoleUser, in.Role)
	}

	var companyID *int
	if in.CompanyCode != "" {
		id, err := resolveCompanyID(ctx, s.pool, in.CompanyCode)
		if err != nil {
			return nil, err
		}
		companyID = &id
	}

	u := &User{}
	err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (company_id, username, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		companyID, username, strings.TrimSpace(in.Email), in.PasswordHash, role,
	), u)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, conflictf("username %s already exists", username)
		}
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	return u, nil
}

func (s *userService) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *userService) DeleteUser(ctx context.Context, userID int) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		return s.fail("delete_user", Scope{}, logrus.Fields{"target_user_id": userID},
			fmt.Errorf("failed to delete user %d: %w", userID, err))
	}
	if tag.RowsAffected() == 0 {
		return s.fail("delete_user", Scope{}, logrus.Fields{"target_user_id": userID},
			notFoundf("user id %d not found", userID))
	}
	return nil
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1 AND is_active = true
		LIMIT 1`,
		username,
	), u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("user %q not found", username)
		}
		return nil, fmt.Errorf("failed to look up user %q: %w", username, err)
	}
	return u, nil
}

func (s *userService) GetByID(ctx context.Context, userID int) (*User, error) {
	u := &User{}
	err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID), u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("user id %d not found", userID)
		}
		return nil, fmt.Errorf("failed to get user id=%d: %w", userID, err)
	}
	return u, nil
}

func (s *userService) AddCredential(ctx context.Context, userID int, cred StoredCredential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webauthn_credentials (user_id, credential_id, credential)
		VALUES ($1, $2, $3)`,
		userID, cred.ID, cred.Data)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return conflictf("credential is already registered")
		}
		return fmt.Errorf("failed to store credential for user %d: %w", userID, err)
	}
	return nil
}

func (s *userService) ListCredentials(ctx context.Context, userID int) ([]StoredCredential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT credential_id, credential FROM webauthn_credentials
		WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var out []StoredCredential
	for rows.Next() {
		var c StoredCredential
		if err := rows.Scan(&c.ID, &c.Data); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *userService) FindCredentialOwner(ctx context.Context, credentialID []byte) (*User, error) {
	u := &User{}
	err := scanUser(s.pool.QueryRow(ctx, `
		SELECT u.id, u.company_id, u.username, u.email, u.password_hash, u.role, u.is_active, u.created_at
		FROM webauthn_credentials wc
		JOIN users u ON u.id = wc.user_id
		WHERE wc.credential_id = $1 AND u.is_active = true`, credentialID), u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("credential not registered")
		}
		return nil, fmt.Errorf("failed to resolve credential owner: %w", err)
	}
	return u, nil
}

func (s *userService) TouchCredential(ctx context.Context, cred StoredCredential) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webauthn_credentials SET credential = $1, last_used_at = NOW()
		WHERE credential_id = $2`, cred.Data, cred.ID)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return nil
}
