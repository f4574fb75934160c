package users

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"scanattend/internal/apperr"
	"scanattend/internal/model"
	"scanattend/internal/store"
)

// PageSize caps the account listing.
const PageSize = 200

// Repository persists user accounts. Only Credentials returns the password
// hash.
type Repository struct {
	db    *store.DB
	clock clockwork.Clock
	loc   *time.Location
}

// NewRepository creates a repo.
func NewRepository(db *store.DB, clock clockwork.Clock, loc *time.Location) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Repository{db: db, clock: clock, loc: loc}
}

// Create inserts an account. A duplicate username fails with Conflict from
// the unique constraint.
func (r *Repository) Create(ctx context.Context, username, passwordHash string, role model.Role) (model.User, error) {
	if username == "" {
		return model.User{}, apperr.New(apperr.Validation, "missing username")
	}
	if !role.Valid() {
		return model.User{}, apperr.New(apperr.Validation, "invalid role")
	}
	u := model.User{
		Username:  username,
		Role:      role,
		CreatedAt: r.clock.Now().UTC().Truncate(time.Microsecond),
	}
	err := r.db.Client.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), u.Username, passwordHash, u.Role, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return model.User{}, apperr.Wrap(apperr.Conflict, "user exists", err)
		}
		return model.User{}, store.Classify(err, "create user")
	}
	u.CreatedAt = u.CreatedAt.In(r.loc)
	return u, nil
}

// Credentials returns the account with its password hash.
func (r *Repository) Credentials(ctx context.Context, username string) (model.Credentials, error) {
	var c model.Credentials
	err := r.db.Client.GetContext(ctx, &c, r.db.Rebind(`
		SELECT id, username, role, created_at, password_hash
		FROM users WHERE username = ?
	`), username)
	if err != nil {
		if store.IsNoRows(err) {
			return model.Credentials{}, apperr.New(apperr.NotFound, "user not found")
		}
		return model.Credentials{}, store.Classify(err, "get user")
	}
	c.CreatedAt = c.CreatedAt.In(r.loc)
	return c, nil
}

// Get returns the public shape of an account.
func (r *Repository) Get(ctx context.Context, username string) (model.User, error) {
	var u model.User
	err := r.db.Client.GetContext(ctx, &u, r.db.Rebind(`
		SELECT id, username, role, created_at FROM users WHERE username = ?
	`), username)
	if err != nil {
		if store.IsNoRows(err) {
			return model.User{}, apperr.New(apperr.NotFound, "user not found")
		}
		return model.User{}, store.Classify(err, "get user")
	}
	u.CreatedAt = u.CreatedAt.In(r.loc)
	return u, nil
}

// List returns accounts newest id first, at most PageSize.
func (r *Repository) List(ctx context.Context) ([]model.User, error) {
	res := []model.User{}
	err := r.db.Client.SelectContext(ctx, &res, r.db.Rebind(`
		SELECT id, username, role, created_at FROM users ORDER BY id DESC LIMIT ?
	`), PageSize)
	if err != nil {
		return nil, store.Classify(err, "list users")
	}
	for i := range res {
		res[i].CreatedAt = res[i].CreatedAt.In(r.loc)
	}
	return res, nil
}

// UpdatePasswordHash reports whether a row matched.
func (r *Repository) UpdatePasswordHash(ctx context.Context, username, passwordHash string) (bool, error) {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`UPDATE users SET password_hash = ? WHERE username = ?`), passwordHash, username)
	if err != nil {
		return false, store.Classify(err, "update password")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Classify(err, "update password")
	}
	return n > 0, nil
}

// Delete reports whether a row matched.
func (r *Repository) Delete(ctx context.Context, username string) (bool, error) {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE username = ?`), username)
	if err != nil {
		return false, store.Classify(err, "delete user")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Classify(err, "delete user")
	}
	return n > 0, nil
}

// CountAdmins returns the number of admin accounts.
func (r *Repository) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Client.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM users WHERE role = ?`), model.RoleAdmin); err != nil {
		return 0, store.Classify(err, "count admins")
	}
	return n, nil
}
