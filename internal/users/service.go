package users

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"scanattend/internal/apperr"
	"scanattend/internal/auth"
	"scanattend/internal/model"
)

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      model.User
}

// Service implements account management on top of the repository.
type Service struct {
	repo   *Repository
	hasher *auth.Hasher
	tokens *auth.Tokens
}

// NewService wires the account service.
func NewService(repo *Repository, hasher *auth.Hasher, tokens *auth.Tokens) *Service {
	return &Service{repo: repo, hasher: hasher, tokens: tokens}
}

var errInvalidCredentials = apperr.New(apperr.Unauthenticated, "invalid credentials")

// Login checks a password and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	if username == "" || password == "" {
		return LoginResult{}, apperr.New(apperr.Validation, "missing username or password")
	}
	creds, err := s.repo.Credentials(ctx, username)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return LoginResult{}, errInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !s.hasher.Verify(password, creds.PasswordHash) {
		return LoginResult{}, errInvalidCredentials
	}

	token, exp, err := s.tokens.Issue(auth.Identity{ID: creds.ID, Username: creds.Username, Role: creds.Role})
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: exp, User: creds.User}, nil
}

// Register creates an account. An empty role means user.
func (s *Service) Register(ctx context.Context, username, password, role string) (model.User, error) {
	if username == "" || password == "" {
		return model.User{}, apperr.New(apperr.Validation, "missing username or password")
	}
	r := model.RoleUser
	if role != "" {
		parsed, err := model.ParseRole(role)
		if err != nil {
			return model.User{}, apperr.Wrap(apperr.Validation, "invalid role", err)
		}
		r = parsed
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.User{}, err
	}
	u, err := s.repo.Create(ctx, username, hash, r)
	if err != nil {
		return model.User{}, err
	}
	zerolog.Ctx(ctx).Info().Str("username", u.Username).Str("role", string(u.Role)).Msg("user registered")
	return u, nil
}

// List returns all accounts without password hashes.
func (s *Service) List(ctx context.Context) ([]model.User, error) {
	return s.repo.List(ctx)
}

// Delete removes username. An admin cannot delete their own account.
func (s *Service) Delete(ctx context.Context, actor auth.Claims, username string) error {
	if username == actor.Username {
		return apperr.New(apperr.Validation, "cannot delete own account")
	}
	ok, err := s.repo.Delete(ctx, username)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	zerolog.Ctx(ctx).Info().Str("username", username).Str("by", actor.Username).Msg("user deleted")
	return nil
}

// ChangePassword replaces username's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apperr.New(apperr.Validation, "missing old or new password")
	}
	creds, err := s.repo.Credentials(ctx, username)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(oldPassword, creds.PasswordHash) {
		return apperr.New(apperr.Unauthenticated, "old password incorrect")
	}
	return s.setPassword(ctx, username, newPassword)
}

// ResetPassword sets username's password without the old one. Admin only.
func (s *Service) ResetPassword(ctx context.Context, username, newPassword string) error {
	if newPassword == "" {
		return apperr.New(apperr.Validation, "missing new password")
	}
	return s.setPassword(ctx, username, newPassword)
}

func (s *Service) setPassword(ctx context.Context, username, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	ok, err := s.repo.UpdatePasswordHash(ctx, username, hash)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

// Bootstrap creates an admin account when none exists yet. It reports
// whether an account was created.
func (s *Service) Bootstrap(ctx context.Context, username, password string) (bool, error) {
	n, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.Register(ctx, username, password, string(model.RoleAdmin)); err != nil {
		return false, err
	}
	return true, nil
}
