package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasktrail.org/internal/ids"
)

// Service is the credential store: it registers accounts, checks passwords
// and issues signed identity claims.
type Service struct {
	users    UserStore
	orgs     OrganizationStore
	signer   *TokenSigner
	hashCost int
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHashCost overrides the bcrypt work factor. Tests use bcrypt.MinCost.
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost <= 0 {
			return errors.New("auth: hash cost must be positive")
		}
		s.hashCost = cost
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, orgs OrganizationStore, signer *TokenSigner, opts ...ServiceOption) (*Service, error) {
	if users == nil || orgs == nil || signer == nil {
		return nil, errors.New("auth: users, organizations and signer are required")
	}
	svc := &Service{
		users:    users,
		orgs:     orgs,
		signer:   signer,
		hashCost: PasswordCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Email          string
	Password       string
	Role           Role
	OrganizationID string
}

// Session is returned by Register and Login.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserView  `json:"user"`
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user in an existing organization and signs a token for it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	if len(in.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	orgID := strings.TrimSpace(in.OrganizationID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organizationId is required", ErrInvalidInput)
	}

	existing, err := s.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	if _, err := s.orgs.FindOrganization(ctx, orgID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: organization %s does not exist", ErrInvalidReference, orgID)
		}
		return nil, fmt.Errorf("lookup organization: %w", err)
	}

	hash, err := hashPassword(in.Password, s.hashCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:             ids.NewUUID(),
		Email:          email,
		PasswordHash:   hash,
		Role:           in.Role,
		OrganizationID: orgID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// The store reports a concurrent duplicate as ErrConflict.
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return s.session(user)
}

// Login checks the password of the account registered under email. Unknown
// addresses and wrong passwords fail with the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.FindUserByEmail(ctx, NormalizeEmail(email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if err := VerifyPassword(hash, password); err != nil || user == nil {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	return s.session(user)
}

// Validate re-hydrates the user named by a token subject.
func (s *Service) Validate(ctx context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrNotFound
	}
	return s.users.FindUser(ctx, userID)
}

// Authenticate verifies a bearer token and returns the identity of its
// current account. Role and organization come from the stored user, not the
// token.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := s.Validate(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
		}
		return nil, err
	}
	return user.Identity(), nil
}

func (s *Service) session(u *User) (*Session, error) {
	token, expires, err := s.signer.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: token, ExpiresAt: expires, User: u.View()}, nil
}
