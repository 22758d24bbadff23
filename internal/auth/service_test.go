package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubStore struct {
	mu    sync.Mutex
	users map[string]*User
	orgs  map[string]*Organization

	findByEmailErr error
}

func newStubStore(orgIDs ...string) *stubStore {
	s := &stubStore{users: map[string]*User{}, orgs: map[string]*Organization{}}
	for _, id := range orgIDs {
		s.orgs[id] = &Organization{ID: id, Name: id}
	}
	return s
}

func (s *stubStore) FindOrganization(_ context.Context, id string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orgs[id]; ok {
		return o, nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *stubStore) FindUser(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	if s.findByEmailErr != nil {
		return nil, s.findByEmailErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) ListUserIDsByOrganizations(_ context.Context, orgIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, u := range s.users {
		for _, id := range orgIDs {
			if u.OrganizationID == id {
				out = append(out, u.ID)
			}
		}
	}
	return out, nil
}

func newTestService(t *testing.T, store *stubStore) (*Service, *TokenSigner) {
	t.Helper()
	signer, err := NewTokenSigner("test-secret")
	require.NoError(t, err)
	svc, err := NewService(store, store, signer, WithHashCost(bcrypt.MinCost))
	require.NoError(t, err)
	return svc, signer
}

func TestRegisterAndLogin(t *testing.T) {
	store := newStubStore("org-a")
	svc, signer := newTestService(t, store)
	ctx := context.Background()

	sess, err := svc.Register(ctx, RegisterInput{Email: " Owner@Example.com ", Password: "secret1", Role: RoleOwner, OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.AccessToken)
	assert.Equal(t, "owner@example.com", sess.User.Email)
	assert.Equal(t, RoleOwner, sess.User.Role)
	assert.Equal(t, "org-a", sess.User.OrganizationID)

	stored, err := store.FindUser(ctx, sess.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)

	claims, err := signer.Parse(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, claims.Subject)
	assert.Equal(t, "org-a", claims.OrganizationID)

	login, err := svc.Login(ctx, "owner@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, sess.User, login.User)

	id, err := svc.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: sess.User.ID, Email: "owner@example.com", Role: RoleOwner, OrganizationID: "org-a"}, id)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	store := newStubStore("org-a")
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secret1", Role: RoleAdmin, OrganizationID: "org-a"})
	require.NoError(t, err)

	_, wrongPassword := svc.Login(ctx, "a@example.com", "nope-nope")
	_, unknownEmail := svc.Login(ctx, "ghost@example.com", "secret1")
	require.ErrorIs(t, wrongPassword, ErrUnauthorized)
	require.ErrorIs(t, unknownEmail, ErrUnauthorized)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLoginDoesNotMaskStoreFailures(t *testing.T) {
	store := newStubStore("org-a")
	store.findByEmailErr = errors.New("connection reset")
	svc, _ := newTestService(t, store)

	_, err := svc.Login(context.Background(), "a@example.com", "secret1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestRegisterErrors(t *testing.T) {
	store := newStubStore("org-a")
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secret1", Role: RoleAdmin, OrganizationID: "org-a"})
	require.NoError(t, err)

	cases := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"duplicate email", RegisterInput{Email: "A@example.com", Password: "secret1", Role: RoleViewer, OrganizationID: "org-a"}, ErrConflict},
		{"unknown organization", RegisterInput{Email: "b@example.com", Password: "secret1", Role: RoleViewer, OrganizationID: "org-z"}, ErrInvalidReference},
		{"short password", RegisterInput{Email: "c@example.com", Password: "12345", Role: RoleViewer, OrganizationID: "org-a"}, ErrInvalidInput},
		{"bad role", RegisterInput{Email: "d@example.com", Password: "secret1", Role: "root", OrganizationID: "org-a"}, ErrInvalidInput},
		{"bad email", RegisterInput{Email: "nobody", Password: "secret1", Role: RoleViewer, OrganizationID: "org-a"}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAuthenticateDeletedAccount(t *testing.T) {
	store := newStubStore("org-a")
	svc, signer := newTestService(t, store)

	token, _, err := signer.Issue(&User{ID: "gone", Email: "gone@example.com", Role: RoleOwner, OrganizationID: "org-a", CreatedAt: time.Now()})
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Validate(context.Background(), "gone")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuthenticateUsesStoredRole(t *testing.T) {
	store := newStubStore("org-a")
	svc, signer := newTestService(t, store)
	ctx := context.Background()
	sess, err := svc.Register(ctx, RegisterInput{Email: "v@example.com", Password: "secret1", Role: RoleViewer, OrganizationID: "org-a"})
	require.NoError(t, err)

	forged, _, err := signer.Issue(&User{ID: sess.User.ID, Email: "v@example.com", Role: RoleOwner, OrganizationID: "org-b"})
	require.NoError(t, err)
	id, err := svc.Authenticate(ctx, forged)
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, id.Role)
	assert.Equal(t, "org-a", id.OrganizationID)
}

func TestPasswordHelpers(t *testing.T) {
	hash, err := HashPassword("secret1")
	require.NoError(t, err)
	require.NoError(t, VerifyPassword(hash, "secret1"))
	require.Error(t, VerifyPassword(hash, "secret2"))
	require.Error(t, VerifyPassword("", "secret1"))
	_, err = HashPassword("")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)
	ctx := ContextWithIdentity(context.Background(), &Identity{UserID: "u1", Role: RoleAdmin})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}
