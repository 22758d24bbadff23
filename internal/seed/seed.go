// Package seed loads organizations and accounts from a YAML file. Applying a
// file twice creates nothing the second time.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/ids"
	"tasktrail.org/internal/obs"
)

// File is the document layout:
//
//	organizations:
//	  - key: acme
//	    name: Acme
//	  - key: acme-eu
//	    name: Acme EU
//	    parent: acme
//	users:
//	  - email: owner@acme.test
//	    password: secret1
//	    role: owner
//	    organization: acme
type File struct {
	Organizations []Organization `yaml:"organizations"`
	Users         []User         `yaml:"users"`
}

// Organization references its parent by key. A parent must be listed before
// its children.
type Organization struct {
	Key    string `yaml:"key"`
	Name   string `yaml:"name"`
	Parent string `yaml:"parent,omitempty"`
}

type User struct {
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
	Role         string `yaml:"role"`
	Organization string `yaml:"organization"`
}

// Store is what Apply writes through.
type Store interface {
	CreateOrganization(ctx context.Context, org *auth.Organization) error
	FindOrganizationByName(ctx context.Context, name string) (*auth.Organization, error)
	CreateUser(ctx context.Context, u *auth.User) error
	FindUserByEmail(ctx context.Context, email string) (*auth.User, error)
}

// Result reports what Apply did. Organizations maps seed keys to ids.
type Result struct {
	OrganizationsCreated int
	UsersCreated         int
	Skipped              int
	Organizations        map[string]string
}

// ParseFile reads and validates the seed file at path.
func ParseFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(bytes.NewReader(raw))
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references and account fields without touching a store.
func (f *File) Validate() error {
	var errs []error
	keys := make(map[string]bool, len(f.Organizations))
	for i, o := range f.Organizations {
		switch {
		case strings.TrimSpace(o.Key) == "":
			errs = append(errs, fmt.Errorf("organizations[%d]: key is required", i))
		case keys[o.Key]:
			errs = append(errs, fmt.Errorf("organizations[%d]: duplicate key %q", i, o.Key))
		}
		if strings.TrimSpace(o.Name) == "" {
			errs = append(errs, fmt.Errorf("organizations[%d]: name is required", i))
		}
		if o.Parent != "" && !keys[o.Parent] {
			errs = append(errs, fmt.Errorf("organizations[%d]: parent %q must be listed earlier", i, o.Parent))
		}
		keys[o.Key] = true
	}
	emails := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		email := auth.NormalizeEmail(u.Email)
		if !strings.Contains(email, "@") {
			errs = append(errs, fmt.Errorf("users[%d]: email %q is invalid", i, u.Email))
		}
		if emails[email] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate email %q", i, email))
		}
		emails[email] = true
		if len(u.Password) < auth.MinPasswordLength {
			errs = append(errs, fmt.Errorf("users[%d]: password must be at least %d characters", i, auth.MinPasswordLength))
		}
		if _, err := auth.ParseRole(u.Role); err != nil {
			errs = append(errs, fmt.Errorf("users[%d]: %w", i, err))
		}
		if !keys[u.Organization] {
			errs = append(errs, fmt.Errorf("users[%d]: unknown organization %q", i, u.Organization))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", auth.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Apply creates missing organizations (matched by name) and accounts
// (matched by email).
func Apply(ctx context.Context, st Store, f *File) (*Result, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	res := &Result{Organizations: make(map[string]string, len(f.Organizations))}
	now := time.Now().UTC()

	for _, o := range f.Organizations {
		existing, err := st.FindOrganizationByName(ctx, o.Name)
		switch {
		case err == nil:
			res.Organizations[o.Key] = existing.ID
			res.Skipped++
			continue
		case !errors.Is(err, auth.ErrNotFound):
			return res, fmt.Errorf("lookup organization %q: %w", o.Name, err)
		}
		org := &auth.Organization{
			ID:        ids.NewUUID(),
			Name:      o.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if o.Parent != "" {
			parent := res.Organizations[o.Parent]
			org.ParentID = &parent
		}
		if err := st.CreateOrganization(ctx, org); err != nil {
			return res, fmt.Errorf("create organization %q: %w", o.Name, err)
		}
		res.Organizations[o.Key] = org.ID
		res.OrganizationsCreated++
		obs.Logger().WithFields(logrus.Fields{"organization_id": org.ID, "name": org.Name}).Info("seed organization created")
	}

	for _, u := range f.Users {
		email := auth.NormalizeEmail(u.Email)
		_, err := st.FindUserByEmail(ctx, email)
		switch {
		case err == nil:
			res.Skipped++
			continue
		case !errors.Is(err, auth.ErrNotFound):
			return res, fmt.Errorf("lookup user %q: %w", email, err)
		}
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return res, err
		}
		role, _ := auth.ParseRole(u.Role)
		user := &auth.User{
			ID:             ids.NewUUID(),
			Email:          email,
			PasswordHash:   hash,
			Role:           role,
			OrganizationID: res.Organizations[u.Organization],
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := st.CreateUser(ctx, user); err != nil {
			return res, fmt.Errorf("create user %q: %w", email, err)
		}
		res.UsersCreated++
		obs.Logger().WithFields(logrus.Fields{"user_id": user.ID, "role": role}).Info("seed user created")
	}
	return res, nil
}
