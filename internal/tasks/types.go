package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/ids"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Category classifies a task.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryWork || c == CategoryPersonal
}

// Task belongs to the organization of its creator for its whole life.
type Task struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	Category       Category  `json:"category"`
	OrganizationID string    `json:"organizationId"`
	CreatedByID    string    `json:"createdById"`
	AssignedToID   *string   `json:"assignedToId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CreateInput carries client-controlled fields of a new task. Organization
// and creator always come from the caller.
type CreateInput struct {
	Title        string
	Description  string
	Status       Status
	Category     Category
	AssignedToID *string
}

// Validate checks required fields and enum values.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", auth.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description is required", auth.ErrInvalidInput)
	}
	if in.Status != "" && !in.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", auth.ErrInvalidInput, in.Status)
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", auth.ErrInvalidInput, in.Category)
	}
	return validateAssignee(in.AssignedToID)
}

// UpdateInput is a partial update; nil fields are left untouched. Empty
// title and description are accepted.
type UpdateInput struct {
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Status       *Status   `json:"status,omitempty"`
	Category     *Category `json:"category,omitempty"`
	AssignedToID Assignee  `json:"assignedToId,omitzero"`
}

// Validate checks the fields that are present.
func (in UpdateInput) Validate() error {
	if in.Status != nil && !in.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", auth.ErrInvalidInput, *in.Status)
	}
	if in.Category != nil && !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", auth.ErrInvalidInput, *in.Category)
	}
	return validateAssignee(in.AssignedToID.ID)
}

func (in UpdateInput) apply(t *Task) {
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Status != nil {
		t.Status = *in.Status
	}
	if in.Category != nil {
		t.Category = *in.Category
	}
	if in.AssignedToID.Set {
		if in.AssignedToID.ID == nil {
			t.AssignedToID = nil
		} else {
			assignee := *in.AssignedToID.ID
			t.AssignedToID = &assignee
		}
	}
}

// Assignee is the assignedToId of an update. The zero value means the field
// was absent; Set with a nil ID unassigns the task.
type Assignee struct {
	Set bool
	ID  *string
}

// AssignTo returns an Assignee naming userID.
func AssignTo(userID string) Assignee {
	return Assignee{Set: true, ID: &userID}
}

// Unassign returns an Assignee that clears the assignee.
func Unassign() Assignee {
	return Assignee{Set: true}
}

func (a *Assignee) UnmarshalJSON(b []byte) error {
	a.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		a.ID = nil
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err != nil {
		return fmt.Errorf("%w: assignedToId must be a string or null", auth.ErrInvalidInput)
	}
	a.ID = &id
	return nil
}

func (a Assignee) MarshalJSON() ([]byte, error) {
	if a.ID == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*a.ID)
}

func validateAssignee(id *string) error {
	if id != nil && !ids.IsUUID(*id) {
		return fmt.Errorf("%w: assignedToId must be a UUID", auth.ErrInvalidInput)
	}
	return nil
}

// Store persists tasks. Missing rows are reported as auth.ErrNotFound.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	DeleteTask(ctx context.Context, id string) error
	// ListTasksByOrganizations returns tasks of the given organizations,
	// newest first.
	ListTasksByOrganizations(ctx context.Context, orgIDs []string) ([]Task, error)
}

// UserDirectory resolves which users belong to a set of organizations.
type UserDirectory interface {
	ListUserIDsByOrganizations(ctx context.Context, orgIDs []string) ([]string, error)
}
