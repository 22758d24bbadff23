// Package tasks is the task authorization core. Every operation takes the
// caller identity explicitly, runs the guard pipeline, checks organization
// scope and records an audit entry for mutations and audit reads.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tasktrail.org/internal/audit"
	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/ids"
	"tasktrail.org/internal/obs"
	"tasktrail.org/internal/orgscope"
)

// Operation names, used for requirements, spans and metrics.
const (
	OpCreate   = "create"
	OpFindAll  = "findAll"
	OpFindOne  = "findOne"
	OpUpdate   = "update"
	OpRemove   = "remove"
	OpAuditLog = "auditLog"
)

// Requirements lists what each operation demands of its caller before scope
// checks run.
var Requirements = map[string]auth.Requirement{
	OpCreate:   {Permissions: []auth.Permission{auth.PermCreateTask}},
	OpFindAll:  {Permissions: []auth.Permission{auth.PermReadTask}},
	OpFindOne:  {Permissions: []auth.Permission{auth.PermReadTask}},
	OpUpdate:   {Permissions: []auth.Permission{auth.PermUpdateTask}},
	OpRemove:   {Permissions: []auth.Permission{auth.PermDeleteTask}},
	OpAuditLog: {Roles: []auth.Role{auth.RoleAdmin}, Permissions: []auth.Permission{auth.PermReadAuditLog}},
}

// ErrStreamUnavailable is returned by WatchAuditLogs when the recorder has no
// hub to publish to.
var ErrStreamUnavailable = errors.New("tasks: audit streaming is not configured")

// Service implements task operations on top of the stores.
type Service struct {
	tasks    Store
	users    UserDirectory
	resolver *orgscope.Resolver
	audit    *audit.Recorder
	tracer   trace.Tracer
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewService wires the core.
func NewService(tasks Store, users UserDirectory, resolver *orgscope.Resolver, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		tasks:    tasks,
		users:    users,
		resolver: resolver,
		audit:    recorder,
		tracer:   obs.Tracer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new task in the caller's organization.
func (s *Service) Create(ctx context.Context, in CreateInput, caller *auth.Identity) (task *Task, err error) {
	ctx, span := s.start(ctx, OpCreate, caller)
	defer func() { s.end(span, OpCreate, err) }()

	if err := s.guard(OpCreate, caller); err != nil {
		return nil, err
	}
	if _, err := s.resolver.Organization(ctx, caller); err != nil {
		if errors.Is(err, orgscope.ErrOrganizationNotFound) {
			return nil, fmt.Errorf("%w: organization not found", auth.ErrForbidden)
		}
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = StatusTodo
	}
	now := s.now().UTC()
	task = &Task{
		ID:             ids.NewUUID(),
		Title:          in.Title,
		Description:    in.Description,
		Status:         status,
		Category:       in.Category,
		OrganizationID: caller.OrganizationID,
		CreatedByID:    caller.UserID,
		AssignedToID:   in.AssignedToID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.record(ctx, caller, audit.ActionCreateTask, audit.ResourceTask, task.ID, map[string]any{
		"title":    task.Title,
		"category": task.Category,
	})
	return task, nil
}

// FindAll lists the tasks in the caller's read scope, newest first. A caller
// whose organization no longer exists gets an empty list.
func (s *Service) FindAll(ctx context.Context, caller *auth.Identity) (list []Task, err error) {
	ctx, span := s.start(ctx, OpFindAll, caller)
	defer func() { s.end(span, OpFindAll, err) }()

	if err := s.guard(OpFindAll, caller); err != nil {
		return nil, err
	}
	scope, err := s.resolver.ReadScope(ctx, caller)
	if err != nil {
		if errors.Is(err, orgscope.ErrOrganizationNotFound) {
			return []Task{}, nil
		}
		return nil, err
	}
	list, err = s.tasks.ListTasksByOrganizations(ctx, scope)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Task{}
	}
	return list, nil
}

// FindOne returns a task the caller may access.
func (s *Service) FindOne(ctx context.Context, id string, caller *auth.Identity) (task *Task, err error) {
	ctx, span := s.start(ctx, OpFindOne, caller)
	defer func() { s.end(span, OpFindOne, err) }()

	if err := s.guard(OpFindOne, caller); err != nil {
		return nil, err
	}
	return s.load(ctx, id, caller)
}

// Update merges in into a task the caller may modify.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput, caller *auth.Identity) (task *Task, err error) {
	ctx, span := s.start(ctx, OpUpdate, caller)
	defer func() { s.end(span, OpUpdate, err) }()

	if err := s.guard(OpUpdate, caller); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	task, err = s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if !orgscope.CanModify(task.OrganizationID, caller) {
		return nil, fmt.Errorf("%w: cannot modify this task", auth.ErrForbidden)
	}
	in.apply(task)
	task.UpdatedAt = s.now().UTC()
	if err := s.tasks.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	s.record(ctx, caller, audit.ActionUpdateTask, audit.ResourceTask, task.ID, in)
	return task, nil
}

// Remove deletes a task the caller may modify.
func (s *Service) Remove(ctx context.Context, id string, caller *auth.Identity) (err error) {
	ctx, span := s.start(ctx, OpRemove, caller)
	defer func() { s.end(span, OpRemove, err) }()

	if err := s.guard(OpRemove, caller); err != nil {
		return err
	}
	task, err := s.load(ctx, id, caller)
	if err != nil {
		return err
	}
	if !orgscope.CanModify(task.OrganizationID, caller) {
		return fmt.Errorf("%w: cannot delete this task", auth.ErrForbidden)
	}
	if err := s.tasks.DeleteTask(ctx, task.ID); err != nil {
		return err
	}
	s.record(ctx, caller, audit.ActionDeleteTask, audit.ResourceTask, task.ID, map[string]any{
		"title": task.Title,
	})
	return nil
}

// AuditLogs returns the newest audit entries written by users in the
// caller's read scope. When that scope holds no users at all, no actor
// filter is applied.
func (s *Service) AuditLogs(ctx context.Context, caller *auth.Identity) (entries []audit.Entry, err error) {
	ctx, span := s.start(ctx, OpAuditLog, caller)
	defer func() { s.end(span, OpAuditLog, err) }()

	if err := s.guard(OpAuditLog, caller); err != nil {
		return nil, err
	}
	userIDs, err := s.AuditScope(ctx, caller)
	if err != nil {
		if errors.Is(err, orgscope.ErrOrganizationNotFound) {
			return []audit.Entry{}, nil
		}
		return nil, err
	}
	entries, err = s.audit.List(ctx, userIDs, audit.DefaultLimit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	s.record(ctx, caller, audit.ActionReadAuditLog, audit.ResourceAuditLog, "all", map[string]any{
		"returned": len(entries),
	})
	return entries, nil
}

// AuditScope lists the users whose audit entries the caller may read. It
// does not check requirements; callers run the audit-log guard first.
func (s *Service) AuditScope(ctx context.Context, caller *auth.Identity) ([]string, error) {
	scope, err := s.resolver.ReadScope(ctx, caller)
	if err != nil {
		return nil, err
	}
	return s.users.ListUserIDsByOrganizations(ctx, scope)
}

// WatchAuditLogs streams new audit entries visible to the caller until ctx
// ends. Opening the stream is itself audited.
func (s *Service) WatchAuditLogs(ctx context.Context, caller *auth.Identity) (<-chan audit.Entry, error) {
	if err := s.guard(OpAuditLog, caller); err != nil {
		return nil, err
	}
	userIDs, err := s.AuditScope(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !s.audit.Streaming() {
		return nil, ErrStreamUnavailable
	}
	s.record(ctx, caller, audit.ActionStreamAuditLog, audit.ResourceAuditLog, "all", nil)
	src := s.audit.Subscribe(ctx)

	allowed := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = struct{}{}
	}
	out := make(chan audit.Entry)
	go func() {
		defer close(out)
		for e := range src {
			if len(allowed) > 0 {
				if _, ok := allowed[e.UserID]; !ok {
					continue
				}
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// load fetches a task and applies the read scope check.
func (s *Service) load(ctx context.Context, id string, caller *auth.Identity) (*Task, error) {
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %s", auth.ErrNotFound, id)
		}
		return nil, err
	}
	ok, err := s.resolver.CanAccess(ctx, task.OrganizationID, caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: access denied", auth.ErrForbidden)
	}
	return task, nil
}

func (s *Service) guard(op string, caller *auth.Identity) error {
	return auth.Check(caller, Requirements[op])
}

// record writes an audit entry after a committed change. The recorder has
// already logged and counted a failure, so it does not fail the request.
func (s *Service) record(ctx context.Context, caller *auth.Identity, action audit.Action, resourceType, resourceID string, details any) {
	_, _ = s.audit.Record(ctx, caller, action, resourceType, resourceID, details)
}

func (s *Service) start(ctx context.Context, op string, caller *auth.Identity) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "tasks."+op)
	if caller != nil {
		span.SetAttributes(
			attribute.String("user.id", caller.UserID),
			attribute.String("user.role", string(caller.Role)),
			attribute.String("organization.id", caller.OrganizationID),
		)
	}
	return ctx, span
}

func (s *Service) end(span trace.Span, op string, err error) {
	obs.ObserveAuthz(op, outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "allow"
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrForbidden):
		return "deny"
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrInvalidInput):
		return "rejected"
	}
	return "error"
}
