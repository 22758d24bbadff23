package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/ids"
	"tasktrail.org/internal/obs"
	"tasktrail.org/internal/stream"
)

// Recorder appends audit entries, logs them and publishes them to live
// subscribers.
type Recorder struct {
	store Store
	hub   *stream.Hub[Entry]
	now   func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithHub publishes every persisted entry to hub.
func WithHub(hub *stream.Hub[Entry]) RecorderOption {
	return func(r *Recorder) { r.hub = hub }
}

// WithClock overrides time source.
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder returns a recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends an entry for actor. A failed write is logged and counted
// before the error is returned; callers that already committed their
// mutation may ignore it.
func (r *Recorder) Record(ctx context.Context, actor *auth.Identity, action Action, resourceType, resourceID string, details any) (*Entry, error) {
	if actor == nil {
		return nil, errors.New("audit: actor is required")
	}
	payload := "{}"
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			r.fail(ctx, action, resourceType, resourceID, err)
			return nil, fmt.Errorf("audit: encode details: %w", err)
		}
		payload = string(raw)
	}
	entry := &Entry{
		ID:           ids.New(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       actor.UserID,
		Details:      payload,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		r.fail(ctx, action, resourceType, resourceID, err)
		return nil, fmt.Errorf("audit: append: %w", err)
	}
	LogEvent(ctx, entry)
	if r.hub != nil {
		r.hub.Publish(*entry)
	}
	return entry, nil
}

// List returns up to limit entries newest first, filtered by actor when
// userIDs is non-empty.
func (r *Recorder) List(ctx context.Context, userIDs []string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	return r.store.ListAudit(ctx, Query{UserIDs: userIDs, Limit: limit})
}

// Streaming reports whether live subscriptions are available.
func (r *Recorder) Streaming() bool {
	return r.hub != nil
}

// Subscribe streams entries recorded after the call until ctx ends. It
// returns nil when no hub is configured.
func (r *Recorder) Subscribe(ctx context.Context) <-chan Entry {
	if r.hub == nil {
		return nil
	}
	return r.hub.Subscribe(ctx)
}

func (r *Recorder) fail(ctx context.Context, action Action, resourceType, resourceID string, err error) {
	obs.AuditWriteFailed(string(action))
	fields := logrus.Fields{
		"action":        string(action),
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	obs.Logger().WithFields(fields).WithError(err).Error("audit write failed")
}
