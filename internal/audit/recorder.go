package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/safego"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// Action is the kind of change an activity record describes. The set is open; these are the
// kinds the console itself emits.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionView   Action = "view"
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

const (
	// DefaultRecentLimit is used when Recent is called with a non-positive limit
	DefaultRecentLimit = 20
	// MaxRecentLimit caps the number of records a single Recent call returns
	MaxRecentLimit = 100

	systemActor = "System"
	shipTimeout = 30 * time.Second
)

var (
	// ErrWriteFailure wraps any failure to persist an activity record
	ErrWriteFailure = errors.New("audit write failure")

	// ErrInvalidRecord is returned for records missing a module, entity type or action
	ErrInvalidRecord = errors.New("invalid activity record")
)

// Store is the persistence the recorder needs
type Store interface {
	CreateActivity(ctx context.Context, rec *models.ActivityRecord) error
	ListRecentActivity(ctx context.Context, limit int, module *string) ([]*models.ActivityView, error)
}

// RecordInput describes one activity. Actor and EntityID are optional.
type RecordInput struct {
	Actor       *models.User
	Module      string
	EntityType  string
	EntityID    *int64
	Action      Action
	Description string
}

// Recorder appends activity records and answers recent-activity queries.
type Recorder struct {
	store   Store
	shipper Shipper
	now     func() time.Time

	mu   sync.Mutex
	last time.Time

	// inflight counts ship goroutines that have not finished
	inflight sync.WaitGroup
}

// Option configures a Recorder
type Option func(*Recorder)

// WithShipper fans every stored record out to s
func WithShipper(s Shipper) Option {
	return func(r *Recorder) { r.shipper = s }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder backed by store
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// stamp returns the creation time for the next record. Timestamps are truncated to the
// database's microsecond precision and never go backwards, even if the wall clock does.
func (r *Recorder) stamp() time.Time {
	now := r.now().UTC().Truncate(time.Microsecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	return now
}

// Record appends one activity record. A store failure is returned wrapped in ErrWriteFailure
// and must be treated as a failure of the calling operation.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*models.ActivityRecord, error) {
	if in.Module == "" || in.EntityType == "" || in.Action == "" {
		return nil, fmt.Errorf("%w: module, entity type and action are required", ErrInvalidRecord)
	}

	rec := &models.ActivityRecord{
		Module:      in.Module,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		Action:      string(in.Action),
		Description: in.Description,
		CreatedAt:   r.stamp(),
	}
	if in.Actor != nil {
		id := in.Actor.ID
		rec.UserID = &id
	}

	if err := r.store.CreateActivity(ctx, rec); err != nil {
		telemetry.ActivityWriteFailuresTotal.Inc()
		slog.Error("failed to store activity record",
			"module", rec.Module, "entity_type", rec.EntityType, "action", rec.Action, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	telemetry.ActivityRecordsTotal.WithLabelValues(rec.Module, rec.Action).Inc()

	if r.shipper != nil {
		entry := newLogEntry(rec, in.Actor)
		r.inflight.Add(1)
		safego.Go("activity-shipper", func() {
			defer r.inflight.Done()
			shipCtx, cancel := context.WithTimeout(context.Background(), shipTimeout)
			defer cancel()
			if err := r.shipper.Ship(shipCtx, entry); err != nil {
				slog.Warn("activity shipping failed", "record_id", entry.ID, "error", err)
			}
		})
	}

	return rec, nil
}

// Wait blocks until every entry handed to the shipper has been shipped or has failed.
// Call it before closing the shipper so no entry is dropped during shutdown.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}

// Recent returns up to limit records, newest first, optionally restricted to module.
// A non-positive limit selects DefaultRecentLimit; limits above MaxRecentLimit are capped.
func (r *Recorder) Recent(ctx context.Context, limit int, module *string) ([]*models.ActivityView, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	if module != nil && strings.TrimSpace(*module) == "" {
		module = nil
	}
	return r.store.ListRecentActivity(ctx, limit, module)
}

// Describe builds the conventional description prefix "Name (Role Label) - text".
// Without an actor the prefix is "System".
func Describe(actor *models.User, text string) string {
	if actor == nil {
		return systemActor + " - " + text
	}
	return fmt.Sprintf("%s (%s) - %s", actor.DisplayName(), actor.RoleLabel(), text)
}
