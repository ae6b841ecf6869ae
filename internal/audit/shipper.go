// Package audit records the activity trail of the console. The database is the system of
// record; every committed record may additionally be fanned out to shippers (webhook,
// file, object storage) so that security teams can route it to a SIEM or cold archive
// independently of the application's own logging pipeline.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/safego"
	"github.com/opsconsole/opsconsole/internal/storage"
	"github.com/opsconsole/opsconsole/internal/telemetry"
	"github.com/opsconsole/opsconsole/pkg/checksum"
)

var (
	// ErrArchiveConflict is returned when an archived object differs from the record being shipped
	ErrArchiveConflict = errors.New("archived activity entry differs from record")

	// ErrShipperClosed is returned by Ship once the shipper has been closed
	ErrShipperClosed = errors.New("activity shipper closed")
)

// LogEntry is the shipped form of an activity record
type LogEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Module      string    `json:"module"`
	EntityType  string    `json:"entity_type"`
	EntityID    *int64    `json:"entity_id,omitempty"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	UserID      *int64    `json:"user_id,omitempty"`
	Actor       string    `json:"actor"`
}

func newLogEntry(rec *models.ActivityRecord, actor *models.User) *LogEntry {
	entry := &LogEntry{
		ID:          rec.ID,
		Timestamp:   rec.CreatedAt,
		Module:      rec.Module,
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		Action:      rec.Action,
		Description: rec.Description,
		UserID:      rec.UserID,
		Actor:       systemActor,
	}
	if actor != nil {
		entry.Actor = actor.DisplayName()
	}
	return entry
}

// Shipper delivers activity entries to a destination outside the database
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// MultiShipper ships to every configured destination
type MultiShipper struct {
	shippers []namedShipper
	mu       sync.RWMutex
}

type namedShipper struct {
	name string
	Shipper
}

// NewMultiShipper builds the enabled shippers. archive is required only when an
// object_storage shipper is enabled.
func NewMultiShipper(configs []config.AuditShipperConfig, archive storage.Storage) (*MultiShipper, error) {
	ms := &MultiShipper{}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		case "object_storage":
			if archive == nil {
				return nil, fmt.Errorf("a storage backend is required for object_storage shipper")
			}
			prefix := ""
			if cfg.ObjectStorage != nil {
				prefix = cfg.ObjectStorage.Prefix
			}
			shipper = NewArchiveShipper(archive, prefix)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, namedShipper{name: cfg.Type, Shipper: shipper})
	}

	return ms, nil
}

// Len returns the number of active shippers
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to all shippers. One failing destination does not stop the others.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			telemetry.ActivityShipErrorsTotal.WithLabelValues(s.name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookShipper posts entries to an HTTP endpoint, optionally in batches
type WebhookShipper struct {
	cfg       *config.AuditWebhookConfig
	timeout   time.Duration
	client    *http.Client
	batchCh   chan *LogEntry
	batch     []*LogEntry
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		batchCh: make(chan *LogEntry, 1000),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		safego.Go("audit-webhook-batcher", ws.processBatches)
	} else {
		close(ws.doneCh)
	}

	return ws, nil
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.doneCh)

	flushInterval := time.Duration(ws.cfg.FlushInterval) * time.Second
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
		case <-ticker.C:
			ws.flushBatch()
		case <-ws.closeCh:
			for {
				select {
				case entry := <-ws.batchCh:
					ws.batch = append(ws.batch, entry)
				default:
					ws.flushBatch()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}
	defer func() { ws.batch = ws.batch[:0] }()

	data, err := json.Marshal(ws.batch)
	if err != nil {
		slog.Error("failed to marshal activity batch", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		telemetry.ActivityShipErrorsTotal.WithLabelValues("webhook").Inc()
		slog.Warn("failed to send activity batch", "entries", len(ws.batch), "error", err)
	}
}

// Ship sends an entry to the webhook. With batching enabled the entry is queued, falling
// back to a direct send when the queue is full.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	select {
	case <-ws.closeCh:
		return ErrShipperClosed
	default:
	}

	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- entry:
			return nil
		default:
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity entry: %w", err)
	}
	return ws.sendRequest(ctx, data)
}

func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any queued entries and stops the batcher
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	<-ws.doneCh
	return nil
}

// FileShipper appends entries as JSON lines to a file with size-based rotation
type FileShipper struct {
	cfg    *config.AuditFileConfig
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewFileShipper creates a new file shipper
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log file: %w", err)
	}

	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship writes an entry to the file
func (fs *FileShipper) Ship(ctx context.Context, entry *LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrShipperClosed
	}

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Error("failed to rotate activity log", "path", fs.cfg.Path, "error", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity entry: %w", err)
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write activity entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens it
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")

	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true
	return fs.file.Close()
}

// ArchiveShipper writes each entry as its own object at
// <prefix>/activity/YYYY/MM/DD/<id>.json. Objects are write-once; shipping the same record
// twice is not an error, shipping a different record under the same key is.
type ArchiveShipper struct {
	store  storage.Storage
	prefix string
}

// NewArchiveShipper creates a shipper writing through store
func NewArchiveShipper(store storage.Storage, prefix string) *ArchiveShipper {
	return &ArchiveShipper{store: store, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for entry
func (as *ArchiveShipper) Key(entry *LogEntry) string {
	ts := entry.Timestamp.UTC()
	key := fmt.Sprintf("activity/%04d/%02d/%02d/%d.json", ts.Year(), int(ts.Month()), ts.Day(), entry.ID)
	if as.prefix == "" {
		return key
	}
	return path.Join(as.prefix, key)
}

// Ship stores the entry
func (as *ArchiveShipper) Ship(ctx context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity entry: %w", err)
	}

	key := as.Key(entry)
	if err := as.store.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return as.confirm(ctx, key, data)
		}
		return fmt.Errorf("failed to archive activity entry: %w", err)
	}
	return nil
}

// confirm checks that the object already stored at key is the one we would have written.
// Re-shipping a record is harmless; a differing object means the archive and the database
// disagree about history.
func (as *ArchiveShipper) confirm(ctx context.Context, key string, data []byte) error {
	rc, err := as.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read archived activity entry: %w", err)
	}
	defer rc.Close()

	same, err := checksum.Matches(rc, checksum.Sum(data))
	if err != nil {
		return fmt.Errorf("failed to read archived activity entry: %w", err)
	}
	if !same {
		return fmt.Errorf("%w: %s", ErrArchiveConflict, key)
	}
	slog.Debug("activity entry already archived", "key", key)
	return nil
}

// Close is a no-op; the storage backend outlives the shipper
func (as *ArchiveShipper) Close() error { return nil }
