// Package dlq keeps events whose storage write failed so they can be
// inspected and replayed.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// DefaultPath is used when no base path is configured.
const DefaultPath = "/var/lib/nos-analytics/dlq"

// ReasonStorage tags events rejected by the storage backend.
const ReasonStorage = "storage_write"

var (
	ErrDisabled = errors.New("dlq not enabled")
	ErrNotFound = errors.New("dlq entry not found")
)

// Writer accepts failed events.
type Writer interface {
	Write(ctx context.Context, e *models.Event, err error, reason string) error
}

// Store is a Writer whose entries can be inspected and drained.
type Store interface {
	Writer
	List(ctx context.Context, limit int) ([]FailedEvent, error)
	Delete(ctx context.Context, id string) error
	Purge(ctx context.Context) (int, error)
	Stats(ctx context.Context) Stats
}

var (
	_ Store = (*Queue)(nil)
	_ Store = (*JetStreamQueue)(nil)
)

// FailedEvent is one dead-lettered event.
type FailedEvent struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Event         *models.Event `json:"event"`
	SourceAddress string        `json:"source_address,omitempty"`
	UserAgent     string        `json:"user_agent,omitempty"`
	ReceivedAt    time.Time     `json:"received_at"`
	Error         string        `json:"error"`
	Reason        string        `json:"reason"`
	Attempts      int           `json:"attempts"`
}

func newFailedEvent(id string, e *models.Event, err error, reason string, now time.Time) FailedEvent {
	f := FailedEvent{
		ID:        id,
		Timestamp: now,
		Event:     e,
		Reason:    reason,
		Attempts:  1,
	}
	if err != nil {
		f.Error = err.Error()
	}
	if e != nil {
		f.SourceAddress = e.SourceAddress
		f.UserAgent = e.UserAgent
		f.ReceivedAt = e.ReceivedAt
	}
	return f
}

// Queue writes failed events to a directory, one JSON file each.
type Queue struct {
	basePath string
	logger   *logging.Logger

	mu      sync.Mutex
	written uint64
}

// NewQueue creates a file DLQ rooted at basePath.
func NewQueue(basePath string, logger *logging.Logger) (*Queue, error) {
	if basePath == "" {
		basePath = DefaultPath
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &Queue{basePath: basePath, logger: logger}, nil
}

// Write records a failed event. A nil Queue discards it.
func (q *Queue) Write(ctx context.Context, e *models.Event, err error, reason string) error {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	id := fmt.Sprintf("failed_%d_%d", now.UnixNano(), q.written)
	data, marshalErr := json.MarshalIndent(newFailedEvent(id, e, err, reason, now), "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}
	if err := os.WriteFile(filepath.Join(q.basePath, id+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	metrics.DLQWrites.WithLabelValues(reason).Inc()
	q.logger.InfoContext(ctx, "dlq entry written", "id", id, "reason", reason)
	return nil
}

func (q *Queue) entries() ([]string, error) {
	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names, nil
}

// List returns up to limit entries, oldest first. limit <= 0 returns all.
func (q *Queue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return nil, err
	}

	events := make([]FailedEvent, 0, len(names))
	for _, name := range names {
		if limit > 0 && len(events) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.WarnContext(ctx, "failed to read dlq file", "file", name, logging.Error(err))
			continue
		}
		var f FailedEvent
		if err := json.Unmarshal(data, &f); err != nil {
			q.logger.WarnContext(ctx, "failed to parse dlq file", "file", name, logging.Error(err))
			continue
		}
		events = append(events, f)
	}
	return events, nil
}

// Delete removes the entry with the given ID.
func (q *Queue) Delete(_ context.Context, id string) error {
	if q == nil {
		return ErrDisabled
	}
	if id == "" || strings.ContainsAny(id, `/\`) {
		return ErrNotFound
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err := os.Remove(filepath.Join(q.basePath, id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete dlq file: %w", err)
	}
	return nil
}

// Purge removes every entry and returns how many were deleted.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.WarnContext(ctx, "failed to delete dlq file", "file", name, logging.Error(err))
			continue
		}
		deleted++
	}
	q.logger.InfoContext(ctx, "dlq purged", "deleted", deleted)
	return deleted, nil
}

// Stats describes the queue state.
type Stats struct {
	Enabled  bool   `json:"enabled"`
	Backend  string `json:"backend"`
	Written  uint64 `json:"written"`
	Pending  int    `json:"pending"`
	BasePath string `json:"base_path,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (q *Queue) Stats(_ context.Context) Stats {
	if q == nil {
		return Stats{Backend: "file"}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Enabled: true, Backend: "file", Written: q.written, BasePath: q.basePath}
	names, err := q.entries()
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Pending = len(names)
	return s
}
