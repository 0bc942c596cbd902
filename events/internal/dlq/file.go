package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/billhawk/billhawk/events/internal/model"
)

// ErrNotFound is returned by Delete for an unknown entry.
var ErrNotFound = errors.New("dead letter not found")

// ErrInvalidID is returned by Delete for an id that is not a dead-letter id.
var ErrInvalidID = errors.New("invalid dead letter id")

// FailedEvent is one dead letter as stored on disk. ReceivedAt is zero in
// entries written before the source message time was recorded.
type FailedEvent struct {
	ID         string              `json:"id"`
	FailedAt   time.Time           `json:"failed_at"`
	Reason     model.FailureReason `json:"reason"`
	Error      string              `json:"error,omitempty"`
	Topic      string              `json:"topic,omitempty"`
	Partition  int                 `json:"partition"`
	Offset     int64               `json:"offset"`
	ReceivedAt time.Time           `json:"received_at,omitempty"`
	Key        []byte              `json:"key,omitempty"`
	Payload    []byte              `json:"payload"`
}

// DeadLetter converts the entry back into a model.DeadLetter.
func (f FailedEvent) DeadLetter() model.DeadLetter {
	return model.DeadLetter{
		Payload:    f.Payload,
		Key:        f.Key,
		Reason:     f.Reason,
		Error:      f.Error,
		Topic:      f.Topic,
		Partition:  f.Partition,
		Offset:     f.Offset,
		ReceivedAt: f.ReceivedAt,
		FailedAt:   f.FailedAt,
	}
}

// Stats summarizes a FileQueue.
type Stats struct {
	BasePath string                      `json:"base_path" yaml:"base_path"`
	Written  uint64                      `json:"written" yaml:"written"`
	Pending  int                         `json:"pending" yaml:"pending"`
	ByReason map[model.FailureReason]int `json:"by_reason" yaml:"by_reason"`
}

// FileQueue writes one JSON file per dead letter. It is meant for local
// development and for replay tooling.
type FileQueue struct {
	basePath string
	mu       sync.Mutex
	written  uint64
}

// NewFileQueue creates a queue writing to basePath.
func NewFileQueue(basePath string) (*FileQueue, error) {
	if basePath == "" {
		basePath = "/var/lib/billhawk/dlq"
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	return &FileQueue{basePath: basePath}, nil
}

// Write records dl as a new file.
func (q *FileQueue) Write(ctx context.Context, dl model.DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate dlq id: %w", err)
	}
	failedAt := dl.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}

	entry := FailedEvent{
		ID:         id.String(),
		FailedAt:   failedAt,
		Reason:     dl.Reason,
		Error:      dl.Error,
		Topic:      dl.Topic,
		Partition:  dl.Partition,
		Offset:     dl.Offset,
		ReceivedAt: dl.ReceivedAt,
		Key:        dl.Key,
		Payload:    dl.Payload,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	// Write then rename so readers never see a partial file.
	name := fileName(entry.ID)
	tmp := filepath.Join(q.basePath, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(q.basePath, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit dlq entry: %w", err)
	}

	q.written++
	slog.DebugContext(ctx, "wrote dead letter", slog.String("file", name), slog.String("reason", string(dl.Reason)))
	return nil
}

func fileName(id string) string {
	return "failed_" + id + ".json"
}

// entries returns the dead-letter file names, oldest first. UUIDv7 ids sort
// by creation time.
func (q *FileQueue) entries() ([]string, error) {
	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), "failed_") || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names, nil
}

// List returns up to limit dead letters, oldest first. A non-positive limit
// returns all of them. Unreadable files are skipped.
func (q *FileQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return nil, err
	}

	var events []FailedEvent
	for _, name := range names {
		if limit > 0 && len(events) >= limit {
			break
		}

		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			slog.WarnContext(ctx, "failed to read dlq file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}

		var failed FailedEvent
		if err := json.Unmarshal(data, &failed); err != nil {
			slog.WarnContext(ctx, "failed to parse dlq file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		events = append(events, failed)
	}
	return events, nil
}

// Stats reports how many dead letters are pending, by reason.
func (q *FileQueue) Stats(ctx context.Context) (Stats, error) {
	events, err := q.List(ctx, 0)
	if err != nil {
		return Stats{}, err
	}

	q.mu.Lock()
	written := q.written
	q.mu.Unlock()

	s := Stats{
		BasePath: q.basePath,
		Written:  written,
		Pending:  len(events),
		ByReason: make(map[model.FailureReason]int),
	}
	for _, e := range events {
		s.ByReason[e.Reason]++
	}
	return s, nil
}

// Delete removes one dead letter by id.
func (q *FileQueue) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid id %q", ErrInvalidID, id)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err := os.Remove(filepath.Join(q.basePath, fileName(id)))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete dlq file: %w", err)
	}
	return nil
}

// Purge removes every dead letter and returns how many were removed.
func (q *FileQueue) Purge(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			slog.WarnContext(ctx, "failed to delete dlq file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		deleted++
	}

	slog.InfoContext(ctx, "purged dead letters", slog.Int("count", deleted))
	return deleted, nil
}
