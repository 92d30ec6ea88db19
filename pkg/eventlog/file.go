package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

// FileStore persists each stream as an append-only JSONL file at
// {root}/events/{instance}/{user}.log. Each record is canonical-ordered
// JSON on one line. Appends fsync before returning.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates the store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "events"), 0o700); err != nil {
		return nil, fmt.Errorf("eventlog: create root: %w", err)
	}
	return &FileStore{root: dir}, nil
}

func (f *FileStore) path(s Stream) string {
	return filepath.Join(f.root, "events", s.InstanceID, s.UserID+".log")
}

func (f *FileStore) Append(ctx context.Context, s Stream, e contracts.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path(s)), 0o700); err != nil {
		return fmt.Errorf("eventlog: create stream dir: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}

	fh, err := os.OpenFile(f.path(s), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("eventlog: open stream: %w", err)
	}
	defer func() { _ = fh.Close() }()

	if _, err := fh.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("eventlog: write event: %w", err)
	}
	// Crash consistency: the record is durable before Append returns.
	if err := fh.Sync(); err != nil {
		return fmt.Errorf("eventlog: fsync: %w", err)
	}
	return nil
}

func (f *FileStore) ReadAll(ctx context.Context, s Stream) ([]contracts.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked(s)
}

func (f *FileStore) readLocked(s Stream) ([]contracts.Event, error) {
	fh, err := os.Open(f.path(s))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open stream: %w", err)
	}
	defer func() { _ = fh.Close() }()

	var events []contracts.Event
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e contracts.Event
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn final line after a crash is tolerated; a torn line in
			// the middle is corruption the chain walk will surface.
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan stream: %w", err)
	}
	return events, nil
}

func (f *FileStore) ReadAfter(ctx context.Context, s Stream, afterID string, limit int) ([]contracts.Event, error) {
	events, err := f.ReadAll(ctx, s)
	if err != nil {
		return nil, err
	}
	start := 0
	if afterID != "" {
		for i, e := range events {
			if e.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	out := events[start:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FileStore) Tail(ctx context.Context, s Stream) (*contracts.Event, error) {
	events, err := f.ReadAll(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[len(events)-1], nil
}
