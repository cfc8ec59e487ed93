package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"licenselock/internal/license"
)

// ErrStoreLocked is returned when another process holds the database open.
var ErrStoreLocked = errors.New("license database is in use by another process")

// fileDocument is the on-disk layout. The "used" and "deviceId" members keep
// databases written by earlier deployments readable.
type fileDocument struct {
	Keys map[string]fileEntry `json:"keys"`
}

type fileEntry struct {
	Used        bool            `json:"used"`
	DeviceID    json.RawMessage `json:"deviceId,omitempty"`
	Suspended   bool            `json:"suspended,omitempty"`
	Origin      string          `json:"origin,omitempty"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
	ActivatedAt *time.Time      `json:"activatedAt,omitempty"`
	SuspendedAt *time.Time      `json:"suspendedAt,omitempty"`
}

// FileStore is a MemoryStore whose contents are rewritten to a JSON file
// after every mutation. The file is replaced atomically so a crash leaves
// either the old or the new document. One process at a time may hold the
// database; the holder keeps an advisory lock on "<path>.lock" until Close.
type FileStore struct {
	*MemoryStore
	path string
	lock *flock.Flock
}

// NewFileStore loads path, creating an empty database when it does not exist.
// It fails with ErrStoreLocked while another process has the database open.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	lock := flock.New(LockPath(path))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock license database: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, path)
	}

	records, err := loadFile(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	fsStore := &FileStore{MemoryStore: NewMemoryStore(), path: path, lock: lock}
	fsStore.records = records
	fsStore.persist = fsStore.save

	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		if err := fsStore.save(records); err != nil {
			_ = lock.Unlock()
			return nil, err
		}
	}
	return fsStore, nil
}

// LockPath returns the advisory lock file guarding the database at path.
func LockPath(path string) string {
	return path + ".lock"
}

// Close releases the database lock.
func (s *FileStore) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock license database: %w", err)
	}
	return nil
}

// Path returns the database file location
func (s *FileStore) Path() string {
	return s.path
}

// Ping checks that the database directory still exists.
func (s *FileStore) Ping(_ context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat store directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store directory %s is not a directory", dir)
	}
	return nil
}

func loadFile(path string) (map[string]license.Record, error) {
	records := make(map[string]license.Record)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read license database: %w", err)
	}
	if len(data) == 0 {
		return records, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse license database %s: %w", path, err)
	}

	unbound := 0
	for id, entry := range doc.Keys {
		rec := entry.record(id)
		if rec.Locked() && rec.BoundDeviceID == license.UnknownDevice {
			unbound++
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("license database %s: %w", path, err)
		}
		records[id] = rec
	}
	if unbound > 0 {
		slog.Warn("Redeemed licenses without a usable device id stay locked until reset",
			slog.String("path", path),
			slog.Int("count", unbound))
	}
	return records, nil
}

// deviceID reads the deviceId member. Numbers and booleans are taken as their
// literal text; null, absent, empty and structured values yield "".
func (e fileEntry) deviceID() string {
	raw := strings.TrimSpace(string(e.DeviceID))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.DeviceID, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if raw[0] == '{' || raw[0] == '[' {
		return ""
	}
	return raw
}

func (e fileEntry) record(id string) license.Record {
	rec := license.Record{
		Identifier:  id,
		State:       license.StateUnredeemed,
		Suspended:   e.Suspended,
		Origin:      license.Origin(e.Origin),
		ActivatedAt: e.ActivatedAt,
		SuspendedAt: e.SuspendedAt,
	}
	if e.CreatedAt != nil {
		rec.CreatedAt = *e.CreatedAt
	}
	if e.Used {
		rec.State = license.StateLocked
		rec.BoundDeviceID = e.deviceID()
		if rec.BoundDeviceID == "" {
			rec.BoundDeviceID = license.UnknownDevice
		}
	}
	return rec
}

func entryFor(rec license.Record) fileEntry {
	entry := fileEntry{
		Used:        rec.Locked(),
		Suspended:   rec.Suspended,
		Origin:      string(rec.Origin),
		ActivatedAt: rec.ActivatedAt,
		SuspendedAt: rec.SuspendedAt,
	}
	if rec.Locked() {
		entry.DeviceID, _ = json.Marshal(rec.BoundDeviceID)
	} else {
		entry.DeviceID = json.RawMessage("null")
	}
	if !rec.CreatedAt.IsZero() {
		created := rec.CreatedAt
		entry.CreatedAt = &created
	}
	return entry
}

func (s *FileStore) save(records map[string]license.Record) error {
	doc := fileDocument{Keys: make(map[string]fileEntry, len(records))}
	for id, rec := range records {
		doc.Keys[id] = entryFor(rec)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode license database: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp database: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp database: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp database: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace license database: %w", err)
	}
	return nil
}
