package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
)

const localScheme = "local://"

type localEntry struct {
	Data        []byte                 `json:"data"`
	ContentType string                 `json:"contentType,omitempty"`
	Size        int                    `json:"size"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Local keeps blobs in a single JSON file, keyed by local://<sha256>.
type Local struct {
	path   string
	logger log.Logger

	mu      sync.Mutex
	entries map[string]localEntry
}

var _ Gateway = (*Local)(nil)

func NewLocal(path string, logger log.Logger) (*Local, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("local storage path is required")
	}
	l := &Local{path: path, logger: logger.With(log.ModuleKey, "storage-local")}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Local) Type() string { return TypeLocal }

// load must be called with mu held or before l is shared.
func (l *Local) load() error {
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.entries = map[string]localEntry{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read local storage %s: %w", l.path, err)
	}
	entries := map[string]localEntry{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("parse local storage %s: %w", l.path, err)
		}
	}
	l.entries = entries
	return nil
}

func (l *Local) save() error {
	raw, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("save local storage: %w", err)
	}
	return os.Rename(tmp, l.path)
}

func (l *Local) Store(ctx context.Context, data []byte, opts StoreOptions) (*StoreResult, error) {
	hash := contentHash(data)
	uri := localScheme + hash

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[uri] = localEntry{
		Data:        append([]byte(nil), data...),
		ContentType: opts.ContentType,
		Size:        len(data),
		Metadata:    opts.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.save(); err != nil {
		delete(l.entries, uri)
		return nil, err
	}
	return &StoreResult{URI: uri, Hash: hash, Size: len(data)}, nil
}

func (l *Local) Retrieve(ctx context.Context, uri string) (*Object, error) {
	if !strings.HasPrefix(uri, localScheme) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[uri]
	if !ok {
		// Another process may have written the file since we loaded it.
		l.logger.Debug("entry not in memory, reloading", "uri", uri, "path", l.path)
		if err := l.load(); err != nil {
			return nil, err
		}
		e, ok = l.entries[uri]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, uri)
	}
	return &Object{
		Data:        append([]byte(nil), e.Data...),
		ContentType: e.ContentType,
		Size:        e.Size,
		Metadata:    e.Metadata,
	}, nil
}

func (l *Local) Exists(ctx context.Context, uri string) (bool, error) {
	if !strings.HasPrefix(uri, localScheme) {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[uri]
	return ok, nil
}

func (l *Local) Delete(ctx context.Context, uri string) (bool, error) {
	if !strings.HasPrefix(uri, localScheme) {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[uri]
	if !ok {
		return false, nil
	}
	delete(l.entries, uri)
	if err := l.save(); err != nil {
		l.entries[uri] = e
		return false, err
	}
	return true, nil
}
