// Package store persists content records on the local filesystem, one
// flat file per key under the content directory. Records are created
// with an exclusive open so a key can only ever be written once.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	contentdrop "github.com/wolfeidau/content-drop"
	"github.com/wolfeidau/content-drop/telemetry"
)

// Store owns the content directory. All methods are safe for concurrent
// use; mutual exclusion for record creation comes from the filesystem's
// exclusive-create primitive.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a store rooted at dir, creating the directory if absent.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving content directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating content directory: %w", err)
	}
	return &Store{dir: absDir, logger: logger}, nil
}

// Dir returns the content directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the full record for key. A missing file yields the empty
// sentinel; other I/O and decode errors propagate.
func (s *Store) Load(key string) (*contentdrop.Content, error) {
	f, err := os.Open(filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return contentdrop.Empty(), nil
		}
		return nil, fmt.Errorf("opening record %s: %w", key, err)
	}
	defer f.Close()

	c, err := DecodeRecord(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", key, err)
	}
	return c, nil
}

// LoadMeta reads everything but the body for key. A missing file yields
// the empty sentinel.
func (s *Store) LoadMeta(key string) (*contentdrop.Content, error) {
	f, err := os.Open(filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return contentdrop.Empty(), nil
		}
		return nil, fmt.Errorf("opening record %s: %w", key, err)
	}
	defer f.Close()

	c, err := DecodeRecordMeta(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", key, err)
	}
	return c, nil
}

// Save persists a new record. If compressFirst is set the body is
// gzipped here, on the I/O worker, rather than on the request path. The
// fully-formed record is handed to resolve before any disk I/O so reads
// for the key are served from the cache immediately. The record file is
// then created with O_EXCL; a colliding key is logged and the write
// dropped, leaving the existing file untouched.
func (s *Store) Save(key, mediaType string, body []byte, expiry int64, compressFirst bool, resolve func(*contentdrop.Content)) {
	if compressFirst {
		body = contentdrop.Compress(body)
	}

	c := &contentdrop.Content{
		Key:       key,
		MediaType: mediaType,
		Expiry:    expiry,
		Body:      body,
	}
	resolve(c)

	path := filepath.Join(s.dir, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			s.logger.Info("record file already exists, dropping write", "key", key)
			return
		}
		s.logger.Error("creating record file", "key", key, "error", err)
		return
	}

	w := bufio.NewWriter(f)
	err = EncodeRecord(w, c)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		s.logger.Error("writing record file", "key", key, "error", err)
		_ = f.Close()
		_ = os.Remove(path)
		return
	}
	if err := f.Close(); err != nil {
		s.logger.Error("closing record file", "key", key, "error", err)
		_ = os.Remove(path)
		return
	}

	telemetry.RecordContentWrite(int64(len(body)))
}

// Delete removes the record file for key.
func (s *Store) Delete(key string) error {
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil {
		return fmt.Errorf("removing record %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys of all regular files currently in the content
// directory.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing content directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		keys = append(keys, entry.Name())
	}
	return keys, nil
}
