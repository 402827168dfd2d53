package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend keeps one JSON file per collection in Dir.
type FileBackend struct {
	Dir string
}

type envelope struct {
	Version   int64           `json:"version"`
	UpdatedAt string          `json:"updatedAt"`
	Data      json.RawMessage `json:"data"`
}

func (b FileBackend) Path(name string) string {
	return filepath.Join(b.Dir, name+".json")
}

func (b FileBackend) Read(ctx context.Context, name string) (Document, bool, error) {
	raw, err := os.ReadFile(b.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, false, nil
		}
		return Document{}, false, err
	}
	doc, err := parseDocument(raw)
	if err != nil {
		return Document{}, false, fmt.Errorf("parse %s: %w", b.Path(name), err)
	}
	return doc, true, nil
}

// parseDocument accepts the versioned envelope or a bare legacy JSON value,
// which reads as version 0.
func parseDocument(raw []byte) (Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Document{}, errors.New("empty file")
	}
	if !json.Valid(trimmed) {
		return Document{}, errors.New("invalid json")
	}
	if trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err == nil {
			_, hasVersion := probe["version"]
			_, hasData := probe["data"]
			if hasVersion && hasData {
				var env envelope
				if err := json.Unmarshal(trimmed, &env); err != nil {
					return Document{}, err
				}
				return Document{Version: env.Version, UpdatedAt: env.UpdatedAt, Data: env.Data}, nil
			}
		}
	}
	return Document{Data: json.RawMessage(trimmed)}, nil
}

// Write publishes through a synced temp file and rename. The version check
// and the rename are not one atomic step across processes.
func (b FileBackend) Write(ctx context.Context, name string, data json.RawMessage, updatedAt string, expected int64) (int64, error) {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return 0, err
	}
	var current int64
	if doc, ok, err := b.Read(ctx, name); err == nil && ok {
		current = doc.Version
	}
	if expected != AnyVersion && current != expected {
		return 0, fmt.Errorf("%s at version %d, expected %d: %w", name, current, expected, ErrConflict)
	}
	next := current + 1
	out, err := json.MarshalIndent(envelope{Version: next, UpdatedAt: updatedAt, Data: data}, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := writeAtomic(b.Path(name), out); err != nil {
		return 0, err
	}
	return next, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
