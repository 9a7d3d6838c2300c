package change

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
)

var ErrInvalidRecord = errors.New("change record requires a name and a full path")

// RawEvent is one notification as reported by the operating system, before
// deduplication. OldName and OldPath are only set for renames.
type RawEvent struct {
	Trigger  Trigger
	Name     string
	FullPath string
	OldName  string
	OldPath  string
}

// Record is an accepted semantic change. It is immutable; copies are cheap and
// safe to share between goroutines.
type Record struct {
	trigger   Trigger
	watchPath string
	name      string
	fullPath  string
	oldName   string
	oldPath   string
}

// NewRecord builds a record for a raw event observed under watchPath.
func NewRecord(watchPath string, raw RawEvent) (Record, error) {
	if strings.TrimSpace(raw.Name) == "" || strings.TrimSpace(raw.FullPath) == "" {
		return Record{}, ErrInvalidRecord
	}
	record := Record{
		trigger:   raw.Trigger,
		watchPath: watchPath,
		name:      raw.Name,
		fullPath:  raw.FullPath,
	}
	if raw.Trigger == TriggerRename {
		record.oldName = raw.OldName
		record.oldPath = raw.OldPath
	}
	return record, nil
}

// RelativeName returns fullPath relative to watchPath, falling back to the base
// name when the path is outside the root.
func RelativeName(watchPath, fullPath string) string {
	if watchPath != "" {
		if rel, err := filepath.Rel(watchPath, fullPath); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return filepath.Base(fullPath)
}

func (record Record) Trigger() Trigger  { return record.trigger }
func (record Record) WatchPath() string { return record.watchPath }
func (record Record) Name() string      { return record.name }
func (record Record) FullPath() string  { return record.fullPath }
func (record Record) OldName() string   { return record.oldName }
func (record Record) OldPath() string   { return record.oldPath }

// IsZero reports whether the record was never constructed.
func (record Record) IsZero() bool {
	return record.fullPath == ""
}

// SamePath compares full paths the way the deduplicator does: case-insensitively.
func (record Record) SamePath(other Record) bool {
	if record.IsZero() || other.IsZero() {
		return false
	}
	return strings.EqualFold(record.fullPath, other.fullPath)
}

type recordJSON struct {
	Trigger   Trigger `json:"trigger"`
	WatchPath string  `json:"watch_path"`
	Name      string  `json:"name"`
	FullPath  string  `json:"full_path"`
	OldName   string  `json:"old_name,omitempty"`
	OldPath   string  `json:"old_path,omitempty"`
}

func (record Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Trigger:   record.trigger,
		WatchPath: record.watchPath,
		Name:      record.name,
		FullPath:  record.fullPath,
		OldName:   record.oldName,
		OldPath:   record.oldPath,
	})
}
