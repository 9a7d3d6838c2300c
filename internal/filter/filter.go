// Package filter decides whether a change record passes a watch's filters and
// exclusions.
package filter

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"watchflow/internal/change"
	"watchflow/internal/config"
)

type Attribute string

const (
	AttributeHidden     Attribute = "hidden"
	AttributeReadOnly   Attribute = "readonly"
	AttributeDirectory  Attribute = "directory"
	AttributeSymlink    Attribute = "symlink"
	AttributeExecutable Attribute = "executable"
	AttributeFile       Attribute = "file"
)

// Set is one group of match rules. A record matches the set when any entry
// in any category matches it.
type Set struct {
	files      []string
	folders    []string
	attributes []Attribute
	paths      []string
	lstat      func(string) (fs.FileInfo, error)
}

func NewSet(cfg config.FilterConfig) *Set {
	set := &Set{
		files:   normalizeEntries(cfg.Files),
		folders: normalizeEntries(cfg.Folders),
		paths:   normalizeEntries(cfg.Paths),
		lstat:   os.Lstat,
	}
	for _, attribute := range normalizeEntries(cfg.Attributes) {
		set.attributes = append(set.attributes, Attribute(attribute))
	}
	return set
}

func (set *Set) Empty() bool {
	return set == nil || (len(set.files) == 0 && len(set.folders) == 0 &&
		len(set.attributes) == 0 && len(set.paths) == 0)
}

// Matches reports whether record matches any rule of the set. Metadata that
// cannot be read counts as no match.
func (set *Set) Matches(record change.Record) bool {
	if set.Empty() {
		return false
	}
	fullPath := record.FullPath()
	name := strings.ToLower(filepath.Base(fullPath))
	for _, entry := range set.files {
		if matchEntry(entry, name) {
			return true
		}
	}
	if len(set.folders) > 0 {
		for _, folder := range folderSegments(record) {
			for _, entry := range set.folders {
				if matchEntry(entry, folder) {
					return true
				}
			}
		}
	}
	if len(set.paths) > 0 {
		lowered := strings.ToLower(filepath.ToSlash(fullPath))
		for _, entry := range set.paths {
			if strings.Contains(lowered, filepath.ToSlash(entry)) || matchEntry(filepath.ToSlash(entry), lowered) {
				return true
			}
		}
	}
	if len(set.attributes) > 0 {
		info, err := set.lstat(fullPath)
		if err != nil {
			return false
		}
		for _, attribute := range set.attributes {
			if hasAttribute(info, attribute) {
				return true
			}
		}
	}
	return false
}

// Gate combines a watch's filters and exclusions.
type Gate struct {
	filters    *Set
	exclusions *Set
}

func NewGate(filters, exclusions config.FilterConfig) *Gate {
	return &Gate{
		filters:    NewSet(filters),
		exclusions: NewSet(exclusions),
	}
}

// Allow reports whether record should be dispatched. Exclusions take
// precedence over filters; an empty filter set admits everything.
func (gate *Gate) Allow(record change.Record) bool {
	if gate == nil {
		return true
	}
	if gate.exclusions.Matches(record) {
		return false
	}
	if gate.filters.Empty() {
		return true
	}
	return gate.filters.Matches(record)
}

func normalizeEntries(values []string) []string {
	entries := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		entries = append(entries, value)
	}
	return entries
}

func matchEntry(entry, value string) bool {
	if entry == value {
		return true
	}
	if !strings.ContainsAny(entry, "*?[{") {
		return false
	}
	matched, err := doublestar.Match(entry, value)
	if err != nil {
		return false
	}
	return matched
}

// folderSegments lists the directories between the watch root and the item,
// lower-cased.
func folderSegments(record change.Record) []string {
	relative := filepath.ToSlash(change.RelativeName(record.WatchPath(), record.FullPath()))
	dir := strings.ToLower(filepath.ToSlash(filepath.Dir(relative)))
	if dir == "." || dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

func hasAttribute(info fs.FileInfo, attribute Attribute) bool {
	mode := info.Mode()
	switch attribute {
	case AttributeHidden:
		return strings.HasPrefix(info.Name(), ".")
	case AttributeReadOnly:
		return mode.Perm()&0o222 == 0
	case AttributeDirectory:
		return mode.IsDir()
	case AttributeSymlink:
		return mode&fs.ModeSymlink != 0
	case AttributeExecutable:
		return mode.IsRegular() && mode.Perm()&0o111 != 0
	case AttributeFile:
		return mode.IsRegular()
	default:
		return false
	}
}
