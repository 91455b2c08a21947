package watcher

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type EventType string

const (
	EventCreate EventType = "create"
	EventWrite  EventType = "write"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
)

var eventTypes = [...]EventType{EventCreate, EventWrite, EventRemove, EventRename}

const eventTypeCount = len(eventTypes)

func (t EventType) index() (int, bool) {
	i := slices.Index(eventTypes[:], t)
	return i, i >= 0
}

type FileEvent struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// FilterConfig selects files by the suffix of their base name.
type FilterConfig struct {
	AllowedExtensions []string // empty allows everything
	IgnorePatterns    []string
}

// InboxFilterConfig skips editor and Finder litter. Extracted entries end in
// .tmp, so that suffix is not ignored here.
func InboxFilterConfig() FilterConfig {
	return FilterConfig{
		IgnorePatterns: []string{".swp", ".DS_Store", "~"},
	}
}

func (fc FilterConfig) ShouldProcess(path string) bool {
	name := filepath.Base(path)
	hasSuffix := func(s string) bool { return strings.HasSuffix(name, s) }
	if len(fc.AllowedExtensions) > 0 && !slices.ContainsFunc(fc.AllowedExtensions, hasSuffix) {
		return false
	}
	return !slices.ContainsFunc(fc.IgnorePatterns, hasSuffix)
}
