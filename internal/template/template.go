// Package template expands bracketed placeholders such as [fullpath] or
// [modifieddate:yyyy-MM-dd] against a change record.
package template

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"watchflow/internal/change"
)

// Context carries the values placeholders resolve to.
type Context struct {
	WatchPath string
	FullPath  string
	OldPath   string
	Trigger   change.Trigger
	Variables map[string]string

	Now    func() time.Time
	Stat   func(string) (fs.FileInfo, error)
	Getenv func(string) string
}

// ForRecord builds a Context from an accepted change.
func ForRecord(record change.Record, variables map[string]string) Context {
	return Context{
		WatchPath: record.WatchPath(),
		FullPath:  record.FullPath(),
		OldPath:   record.OldPath(),
		Trigger:   record.Trigger(),
		Variables: variables,
	}
}

// Substitute expands every known placeholder in text. Unknown placeholders
// and unbalanced brackets are copied through unchanged.
func Substitute(text string, ctx Context) string {
	if !strings.Contains(text, "[") {
		return text
	}
	ctx = ctx.withDefaults()
	var builder strings.Builder
	remaining := text
	for {
		start := strings.IndexByte(remaining, '[')
		if start < 0 {
			builder.WriteString(remaining)
			break
		}
		builder.WriteString(remaining[:start])
		end := matchingBracket(remaining, start)
		if end < 0 {
			builder.WriteString(remaining[start:])
			break
		}
		token := remaining[start+1 : end]
		if value, ok := ctx.resolve(token); ok {
			builder.WriteString(value)
		} else {
			builder.WriteString(remaining[start : end+1])
		}
		remaining = remaining[end+1:]
	}
	return builder.String()
}

func (ctx Context) withDefaults() Context {
	if ctx.Now == nil {
		ctx.Now = time.Now
	}
	if ctx.Stat == nil {
		ctx.Stat = os.Stat
	}
	if ctx.Getenv == nil {
		ctx.Getenv = os.Getenv
	}
	return ctx
}

// matchingBracket returns the index of the ']' closing the '[' at start,
// honouring nesting, or -1.
func matchingBracket(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (ctx Context) resolve(token string) (string, bool) {
	key, argument, hasArgument := strings.Cut(token, ":")
	key = strings.ToLower(strings.TrimSpace(key))
	if hasArgument {
		switch key {
		case "createddate":
			return formatDate(ctx.fileTime(ctx.FullPath), argument), true
		case "modifieddate":
			return formatDate(ctx.fileTime(ctx.FullPath), argument), true
		case "currentdate":
			return formatDate(ctx.Now(), argument), true
		case "env":
			return ctx.Getenv(strings.TrimSpace(argument)), true
		case "urlenc":
			return url.QueryEscape(Substitute(argument, ctx)), true
		}
		return "", false
	}

	switch key {
	case "watchpath":
		return ctx.WatchPath, true
	case "fullpath":
		return ctx.FullPath, true
	case "path":
		return filepath.Dir(ctx.FullPath), true
	case "relpath":
		return change.RelativeName(ctx.WatchPath, ctx.FullPath), true
	case "name":
		return filepath.Base(ctx.FullPath), true
	case "filename":
		return fileName(ctx.FullPath), true
	case "extension":
		return filepath.Ext(ctx.FullPath), true
	case "trigger":
		return ctx.Trigger.String(), true
	case "oldfullpath":
		return ctx.OldPath, true
	case "oldpath":
		return dirOrEmpty(ctx.OldPath), true
	case "oldname":
		return baseOrEmpty(ctx.OldPath), true
	case "oldfilename":
		return fileName(ctx.OldPath), true
	case "oldextension":
		return filepath.Ext(ctx.OldPath), true
	}

	if value, ok := ctx.Variables[token]; ok {
		return value, true
	}
	for name, value := range ctx.Variables {
		if strings.EqualFold(name, token) {
			return value, true
		}
	}
	return "", false
}

// fileTime returns the modification time of path. Birth time is not exposed
// portably, so created and modified dates share it. Missing files use now.
func (ctx Context) fileTime(path string) time.Time {
	if path == "" {
		return ctx.Now()
	}
	info, err := ctx.Stat(path)
	if err != nil {
		return ctx.Now()
	}
	return info.ModTime()
}

func fileName(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func dirOrEmpty(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}

func baseOrEmpty(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
