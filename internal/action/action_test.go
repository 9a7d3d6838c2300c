package action

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"watchflow/internal/change"
	"watchflow/internal/config"
	"watchflow/internal/fileops"
	"watchflow/internal/logging"
)

type recordingFiles struct {
	calls []string
	fail  error
}

func (files *recordingFiles) Copy(ctx context.Context, src, dst string, options fileops.Options) error {
	files.calls = append(files.calls, "copy "+src+" "+dst)
	return files.fail
}

func (files *recordingFiles) Move(ctx context.Context, src, dst string, options fileops.Options) error {
	files.calls = append(files.calls, "move "+src+" "+dst)
	return files.fail
}

func (files *recordingFiles) Delete(path string) error {
	files.calls = append(files.calls, "delete "+path)
	return files.fail
}

func createRecord(t *testing.T, root, fullPath string) change.Record {
	t.Helper()
	record, err := change.NewRecord(root, change.RawEvent{
		Trigger:  change.TriggerCreate,
		Name:     change.RelativeName(root, fullPath),
		FullPath: fullPath,
	})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	return record
}

func TestActionsRunMatchingTriggersInOrder(t *testing.T) {
	files := &recordingFiles{}
	actions, err := New([]config.ActionConfig{
		{Type: config.ActionCopy, Triggers: []string{"create"}, Destination: "/backup/[filename][extension]"},
		{Type: config.ActionMove, Triggers: []string{"delete"}, Destination: "/never"},
		{Type: config.ActionDelete, Source: "/tmp/[name]"},
	}, files, nil, nil)
	if err != nil {
		t.Fatalf("new actions: %v", err)
	}

	actions.Run(context.Background(), createRecord(t, "/data", "/data/a.txt"), change.TriggerCreate)

	want := []string{"copy /data/a.txt /backup/a.txt", "delete /tmp/a.txt"}
	if diff := cmp.Diff(want, files.calls); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
}

func TestActionFailureIsLoggedNotPropagated(t *testing.T) {
	buffer := logging.NewLogBuffer(10)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelInfo, io.Discard)
	files := &recordingFiles{fail: errors.New("disk full")}
	actions, err := New([]config.ActionConfig{
		{Type: config.ActionCopy, Destination: "/backup/[name]"},
		{Type: config.ActionCopy, Destination: "/mirror/[name]"},
	}, files, nil, logger)
	if err != nil {
		t.Fatalf("new actions: %v", err)
	}

	actions.Run(context.Background(), createRecord(t, "/data", "/data/a.txt"), change.TriggerCreate)

	if len(files.calls) != 2 {
		t.Fatalf("expected both actions to run, got %v", files.calls)
	}
	entries := buffer.List()
	if len(entries) != 2 || entries[0].Level != logging.LevelError || entries[0].Context["error"] != "disk full" {
		t.Fatalf("expected error log entries, got %+v", entries)
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	if _, err := New([]config.ActionConfig{{Type: "zip"}}, &recordingFiles{}, nil, nil); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestCopyActionWritesBackup(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	backupDir := filepath.Join(root, "backup")
	source := filepath.Join(dataDir, "a.txt")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(source, []byte("content"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	item, err := NewAction(config.ActionConfig{
		Type:        config.ActionCopy,
		Destination: backupDir + "/[filename][extension]",
		Verify:      true,
	}, fileops.New(nil), nil, nil)
	if err != nil {
		t.Fatalf("new action: %v", err)
	}
	if !item.Run(context.Background(), createRecord(t, dataDir, source), change.TriggerCreate) {
		t.Fatal("expected copy to succeed")
	}
	data, err := os.ReadFile(filepath.Join(backupDir, "a.txt"))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(data) != "content" {
		t.Fatalf("unexpected backup content %q", data)
	}
}
