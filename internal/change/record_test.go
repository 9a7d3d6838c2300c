package change

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewRecordRequiresNameAndPath(t *testing.T) {
	cases := []RawEvent{
		{Trigger: TriggerCreate, FullPath: "/data/a.txt"},
		{Trigger: TriggerCreate, Name: "a.txt"},
		{Trigger: TriggerCreate, Name: "  ", FullPath: "/data/a.txt"},
	}
	for index, raw := range cases {
		if _, err := NewRecord("/data", raw); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("case %d: expected ErrInvalidRecord, got %v", index, err)
		}
	}
}

func TestNewRecordKeepsOldPathOnlyForRenames(t *testing.T) {
	rename, err := NewRecord("/data", RawEvent{
		Trigger:  TriggerRename,
		Name:     "b.txt",
		FullPath: "/data/b.txt",
		OldName:  "a.txt",
		OldPath:  "/data/a.txt",
	})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if rename.OldPath() != "/data/a.txt" || rename.OldName() != "a.txt" {
		t.Fatalf("unexpected old values %q %q", rename.OldName(), rename.OldPath())
	}

	create, err := NewRecord("/data", RawEvent{
		Trigger:  TriggerCreate,
		Name:     "b.txt",
		FullPath: "/data/b.txt",
		OldPath:  "/data/a.txt",
	})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if create.OldPath() != "" {
		t.Fatalf("expected no old path on create, got %q", create.OldPath())
	}
}

func TestRecordMarshalJSON(t *testing.T) {
	record, err := NewRecord("/data", RawEvent{Trigger: TriggerCreate, Name: "a.txt", FullPath: "/data/a.txt"})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"trigger":"create"`) {
		t.Fatalf("unexpected payload %s", payload)
	}
	if strings.Contains(string(payload), "old_path") {
		t.Fatalf("expected old_path to be omitted: %s", payload)
	}
}

func TestRelativeName(t *testing.T) {
	cases := []struct {
		root     string
		path     string
		expected string
	}{
		{root: "/data", path: "/data/a.txt", expected: "a.txt"},
		{root: "/data", path: "/data/sub/a.txt", expected: "sub/a.txt"},
		{root: "/data", path: "/other/a.txt", expected: "a.txt"},
		{root: "", path: "/data/a.txt", expected: "a.txt"},
	}
	for _, testCase := range cases {
		if got := RelativeName(testCase.root, testCase.path); got != testCase.expected {
			t.Fatalf("RelativeName(%q, %q) = %q, want %q", testCase.root, testCase.path, got, testCase.expected)
		}
	}
}
