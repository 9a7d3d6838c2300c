package change

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeInfo struct {
	name    string
	dir     bool
	modTime time.Time
}

func (info fakeInfo) Name() string       { return info.name }
func (info fakeInfo) Size() int64        { return 0 }
func (info fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (info fakeInfo) ModTime() time.Time { return info.modTime }
func (info fakeInfo) IsDir() bool        { return info.dir }
func (info fakeInfo) Sys() any           { return nil }

// fakeStat returns successive modification times for a path so tests can
// script what the deduplicator sees on each event.
type fakeStat struct {
	times []time.Time
	dirs  map[string]bool
}

func (stat *fakeStat) lookup(path string) (fs.FileInfo, error) {
	if stat.dirs[path] {
		return fakeInfo{name: filepath.Base(path), dir: true}, nil
	}
	if len(stat.times) == 0 {
		return nil, os.ErrNotExist
	}
	modTime := stat.times[0]
	stat.times = stat.times[1:]
	return fakeInfo{name: filepath.Base(path), modTime: modTime}, nil
}

func observeAll(deduplicator *Deduplicator, events []RawEvent) []Record {
	accepted := []Record{}
	for _, raw := range events {
		if record, ok := deduplicator.Observe(raw); ok {
			accepted = append(accepted, record)
		}
	}
	return accepted
}

func TestDeduplicatorAbsorbsChangesAfterCreate(t *testing.T) {
	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stat := &fakeStat{times: []time.Time{t1, t1, t1}}
	deduplicator := NewDeduplicator("/data", stat.lookup)

	path := "/data/a.txt"
	accepted := observeAll(deduplicator, []RawEvent{
		{Trigger: TriggerCreate, Name: "a.txt", FullPath: path},
		{Trigger: TriggerChange, Name: "a.txt", FullPath: path},
		{Trigger: TriggerChange, Name: "a.txt", FullPath: path},
	})

	if len(accepted) != 1 {
		t.Fatalf("expected 1 record, got %d", len(accepted))
	}
	if accepted[0].Trigger() != TriggerCreate {
		t.Fatalf("expected create record, got %s", accepted[0].Trigger())
	}
}

func TestDeduplicatorHonorsWriteTime(t *testing.T) {
	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	t2 := t1.Add(time.Second)
	stat := &fakeStat{times: []time.Time{t1, t1, t2}}
	deduplicator := NewDeduplicator("/data", stat.lookup)

	path := "/data/a.txt"
	accepted := observeAll(deduplicator, []RawEvent{
		{Trigger: TriggerChange, Name: "a.txt", FullPath: path},
		{Trigger: TriggerChange, Name: "a.txt", FullPath: path},
		{Trigger: TriggerChange, Name: "a.txt", FullPath: path},
	})

	if len(accepted) != 2 {
		t.Fatalf("expected 2 records, got %d", len(accepted))
	}
	_, modTime := deduplicator.Last()
	if !modTime.Equal(t2) {
		t.Fatalf("expected last mod time %s, got %s", t2, modTime)
	}
}

func TestDeduplicatorIgnoresDirectoryChange(t *testing.T) {
	stat := &fakeStat{dirs: map[string]bool{"/data/sub": true}}
	deduplicator := NewDeduplicator("/data", stat.lookup)

	for i := 0; i < 3; i++ {
		if _, ok := deduplicator.Observe(RawEvent{Trigger: TriggerChange, Name: "sub", FullPath: "/data/sub"}); ok {
			t.Fatalf("directory change %d produced a record", i)
		}
	}
	if record, ok := deduplicator.Observe(RawEvent{Trigger: TriggerDelete, Name: "sub", FullPath: "/data/sub"}); !ok || record.Trigger() != TriggerDelete {
		t.Fatalf("expected directory delete to be reported")
	}
}

func TestDeduplicatorComparesPathsCaseInsensitively(t *testing.T) {
	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stat := &fakeStat{times: []time.Time{t1, t1}}
	deduplicator := NewDeduplicator("/data", stat.lookup)

	accepted := observeAll(deduplicator, []RawEvent{
		{Trigger: TriggerCreate, Name: "A.TXT", FullPath: "/data/A.TXT"},
		{Trigger: TriggerChange, Name: "a.txt", FullPath: "/data/a.txt"},
	})
	if len(accepted) != 1 {
		t.Fatalf("expected 1 record, got %d", len(accepted))
	}
}

func TestDeduplicatorReportsDifferentPaths(t *testing.T) {
	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stat := &fakeStat{times: []time.Time{t1, t1, t1}}
	deduplicator := NewDeduplicator("/data", stat.lookup)

	accepted := observeAll(deduplicator, []RawEvent{
		{Trigger: TriggerCreate, Name: "a.txt", FullPath: "/data/a.txt"},
		{Trigger: TriggerCreate, Name: "b.txt", FullPath: "/data/b.txt"},
		{Trigger: TriggerChange, Name: "a.txt", FullPath: "/data/a.txt"},
	})
	if len(accepted) != 3 {
		t.Fatalf("expected 3 records, got %d", len(accepted))
	}
}

func TestDeduplicatorDropsInvalidEvents(t *testing.T) {
	deduplicator := NewDeduplicator("/data", (&fakeStat{}).lookup)
	if _, ok := deduplicator.Observe(RawEvent{Trigger: TriggerCreate, FullPath: "/data/a.txt"}); ok {
		t.Fatal("expected event without a name to be dropped")
	}
	if _, ok := deduplicator.Observe(RawEvent{Trigger: TriggerCreate, Name: "a.txt"}); ok {
		t.Fatal("expected event without a full path to be dropped")
	}
}

func TestDeduplicatorWithRealFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	deduplicator := NewDeduplicator(root, nil)

	if _, ok := deduplicator.Observe(RawEvent{Trigger: TriggerChange, Name: "a.txt", FullPath: path}); !ok {
		t.Fatal("expected first change to be reported")
	}
	if _, ok := deduplicator.Observe(RawEvent{Trigger: TriggerChange, Name: "a.txt", FullPath: path}); ok {
		t.Fatal("expected repeated change with the same write time to be suppressed")
	}
	if _, ok := deduplicator.Observe(RawEvent{Trigger: TriggerChange, Name: "", FullPath: root}); ok {
		t.Fatal("expected root directory change to be suppressed")
	}
}

func TestDeduplicatorCommitsModTimeInStatOrder(t *testing.T) {
	var (
		sampled  atomic.Int64
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	stat := func(path string) (fs.FileInfo, error) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)
		n := sampled.Add(1)
		time.Sleep(time.Microsecond)
		return fakeInfo{name: filepath.Base(path), modTime: time.Unix(0, n)}, nil
	}
	deduplicator := NewDeduplicator("/data", stat)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				deduplicator.Observe(RawEvent{Trigger: TriggerChange, Name: "a.txt", FullPath: "/data/a.txt"})
			}
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatal("expected stat to run inside the critical section")
	}
	_, modTime := deduplicator.Last()
	if want := time.Unix(0, sampled.Load()); !modTime.Equal(want) {
		t.Fatalf("expected last sampled mod time %v to be committed, got %v", want, modTime)
	}
}
