package watcher

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"watchflow/internal/change"
)

// addTree adds root and every directory below it to source.
func (watcher *Watcher) addTree(source *fsnotify.Watcher, root string) error {
	dirs, err := collectRecursiveDirs(root)
	if err != nil {
		return err
	}
	for _, path := range dirs {
		if err := source.Add(path); err != nil {
			if path == root {
				return err
			}
			watcher.logWarn("watch add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		watcher.logDebug("watch added", path, len(source.WatchList()))
	}
	return nil
}

func collectRecursiveDirs(root string) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// watchCreated subscribes to a directory that appeared under the root. Items
// created inside it before the subscription took effect are reported as
// creates.
func (watcher *Watcher) watchCreated(path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	watcher.mutex.Lock()
	source := watcher.watcher
	watcher.mutex.Unlock()
	if source == nil {
		return
	}
	if err := watcher.addTree(source, path); err != nil {
		watcher.logWarn("watch add failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return
	}
	_ = filepath.WalkDir(path, func(child string, entry fs.DirEntry, err error) error {
		if err != nil || child == path {
			return nil
		}
		watcher.deliver(watcher.rawEvent(change.TriggerCreate, child))
		return nil
	})
}
