// Package watcher turns fsnotify notifications for one directory tree into
// change.RawEvent values. Subdirectories are watched as they appear, a Rename
// followed by a Create is reported as one rename, and a failed subscription
// is restarted a bounded number of times.
package watcher
