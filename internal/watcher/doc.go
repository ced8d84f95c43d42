// Package watcher reports changes to a notes source, either a single JSON
// notes file or a directory of markdown notes.
//
// fsnotify is the primary mechanism. Polling is the fallback for
// filesystems where fsnotify cannot be used (network mounts, some
// container volumes). Events are debounced so an editor save or a sync
// client burst triggers one reconciliation rather than many.
//
// Usage:
//
//	w, err := watcher.New("notes/", watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx) }()
//	for batch := range w.Events() {
//	    // reconcile the collection again
//	}
package watcher
