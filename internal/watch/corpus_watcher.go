package watch

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

type Operation string

const (
	FileCreated  Operation = "created"
	FileModified Operation = "modified"
	FileRemoved  Operation = "removed"
	FileRenamed  Operation = "renamed"
)

type FileEvent struct {
	Path      string
	Operation Operation
}

// CorpusWatcher reports changes to corpus files. The corpus is immutable for
// the life of the process, so changes only take effect after a restart.
type CorpusWatcher struct {
	watcher    *fsnotify.Watcher
	extensions map[string]struct{}
}

func NewCorpusWatcher(extensions []string) (*CorpusWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &CorpusWatcher{watcher: w, extensions: exts}, nil
}

// Watch emits events for files in dir with a watched extension until ctx is
// done or the watcher is stopped.
func (w *CorpusWatcher) Watch(ctx context.Context, dir string) (<-chan FileEvent, error) {
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}

	events := make(chan FileEvent, 100)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.watched(event.Name) {
					continue
				}

				var op Operation
				switch {
				case event.Has(fsnotify.Create):
					op = FileCreated
				case event.Has(fsnotify.Write):
					op = FileModified
				case event.Has(fsnotify.Remove):
					op = FileRemoved
				case event.Has(fsnotify.Rename):
					op = FileRenamed
				default:
					continue
				}

				select {
				case events <- FileEvent{Path: event.Name, Operation: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Corpus watcher error: %v", err)
			}
		}
	}()
	return events, nil
}

// LogChanges logs every event as a restart reminder until events closes.
func LogChanges(events <-chan FileEvent) {
	for ev := range events {
		log.Printf("Corpus file %s was %s; restart required to re-ingest", filepath.Base(ev.Path), ev.Operation)
	}
}

func (w *CorpusWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *CorpusWatcher) watched(path string) bool {
	_, ok := w.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
