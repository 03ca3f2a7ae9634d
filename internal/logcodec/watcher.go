package logcodec

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TemplateWatcher reloads a TemplateSet whenever its backing file changes.
// A failed reload is logged and the previously loaded templates stay active.
type TemplateWatcher struct {
	path    string
	set     *TemplateSet
	watcher *fsnotify.Watcher

	// OnReload, if set, is called after every reload attempt.
	OnReload func(err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewTemplateWatcher creates a watcher for path feeding set.
// The directory is watched rather than the file so that editors which
// replace files via rename are still picked up.
func NewTemplateWatcher(path string, set *TemplateSet) (*TemplateWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &TemplateWatcher{
		path:    abs,
		set:     set,
		watcher: watcher,
	}, nil
}

// Start begins watching in the background.
func (tw *TemplateWatcher) Start(ctx context.Context) error {
	if err := tw.watcher.Add(filepath.Dir(tw.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(tw.path), err)
	}

	tw.ctx, tw.cancel = context.WithCancel(ctx)
	tw.wg.Add(1)
	go tw.watchLoop()
	return nil
}

// Stop ends the watch loop and releases the watcher. Safe to call more than once.
func (tw *TemplateWatcher) Stop() {
	tw.once.Do(func() {
		if tw.cancel != nil {
			tw.cancel()
		}
		tw.watcher.Close()
		tw.wg.Wait()
	})
}

func (tw *TemplateWatcher) watchLoop() {
	defer tw.wg.Done()

	for {
		select {
		case <-tw.ctx.Done():
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != tw.path {
				continue
			}
			tw.reload()

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  templates: watcher error: %v\n", err)
		}
	}
}

func (tw *TemplateWatcher) reload() {
	templates, err := LoadTemplateFile(tw.path)
	if err != nil {
		log.Printf("⚠️  templates: reload failed, keeping previous set: %v\n", err)
	} else {
		tw.set.Replace(templates)
		log.Printf("📝 templates: reloaded %d templates from %s\n", len(templates), filepath.Base(tw.path))
	}

	if tw.OnReload != nil {
		tw.OnReload(err)
	}
}
