package memory

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// fileWatcher feeds filesystem changes under the workspace into the
// runtime's debounced sync queue. Only markdown files are tracked; new
// directories under memory/ are added to the watch set as they appear.
type fileWatcher struct {
	watcher   *fsnotify.Watcher
	workspace string
	logger    zerolog.Logger
	onChange  func(relPath string)
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func newFileWatcher(r *Runtime) (*fileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &fileWatcher{
		watcher:   watcher,
		workspace: r.workspace,
		logger:    r.logger,
		onChange:  func(rel string) { r.scheduleSync(rel) },
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if err := fw.watchTree(); err != nil {
		watcher.Close()
		return nil, err
	}

	go fw.run()
	return fw, nil
}

// watchTree registers the workspace root and every directory under
// memory/. fsnotify watches are not recursive, so each directory is added
// individually.
func (fw *fileWatcher) watchTree() error {
	if err := fw.watcher.Add(fw.workspace); err != nil {
		return err
	}
	memRoot := filepath.Join(fw.workspace, memoryDir)
	if _, err := os.Stat(memRoot); err != nil {
		return nil
	}
	return filepath.WalkDir(memRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if werr := fw.watcher.Add(path); werr != nil {
				fw.logger.Warn().Err(werr).Str("dir", path).Msg("directory not watched")
			}
		}
		return nil
	})
}

func (fw *fileWatcher) close() {
	close(fw.stopCh)
	fw.watcher.Close()
	<-fw.doneCh
}

func (fw *fileWatcher) run() {
	defer close(fw.doneCh)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("file watcher error")

		case <-fw.stopCh:
			return
		}
	}
}

func (fw *fileWatcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if strings.HasPrefix(event.Name, filepath.Join(fw.workspace, memoryDir)) {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.logger.Warn().Err(err).Str("dir", event.Name).Msg("new directory not watched")
				}
			}
			return
		}
	}

	if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(fw.workspace, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	fw.logger.Debug().
		Str("file", rel).
		Str("op", event.Op.String()).
		Msg("file change detected")
	fw.onChange(rel)
}
