// Package docstore implements the document provider (spec §4.10): a
// narrow read/write/append/list/create interface over (workflow, tag,
// path), backed by default by a plain file tree. The provider is optional
// at kernel level — callers that have none reply to document tools with a
// diagnostic error instead of wiring this package in.
package docstore

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/halvorsen/agentkernel/internal/kernelerr"
)

// Provider is the document-store contract the tool dispatcher depends on.
type Provider interface {
	Read(workflow, tag, path string) (content string, found bool, err error)
	Write(workflow, tag, path, content string) error
	Append(workflow, tag, path, content string) error
	List(workflow, tag string) ([]string, error)
	Create(workflow, tag, path, content string) error
}

// FileStore is the default file-tree-backed Provider. It watches its base
// directory with fsnotify and invalidates its per-(workflow,tag) list()
// cache on external edits, the way the teacher's notifier debounces
// filesystem events into a single downstream signal.
type FileStore struct {
	baseDir string
	logger  *log.Logger

	mu    sync.Mutex
	cache map[string][]string // "workflow/tag" -> cached list() result

	watcher     *fsnotify.Watcher
	debounce    time.Duration
	closeOnce   sync.Once
	stopWatchCh chan struct{}
}

var _ Provider = (*FileStore)(nil)

// NewFileStore creates a file-backed document provider rooted at baseDir.
// Watching starts immediately; call Close to stop it.
func NewFileStore(baseDir string, logger *log.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, kernelerr.Wrap(kernelerr.Internal, "create document root", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Internal, "start document watcher", err)
	}
	if err := watcher.Add(baseDir); err != nil {
		watcher.Close()
		return nil, kernelerr.Wrap(kernelerr.Internal, "watch document root", err)
	}

	store := &FileStore{
		baseDir:     baseDir,
		logger:      logger,
		cache:       map[string][]string{},
		watcher:     watcher,
		debounce:    200 * time.Millisecond,
		stopWatchCh: make(chan struct{}),
	}
	go store.watchLoop()
	return store, nil
}

// Close stops the filesystem watcher.
func (f *FileStore) Close() {
	f.closeOnce.Do(func() {
		close(f.stopWatchCh)
		f.watcher.Close()
	})
}

func (f *FileStore) watchLoop() {
	var timer *time.Timer
	invalidate := func() {
		f.mu.Lock()
		f.cache = map[string][]string{}
		f.mu.Unlock()
	}
	for {
		select {
		case <-f.stopWatchCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(f.debounce, invalidate)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			if f.logger != nil {
				f.logger.Printf("document watcher error: %v", err)
			}
		}
	}
}

func (f *FileStore) resolve(workflow, tag, path string) (string, error) {
	full := filepath.Join(f.baseDir, workflow, tag, path) // Join cleans, so a ../ climb out of root shows up in rel below
	root := filepath.Join(f.baseDir, workflow, tag)
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", kernelerr.Validationf("path %q escapes document root", path)
	}
	return full, nil
}

// Read returns a document's content, or found=false if it does not exist.
func (f *FileStore) Read(workflow, tag, path string) (string, bool, error) {
	full, err := f.resolve(workflow, tag, path)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, kernelerr.Wrap(kernelerr.Internal, "read document", err)
	}
	return string(data), true, nil
}

// ensureDir creates dir (and parents) and, since fsnotify does not watch
// recursively, adds every newly created directory to the watcher so
// subsequent edits underneath it still invalidate the list() cache.
func (f *FileStore) ensureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for d := dir; len(d) > len(f.baseDir); d = filepath.Dir(d) {
		_ = f.watcher.Add(d)
	}
	return nil
}

// Write overwrites a document, creating parent directories as needed.
func (f *FileStore) Write(workflow, tag, path, content string) error {
	full, err := f.resolve(workflow, tag, path)
	if err != nil {
		return err
	}
	if err := f.ensureDir(filepath.Dir(full)); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "create document directory", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "write document", err)
	}
	return nil
}

// Append adds content to the end of a document, creating it if absent.
func (f *FileStore) Append(workflow, tag, path, content string) error {
	full, err := f.resolve(workflow, tag, path)
	if err != nil {
		return err
	}
	if err := f.ensureDir(filepath.Dir(full)); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "create document directory", err)
	}
	file, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "open document for append", err)
	}
	defer file.Close()
	if _, err := file.WriteString(content); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "append document", err)
	}
	return nil
}

// Create writes a document, failing with Conflict if it already exists.
func (f *FileStore) Create(workflow, tag, path, content string) error {
	full, err := f.resolve(workflow, tag, path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err == nil {
		return kernelerr.Conflictf("document %s already exists", path)
	}
	if err := f.ensureDir(filepath.Dir(full)); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "create document directory", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "create document", err)
	}
	return nil
}

// List returns every document path under (workflow, tag), excluding
// underscore-prefixed directories (treated as internal), using a cache
// invalidated by the filesystem watcher.
func (f *FileStore) List(workflow, tag string) ([]string, error) {
	key := workflow + "/" + tag

	f.mu.Lock()
	if cached, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	root := filepath.Join(f.baseDir, workflow, tag)
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return nil
			}
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), "_") {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Internal, "list documents", err)
	}

	f.mu.Lock()
	f.cache[key] = out
	f.mu.Unlock()
	return out, nil
}
