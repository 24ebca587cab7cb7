package render

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"reportgen/internal/logging"
)

// CacheStats counts cache activity.
type CacheStats struct {
	Hits          int
	Misses        int
	Invalidations int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Cache keeps compiled template files keyed by absolute path. Once started,
// it watches the directories of cached templates and drops an entry as
// soon as its file is written, replaced or removed, so the next Get
// recompiles it.
type Cache struct {
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	printer *Printer
	entries map[string]*Template
	dirs    map[string]bool
	// versions counts file events per path; a compile whose path saw an
	// event meanwhile is returned but not cached.
	versions map[string]uint64
	stats    CacheStats
	compile  func(Options) (*Template, error)

	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
	closeOnce sync.Once
}

// NewCache creates a cache whose templates print PDFs through printer,
// which may be nil.
func NewCache(printer *Printer) (*Cache, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Cache{
		watcher: w,
		printer: printer,
		entries:  make(map[string]*Template),
		dirs:     make(map[string]bool),
		versions: make(map[string]uint64),
		compile:  New,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins processing file events in a goroutine. It returns at once.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop ends event processing and releases the watcher. The cache keeps
// serving compiled templates but no longer invalidates them.
func (c *Cache) Stop() {
	c.mu.Lock()
	wasRunning := c.running
	c.running = false
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.stopCh)
		if wasRunning {
			<-c.doneCh
		}
		if err := c.watcher.Close(); err != nil {
			logging.Get(logging.CategoryRender).Error("closing template watcher", zap.Error(err))
		}
	})
}

// Get returns the compiled template at path, compiling and caching it on a
// miss. The directory is watched before the file is read. Compile errors
// are returned and not cached.
func (c *Cache) Get(path string) (*Template, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if t, ok := c.entries[abs]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		return t, nil
	}
	c.stats.Misses++
	c.watchLocked(filepath.Dir(abs))
	version := c.versions[abs]
	c.mu.Unlock()

	t, err := c.compile(Options{Path: abs, Printer: c.printer})
	if err != nil {
		c.mu.Lock()
		c.stats.Errors++
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[abs] == version {
		c.entries[abs] = t
	}
	return t, nil
}

// watchLocked adds dir to the watcher. Directories are watched rather than
// files so that editors which save by rename are noticed.
func (c *Cache) watchLocked(dir string) {
	if c.dirs[dir] {
		return
	}
	if err := c.watcher.Add(dir); err != nil {
		logging.Get(logging.CategoryRender).Warn("cannot watch template directory",
			zap.String("dir", dir), zap.Error(err))
		return
	}
	c.dirs[dir] = true
}

// Invalidate drops path from the cache.
func (c *Cache) Invalidate(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked(abs)
}

func (c *Cache) invalidateLocked(abs string) bool {
	if _, ok := c.entries[abs]; !ok {
		return false
	}
	delete(c.entries, abs)
	c.stats.Invalidations++
	return true
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// WatchedDirs lists the directories being watched.
func (c *Cache) WatchedDirs() []string {
	return c.watcher.WatchList()
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.doneCh)
	log := logging.Get(logging.CategoryRender)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(log, ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Error("template watcher error", zap.Error(err))
			c.mu.Lock()
			c.stats.Errors++
			c.mu.Unlock()
		}
	}
}

func (c *Cache) handleEvent(log *zap.Logger, ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.LastEventPath = abs
	c.stats.LastEventTime = time.Now()
	c.versions[abs]++
	if c.invalidateLocked(abs) {
		log.Debug("template invalidated", zap.String("path", abs), zap.String("op", ev.Op.String()))
	}
}
