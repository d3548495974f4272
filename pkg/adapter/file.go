package adapter

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/logger"
)

// FileInbound polls a directory for files matching a glob, claims each
// via an atomic rename into WorkPath, hands its bytes to Handler, and
// archives or deletes it depending on the outcome.
type FileInbound struct {
	counters

	filePath     string
	fileSpec     string
	pollInterval time.Duration
	archivePath  string
	workPath     string
	handler      Handler
	sem          *semaphore.Weighted
	watch        bool

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	watcher *fsnotify.Watcher
}

// NewFileInbound constructs an inbound File adapter from settings.
// MaxConcurrentFiles bounds how many files pollOnce hands to Handler at
// once; no SemaphoreSpec setting is read, so a file is claimed without
// waiting for a matching semaphore file. WatchFS, when
// true, also watches FilePath for write/create/rename events and
// triggers an immediate pollOnce instead of waiting out PollInterval.
func NewFileInbound(settings Settings, handler Handler) *FileInbound {
	maxConcurrent := settings.Int("MaxConcurrentFiles", 1)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &FileInbound{
		filePath:     settings.String("FilePath", "."),
		fileSpec:     settings.String("FileSpec", "*"),
		pollInterval: settings.Duration("PollInterval", 5*time.Second),
		archivePath:  settings.String("ArchivePath", ""),
		workPath:     settings.String("WorkPath", ""),
		handler:      handler,
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		watch:        settings.Bool("WatchFS", true),
		state:        StateCreated,
	}
}

func (a *FileInbound) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *FileInbound) Snapshot() Metrics { return a.counters.snapshot() }

// Start creates the work/archive directories and begins polling.
func (a *FileInbound) Start(ctx context.Context) error {
	for _, dir := range []string{a.workPath, a.archivePath} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperror.Wrap(apperror.ConfigurationError, err, "file inbound: cannot create directory "+dir)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.state = StateRunning
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()
	a.markStarted()

	var watchDone chan struct{}
	if a.watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Log.Warn("file inbound: fsnotify unavailable, falling back to poll-only", "error", err)
		} else if err := watcher.Add(a.filePath); err != nil {
			logger.Log.Warn("file inbound: fsnotify watch failed, falling back to poll-only", "path", a.filePath, "error", err)
			watcher.Close()
		} else {
			a.mu.Lock()
			a.watcher = watcher
			a.mu.Unlock()
			watchDone = make(chan struct{})
			go a.watchLoop(runCtx, watcher, watchDone)
		}
	}

	go a.pollLoop(runCtx, watchDone)
	logger.Log.Info("file inbound adapter started", "path", a.filePath, "spec", a.fileSpec, "watch", a.watcher != nil)
	return nil
}

// watchLoop triggers an immediate pollOnce on filesystem activity so new
// files are picked up without waiting out the next PollInterval tick.
// It is a fast path alongside pollLoop's ticker, not a replacement for
// it: some mounts (NFS, certain container overlays) never fire fsnotify
// events.
func (a *FileInbound) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			a.pollOnce(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Log.Warn("file inbound: fsnotify error", "error", err)
		}
	}
}

func (a *FileInbound) pollLoop(ctx context.Context, watchDone chan struct{}) {
	defer close(a.done)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if watchDone != nil {
				<-watchDone
			}
			return
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *FileInbound) pollOnce(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(a.filePath, a.fileSpec))
	if err != nil {
		a.errorsTotal.Add(1)
		return
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, candidate{path: m, modTime: info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.Before(candidates[j].modTime) })

	var wg sync.WaitGroup
	for _, c := range candidates {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			break // shutting down
		}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer a.sem.Release(1)
			a.processFile(ctx, path)
		}(c.path)
	}
	wg.Wait()
}

func (a *FileInbound) processFile(ctx context.Context, path string) {
	name := filepath.Base(path)
	claimPath := path
	if a.workPath != "" {
		claimPath = filepath.Join(a.workPath, name)
		if err := os.Rename(path, claimPath); err != nil {
			return // lost the race to another poller
		}
	}

	data, err := os.ReadFile(claimPath)
	if err != nil {
		a.errorsTotal.Add(1)
		os.Rename(claimPath, path)
		return
	}
	a.bytesReceived.Add(int64(len(data)))
	a.recordActivity()

	_, err = a.handler(ctx, data)
	if err != nil {
		a.errorsTotal.Add(1)
		logger.Log.Warn("file inbound handler error", "path", claimPath, "error", err)
		os.Rename(claimPath, path)
		return
	}

	if a.archivePath == "" {
		os.Remove(claimPath)
		return
	}
	dest := filepath.Join(a.archivePath, time.Now().UTC().Format("20060102_150405_000000")+"_"+name)
	os.Rename(claimPath, dest)
}

// Stop cancels the poll loop and waits for the current tick to finish.
func (a *FileInbound) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.state = StateStopping
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()
	return nil
}
