// Package fileresolver resolves "file" component URLs to declaration
// documents (YAML, TOML or JSON) stored below a base directory.
//
// Decoded declarations are cached per file. When watching is enabled the
// directory of every cached file is watched with fsnotify and an entry is
// dropped as soon as its file is written, replaced or removed, so the next
// resolution reads it again.
package fileresolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/GoCodeAlone/realm"
	"github.com/GoCodeAlone/realm/decl"
)

// Scheme is the URL scheme served by a Resolver.
const Scheme = "file"

// ErrUnsupportedHost is returned for URLs naming a host other than localhost.
var ErrUnsupportedHost = errors.New("fileresolver: URL host must be empty or localhost")

// Logger is the logging interface of the resolver.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithoutWatch disables change watching. Cached declarations are then kept
// until Invalidate is called.
func WithoutWatch() Option {
	return func(r *Resolver) { r.watch = false }
}

// Resolver is a realm.Resolver for the "file" scheme. URL paths are taken
// relative to the base directory and cannot escape it.
type Resolver struct {
	base   string
	logger Logger
	watch  bool

	mu      sync.Mutex
	cache   map[string]*realm.ResolvedComponent
	gen     map[string]uint64
	watched map[string]struct{}

	watcher *fsnotify.Watcher
	sctx    *stopper.Context
}

var _ realm.Resolver = (*Resolver)(nil)

// New returns a Resolver serving documents below base. The watch loop runs
// until Close is called or ctx ends.
func New(ctx context.Context, base string, opts ...Option) (*Resolver, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("fileresolver: base directory %q: %w", base, err)
	}
	r := &Resolver{
		base:    abs,
		logger:  nopLogger{},
		watch:   true,
		cache:   make(map[string]*realm.ResolvedComponent),
		gen:     make(map[string]uint64),
		watched: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.sctx = stopper.WithContext(ctx)
	if !r.watch {
		return r, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fileresolver: creating watcher: %w", err)
	}
	r.watcher = watcher
	r.sctx.Defer(func() {
		_ = watcher.Close()
	})
	r.sctx.Go(r.watchLoop)
	return r, nil
}

// Base returns the absolute base directory.
func (r *Resolver) Base() string { return r.base }

// Resolve reads the declaration named by componentURL. Missing files are
// ManifestNotFound, undecodable or invalid documents ManifestInvalid.
func (r *Resolver) Resolve(ctx context.Context, componentURL string) (*realm.ResolvedComponent, error) {
	if err := ctx.Err(); err != nil {
		return nil, realm.NewResolverError(realm.ResolverFailed, componentURL, err)
	}
	path, err := r.Path(componentURL)
	if err != nil {
		return nil, realm.NewResolverError(realm.ResolverFailed, componentURL, err)
	}

	r.mu.Lock()
	if c, ok := r.cache[path]; ok {
		r.mu.Unlock()
		return c, nil
	}
	gen := r.gen[path]
	r.mu.Unlock()

	// Watch before reading so a change racing the read still invalidates.
	r.watchDir(filepath.Dir(path))

	d, err := decl.DecodeFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, realm.NewResolverError(realm.ManifestNotFound, componentURL, err)
		}
		return nil, realm.NewResolverError(realm.ManifestInvalid, componentURL, err)
	}
	resolved := &realm.ResolvedComponent{
		ResolvedURL: FileURL(path),
		Decl:        d,
		Package:     os.DirFS(filepath.Dir(path)),
	}

	r.mu.Lock()
	if r.gen[path] == gen {
		r.cache[path] = resolved
	}
	r.mu.Unlock()
	r.logger.Debug("Resolved declaration", "url", componentURL, "path", path)
	return resolved, nil
}

// Path maps componentURL to a file below the base directory.
func (r *Resolver) Path(componentURL string) (string, error) {
	u, err := url.Parse(componentURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != Scheme {
		return "", fmt.Errorf("fileresolver: unsupported scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHost, u.Host)
	}
	p := u.Path
	if u.Opaque != "" {
		p = u.Opaque
	}
	if p == "" {
		return "", fmt.Errorf("fileresolver: %q names no file", componentURL)
	}
	// Cleaning against "/" drops any ".." that would climb above base.
	rel := filepath.Clean("/" + filepath.FromSlash(p))
	return filepath.Join(r.base, rel), nil
}

// Invalidate drops the cached declaration of path.
func (r *Resolver) Invalidate(path string) {
	path = filepath.Clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen[path]++
	if _, ok := r.cache[path]; ok {
		delete(r.cache, path)
		r.logger.Debug("Declaration cache entry invalidated", "path", path)
	}
}

// Cached reports whether a declaration for path is cached.
func (r *Resolver) Cached(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[filepath.Clean(path)]
	return ok
}

// Close stops the watch loop.
func (r *Resolver) Close() error {
	r.sctx.Stop(100 * time.Millisecond)
	return r.sctx.Wait()
}

func (r *Resolver) watchDir(dir string) {
	if r.watcher == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watched[dir]; ok {
		return
	}
	if err := r.watcher.Add(dir); err != nil {
		// Missing directories surface as ManifestNotFound from the read.
		r.logger.Debug("Cannot watch declaration directory", "dir", dir, "error", err)
		return
	}
	r.watched[dir] = struct{}{}
}

func (r *Resolver) watchLoop(sctx *stopper.Context) error {
	for {
		select {
		case <-sctx.Stopping():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				r.Invalidate(event.Name)
			}
			if event.Has(fsnotify.Remove) {
				r.mu.Lock()
				delete(r.watched, filepath.Clean(event.Name))
				r.mu.Unlock()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil && !sctx.IsStopping() {
				r.logger.Warn("Declaration watcher error", "error", err)
			}
		}
	}
}

// FileURL returns the file URL of an absolute path.
func FileURL(path string) string {
	return (&url.URL{Scheme: Scheme, Path: filepath.ToSlash(path)}).String()
}
