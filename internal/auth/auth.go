// Package auth gates requests behind a bearer-token allow-list stored in a
// flat file that is reloaded whenever it changes on disk.
package auth

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"toolproxy/internal/core"
	"toolproxy/internal/util"

	"github.com/fsnotify/fsnotify"
)

// tokenSet is immutable once published. Tokens are held as SHA-256 digests.
type tokenSet struct {
	tokens  map[[sha256.Size]byte]struct{}
	modTime time.Time
	size    int64
	// stale forces the next reload even if the file stat is unchanged,
	// set after a failed read.
	stale bool
}

// has compares the digest of token against every entry in constant time, so
// the time taken does not depend on how much of a stored token matches.
func (s *tokenSet) has(token string) bool {
	want := sha256.Sum256([]byte(token))
	match := 0
	for digest := range s.tokens {
		match |= subtle.ConstantTimeCompare(want[:], digest[:])
	}
	return match == 1
}

var emptySet = &tokenSet{tokens: map[[sha256.Size]byte]struct{}{}, stale: true}

// Authenticator holds the allow-list. Readers never lock; reloads build a new
// set and swap it in atomically.
type Authenticator struct {
	path     string
	logger   core.Logger
	tokens   atomic.Pointer[tokenSet]
	reloadMu sync.Mutex
}

// New initializes the authenticator. An empty path or a missing file disables
// authentication for the lifetime of the process.
func New(path string, logger core.Logger) *Authenticator {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	a := &Authenticator{logger: logger}
	a.tokens.Store(emptySet)

	if path == "" {
		logger.Info("[AUTH] No token file specified - authentication disabled")
		return a
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if _, err := os.Stat(abs); err != nil {
		logger.Warn("[AUTH] Token file not found: %s - authentication disabled", abs)
		return a
	}

	a.path = abs
	a.Reload()
	logger.Info("[AUTH] Authentication enabled with %d token(s)", a.Len())
	return a
}

// Enabled reports whether requests are checked at all.
func (a *Authenticator) Enabled() bool {
	return a.path != ""
}

// Path returns the resolved token file path, or "" when disabled.
func (a *Authenticator) Path() string {
	return a.path
}

// Len returns the number of tokens in the current set.
func (a *Authenticator) Len() int {
	return len(a.tokens.Load().tokens)
}

// Reload re-reads the token file if its modification time or size changed
// since the last successful load. A stat or read failure publishes an empty
// set so the next check fails closed.
func (a *Authenticator) Reload() {
	if !a.Enabled() {
		return
	}
	info, err := os.Stat(a.path)
	if err == nil && !a.changed(info) {
		return
	}

	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	info, err = os.Stat(a.path)
	if err != nil {
		a.logger.Error("[AUTH] Error loading tokens: %v", err)
		a.tokens.Store(emptySet)
		return
	}
	if !a.changed(info) {
		return
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		a.logger.Error("[AUTH] Error loading tokens: %v", err)
		a.tokens.Store(emptySet)
		return
	}

	set := &tokenSet{
		tokens:  parseTokens(data),
		modTime: info.ModTime(),
		size:    info.Size(),
	}
	a.tokens.Store(set)
	a.logger.Info("[AUTH] Loaded %d token(s) from %s", len(set.tokens), a.path)
}

func (a *Authenticator) changed(info os.FileInfo) bool {
	cur := a.tokens.Load()
	return cur.stale || !cur.modTime.Equal(info.ModTime()) || cur.size != info.Size()
}

func parseTokens(data []byte) map[[sha256.Size]byte]struct{} {
	tokens := make(map[[sha256.Size]byte]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens[sha256.Sum256([]byte(line))] = struct{}{}
	}
	return tokens
}

// Check reports whether token is in the current set. It does not reload.
func (a *Authenticator) Check(token string) bool {
	return a.tokens.Load().has(token)
}

// Authenticate validates an Authorization header value. It returns nil when
// authentication is disabled, core.ErrAuthUnavailable when the set is empty,
// core.ErrUnauthenticated when the header is missing and core.ErrForbidden
// when the token is not allowed.
func (a *Authenticator) Authenticate(authHeader string) error {
	if !a.Enabled() {
		return nil
	}
	a.Reload()

	set := a.tokens.Load()
	if len(set.tokens) == 0 {
		a.logger.Warn("[AUTH] No tokens configured - denying access")
		return core.ErrAuthUnavailable
	}
	if authHeader == "" {
		return core.ErrUnauthenticated
	}

	token := strings.TrimPrefix(authHeader, core.AuthBearerPrefix)
	if !set.has(token) {
		a.logger.Warn("[AUTH] Invalid token (prefix %s)", util.TokenPrefix(token))
		return core.ErrForbidden
	}
	a.logger.Debug("[AUTH] Token validated successfully")
	return nil
}

// Watch reloads the token file eagerly when it changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are picked up. Requests still reload lazily; Watch only shortens the window.
func (a *Authenticator) Watch(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create token file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(a.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(a.path), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != a.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					a.logger.Debug("[AUTH] Token file event %s", event.Op)
					a.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.logger.Warn("[AUTH] Token file watcher error: %v", err)
			}
		}
	}()
	return nil
}
