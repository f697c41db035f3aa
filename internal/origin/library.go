// Package origin serves FLV assets to players: chunked HTTP, WebSocket in
// both framings, and SRT in listener mode. It backs the origin command and
// the end-to-end tests of the byte source adapters.
package origin

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Asset is one named FLV stream held in memory.
type Asset struct {
	Key     string
	Data    []byte
	AddedAt time.Time
}

// Library holds the assets an origin can serve.
type Library struct {
	log    *slog.Logger
	mu     sync.RWMutex
	assets map[string]*Asset
}

// NewLibrary creates an empty library. If log is nil, slog.Default() is used.
func NewLibrary(log *slog.Logger) *Library {
	if log == nil {
		log = slog.Default()
	}
	return &Library{
		log:    log.With("component", "origin-library"),
		assets: make(map[string]*Asset),
	}
}

// Add registers data under key. It returns false, leaving the library
// unchanged, if key is already taken.
func (l *Library) Add(key string, data []byte) (*Asset, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.assets[key]; ok {
		l.log.Warn("asset already exists, rejecting duplicate", "key", key)
		return nil, false
	}
	a := &Asset{Key: key, Data: data, AddedAt: time.Now()}
	l.assets[key] = a
	l.log.Info("asset added", "key", key, "bytes", len(data))
	return a, true
}

// Get looks up an asset.
func (l *Library) Get(key string) (*Asset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.assets[key]
	return a, ok
}

// Remove drops an asset and reports whether it existed.
func (l *Library) Remove(key string) bool {
	l.mu.Lock()
	_, ok := l.assets[key]
	delete(l.assets, key)
	l.mu.Unlock()

	if ok {
		l.log.Info("asset removed", "key", key)
	}
	return ok
}

// List returns all assets ordered by key.
func (l *Library) List() []*Asset {
	l.mu.RLock()
	out := make([]*Asset, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, a)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Asset) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// assetKey maps a request path element or SRT stream id to a library key:
// a leading slash, a "live/" prefix and a ".flv" suffix are ignored.
func assetKey(s string) string {
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimPrefix(s, "live/")
	s = strings.TrimSuffix(s, ".flv")
	return s
}
