// Package sendfile keeps files served over sendfile(2) open between requests.
package sendfile

import (
	"container/list"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileCache caches open file descriptors using LRU
type FileCache struct {
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lruList  *list.List
	maxFiles int
}

type cacheEntry struct {
	file    *os.File
	info    os.FileInfo
	element *list.Element
}

// NewFileCache creates a new file cache
func NewFileCache(maxFiles int) *FileCache {
	if maxFiles <= 0 {
		maxFiles = 1
	}
	return &FileCache{
		cache:    make(map[string]*cacheEntry),
		lruList:  list.New(),
		maxFiles: maxFiles,
	}
}

// Open returns an open regular file for path and its info. A cached
// descriptor is reused while the path still names the same unmodified file.
// The file stays owned by the cache: callers must not close it, and must
// finish with it before a later Open can evict it.
func (fc *FileCache) Open(path string) (*os.File, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil, os.ErrNotExist
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if entry, ok := fc.cache[path]; ok {
		if os.SameFile(entry.info, info) && entry.info.ModTime().Equal(info.ModTime()) && entry.info.Size() == info.Size() {
			fc.lruList.MoveToFront(entry.element)
			return entry.file, entry.info, nil
		}
		fc.evict(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err = file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	fc.cache[path] = &cacheEntry{
		file:    file,
		info:    info,
		element: fc.lruList.PushFront(path),
	}

	// Evict oldest if over limit
	if fc.lruList.Len() > fc.maxFiles {
		if oldest := fc.lruList.Back(); oldest != nil {
			fc.evict(oldest.Value.(string))
		}
	}

	return file, info, nil
}

func (fc *FileCache) evict(path string) {
	entry, ok := fc.cache[path]
	if !ok {
		return
	}
	entry.file.Close()
	fc.lruList.Remove(entry.element)
	delete(fc.cache, path)
}

// Len returns the number of cached descriptors
func (fc *FileCache) Len() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.cache)
}

// Close closes all cached files
func (fc *FileCache) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	for _, entry := range fc.cache {
		entry.file.Close()
	}
	fc.cache = make(map[string]*cacheEntry)
	fc.lruList.Init()
}

// ContentType returns MIME type based on file extension
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".xml":
		return "application/xml; charset=utf-8"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".ico":
		return "image/x-icon"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
