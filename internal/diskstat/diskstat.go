// Package diskstat tracks usage of the output volume so cleanup and the
// health endpoint can report storage pressure without hitting statfs on
// every request.
package diskstat

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Stats is a point-in-time snapshot of output volume usage.
type Stats struct {
	TotalBytes  uint64
	FreeBytes   uint64
	ImagesBytes uint64
	VideosBytes uint64
	CapturedAt  time.Time
}

// PctUsed returns the percentage of the volume in use (0–100).
func (s Stats) PctUsed() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.TotalBytes-s.FreeBytes) / float64(s.TotalBytes) * 100
}

// Cache is a goroutine-safe cached disk stats value, refreshed periodically.
type Cache struct {
	mu        sync.RWMutex
	stats     Stats
	root      string
	imagesSub string
	videosSub string
	ttl       time.Duration
	stop      chan struct{}
}

func New(root, imagesSub, videosSub string, ttl time.Duration) *Cache {
	return &Cache{
		root:      root,
		imagesSub: imagesSub,
		videosSub: videosSub,
		ttl:       ttl,
		stop:      make(chan struct{}),
	}
}

// Start takes an initial reading and begins background polling.
func (c *Cache) Start() {
	c.refresh()
	go func() {
		t := time.NewTicker(c.ttl)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.refresh()
			}
		}
	}()
}

// Stop halts background polling.
func (c *Cache) Stop() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

// Get returns the latest cached stats.
func (c *Cache) Get() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Refresh forces an immediate update.
func (c *Cache) Refresh() {
	c.refresh()
}

func (c *Cache) refresh() {
	total, free, err := statFS(c.root)
	if err != nil {
		// Not fatal; leave previous values in place
		return
	}
	images, videos := c.walkTreeSizes()
	s := Stats{
		TotalBytes:  total,
		FreeBytes:   free,
		ImagesBytes: images,
		VideosBytes: videos,
		CapturedAt:  time.Now(),
	}
	c.mu.Lock()
	c.stats = s
	c.mu.Unlock()
}

func statFS(path string) (total, free uint64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	bsize := uint64(stat.Bsize)
	return bsize * stat.Blocks, bsize * stat.Bfree, nil
}

func (c *Cache) walkTreeSizes() (images, videos uint64) {
	filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return nil
		}
		size := uint64(info.Size())
		switch {
		case strings.HasPrefix(rel, c.imagesSub+string(filepath.Separator)):
			images += size
		case strings.HasPrefix(rel, c.videosSub+string(filepath.Separator)):
			videos += size
		}
		return nil
	})
	return
}
