package storage

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"streamcal/internal/atomicfile"
	"streamcal/youtube"
)

// videoCacheFile is the on-disk layout of the cache.
type videoCacheFile struct {
	// Videos holds the latest known snapshot of every fetched video,
	// keyed by YouTube video ID.
	Videos map[string]youtube.VideoRecord `json:"videos"`
	// Watermarks records, per channel, the newest publish time seen so
	// far. Later searches pass it as publishedAfter to skip old uploads.
	Watermarks map[string]time.Time `json:"watermarks"`
}

// VideoCache is a JSON-file cache of video records and per-channel fetch
// watermarks. It is safe for concurrent use.
type VideoCache struct {
	path string

	mu   sync.RWMutex
	data videoCacheFile
}

// OpenVideoCache loads the cache at path, or starts an empty one when the
// file does not exist yet. Nothing is written until Save.
func OpenVideoCache(path string) (*VideoCache, error) {
	cache := &VideoCache{
		path: path,
		data: videoCacheFile{
			Videos:     make(map[string]youtube.VideoRecord),
			Watermarks: make(map[string]time.Time),
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cache, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "video cache", Err: err}
	}
	if err := json.Unmarshal(raw, &cache.data); err != nil {
		return nil, &StorageError{Op: "open", Entity: "video cache", Err: ErrStorageCorrupt}
	}
	if cache.data.Videos == nil {
		cache.data.Videos = make(map[string]youtube.VideoRecord)
	}
	if cache.data.Watermarks == nil {
		cache.data.Watermarks = make(map[string]time.Time)
	}
	return cache, nil
}

// Put stores or replaces video snapshots and advances the watermark of
// each record's channel to its publish time.
func (c *VideoCache) Put(records []youtube.VideoRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, record := range records {
		c.data.Videos[record.ID] = record
		if record.ChannelID == "" {
			continue
		}
		if record.PublishedAt.After(c.data.Watermarks[record.ChannelID]) {
			c.data.Watermarks[record.ChannelID] = record.PublishedAt
		}
	}
}

// Video returns the cached record for a video ID.
func (c *VideoCache) Video(id string) (youtube.VideoRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.data.Videos[id]
	if !ok {
		return youtube.VideoRecord{}, &StorageError{Op: "read", Entity: "video", ID: id, Err: ErrNotFound}
	}
	return record, nil
}

// Videos returns all cached records ordered by video ID.
func (c *VideoCache) Videos() []youtube.VideoRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]youtube.VideoRecord, 0, len(c.data.Videos))
	for _, record := range c.data.Videos {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a cached record. Deleting an absent ID is a no-op.
func (c *VideoCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data.Videos, id)
}

// Watermark returns the stored publish-time watermark for a channel, or
// the zero time when the channel has never been fetched.
func (c *VideoCache) Watermark(channelID string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Watermarks[channelID]
}

// Save writes the cache atomically.
func (c *VideoCache) Save() error {
	c.mu.RLock()
	raw, err := json.MarshalIndent(c.data, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return &StorageError{Op: "save", Entity: "video cache", Err: err}
	}

	if err := atomicfile.WriteFile(c.path, raw, 0o644); err != nil {
		return &StorageError{Op: "save", Entity: "video cache", Err: err}
	}
	return nil
}
