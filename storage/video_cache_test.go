package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"streamcal/youtube"
)

func TestVideoCache_PutAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.json")

	cache, err := OpenVideoCache(path)
	if err != nil {
		t.Fatalf("OpenVideoCache() error = %v", err)
	}

	published := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	cache.Put([]youtube.VideoRecord{
		{ID: "vid1", ChannelID: "UC1", Title: "First", PublishedAt: published},
		{ID: "vid2", ChannelID: "UC1", Title: "Second", PublishedAt: published.Add(-time.Hour)},
	})
	if err := cache.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := OpenVideoCache(path)
	if err != nil {
		t.Fatalf("OpenVideoCache() reload error = %v", err)
	}

	record, err := reloaded.Video("vid1")
	if err != nil {
		t.Fatalf("Video() error = %v", err)
	}
	if record.Title != "First" {
		t.Errorf("Video() title = %q, want %q", record.Title, "First")
	}
	if got := reloaded.Watermark("UC1"); !got.Equal(published) {
		t.Errorf("Watermark() = %v, want newest publish time %v", got, published)
	}
}

func TestVideoCache_PutReplacesSnapshot(t *testing.T) {
	cache, err := OpenVideoCache(filepath.Join(t.TempDir(), "videos.json"))
	if err != nil {
		t.Fatalf("OpenVideoCache() error = %v", err)
	}

	cache.Put([]youtube.VideoRecord{{ID: "vid1", ChannelID: "UC1", Broadcast: youtube.BroadcastUpcoming}})
	cache.Put([]youtube.VideoRecord{{ID: "vid1", ChannelID: "UC1", Broadcast: youtube.BroadcastLive}})

	record, err := cache.Video("vid1")
	if err != nil {
		t.Fatalf("Video() error = %v", err)
	}
	if record.Broadcast != youtube.BroadcastLive {
		t.Errorf("Video() broadcast = %q, want latest snapshot %q", record.Broadcast, youtube.BroadcastLive)
	}
	if got := len(cache.Videos()); got != 1 {
		t.Errorf("Videos() len = %d, want 1", got)
	}
}

func TestVideoCache_WatermarkNeverMovesBackwards(t *testing.T) {
	cache, err := OpenVideoCache(filepath.Join(t.TempDir(), "videos.json"))
	if err != nil {
		t.Fatalf("OpenVideoCache() error = %v", err)
	}

	newer := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	cache.Put([]youtube.VideoRecord{{ID: "vid1", ChannelID: "UC1", PublishedAt: newer}})
	cache.Put([]youtube.VideoRecord{{ID: "vid2", ChannelID: "UC1", PublishedAt: newer.Add(-24 * time.Hour)}})

	if got := cache.Watermark("UC1"); !got.Equal(newer) {
		t.Errorf("Watermark() = %v, want %v", got, newer)
	}
}

func TestVideoCache_VideosSorted(t *testing.T) {
	cache, err := OpenVideoCache(filepath.Join(t.TempDir(), "videos.json"))
	if err != nil {
		t.Fatalf("OpenVideoCache() error = %v", err)
	}

	cache.Put([]youtube.VideoRecord{{ID: "vidC"}, {ID: "vidA"}, {ID: "vidB"}})

	videos := cache.Videos()
	for i, want := range []string{"vidA", "vidB", "vidC"} {
		if videos[i].ID != want {
			t.Fatalf("Videos()[%d] = %q, want %q", i, videos[i].ID, want)
		}
	}
}

func TestVideoCache_NotFound(t *testing.T) {
	cache, err := OpenVideoCache(filepath.Join(t.TempDir(), "videos.json"))
	if err != nil {
		t.Fatalf("OpenVideoCache() error = %v", err)
	}

	_, err = cache.Video("absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Video() error = %v, want ErrNotFound", err)
	}

	var storErr *StorageError
	if !errors.As(err, &storErr) || storErr.ID != "absent" {
		t.Errorf("Video() error = %v, want *StorageError with ID", err)
	}
}

func TestOpenVideoCache_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := OpenVideoCache(path)
	if !errors.Is(err, ErrStorageCorrupt) {
		t.Errorf("OpenVideoCache() error = %v, want ErrStorageCorrupt", err)
	}
}
