package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store maps frames and videos onto the output tree. All returned paths are
// relative to Root unless named Abs.
type Store struct {
	Root      string
	ImagesSub string
	VideosSub string
}

func New(root, imagesSub, videosSub string) *Store {
	return &Store{Root: root, ImagesSub: imagesSub, VideosSub: videosSub}
}

// FrameRel returns the relative path of a frame captured at t:
// images/{camera}/{YYYYMMDD}/{YYYYMMDDHHMMSS}_{camera}.jpeg
func (s *Store) FrameRel(cameraName string, t time.Time) string {
	return filepath.Join(
		s.ImagesSub,
		cameraName,
		t.Format("20060102"),
		fmt.Sprintf("%s_%s.jpeg", t.Format("20060102150405"), cameraName),
	)
}

// DailyVideoRel returns videos/{camera}/daily/{YYYYMMDD}.mp4.
func (s *Store) DailyVideoRel(cameraName string, date time.Time) string {
	return filepath.Join(
		s.VideosSub,
		cameraName,
		"daily",
		date.Format("20060102")+".mp4",
	)
}

// SummaryVideoRel returns videos/{camera}/summary/{start}-{end}_summary.mp4.
func (s *Store) SummaryVideoRel(cameraName string, start, end time.Time) string {
	return filepath.Join(
		s.VideosSub,
		cameraName,
		"summary",
		fmt.Sprintf("%s-%s_summary.mp4", start.Format("20060102"), end.Format("20060102")),
	)
}

// ThumbnailRel returns the preview still path for a video: the same path
// with a .jpg extension.
func (s *Store) ThumbnailRel(videoRel string) string {
	ext := filepath.Ext(videoRel)
	return videoRel[:len(videoRel)-len(ext)] + ".jpg"
}

// Abs resolves a stored relative path against the output root.
func (s *Store) Abs(rel string) string {
	return filepath.Join(s.Root, rel)
}

// SaveImage writes data to rel atomically: a temp file in the final
// directory, then rename. A crash never leaves a half-written frame at the
// final path.
func (s *Store) SaveImage(rel string, data []byte) error {
	abs := s.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename image: %w", err)
	}
	return nil
}

// DeleteFile removes the file at rel. A file that is already gone is not an
// error; freed reports whether a file was actually removed.
func (s *Store) DeleteFile(rel string) (freed bool, err error) {
	err = os.Remove(s.Abs(rel))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// FileSize returns the size of the file at rel, or 0 when it is missing.
func (s *Store) FileSize(rel string) int64 {
	info, err := os.Stat(s.Abs(rel))
	if err != nil {
		return 0
	}
	return info.Size()
}

// EnsureTree creates the images and videos roots.
func (s *Store) EnsureTree() error {
	for _, dir := range []string{
		filepath.Join(s.Root, s.ImagesSub),
		filepath.Join(s.Root, s.VideosSub),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
