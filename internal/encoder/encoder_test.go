package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEncodeNoInputFrames(t *testing.T) {
	e := &Encoder{Timeout: time.Minute}
	dir := t.TempDir()

	_, err := e.Encode(context.Background(), Params{
		FramePaths:  []string{filepath.Join(dir, "missing1.jpeg"), filepath.Join(dir, "missing2.jpeg")},
		OutputPath:  filepath.Join(dir, "out.mp4"),
		FrameRate:   30,
		CRF:         20,
		PixelFormat: "yuv444p",
	})
	if !errors.Is(err, ErrNoInputFrames) {
		t.Fatalf("Encode with no frames on disk = %v, want ErrNoInputFrames", err)
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "a.jpeg"),
		filepath.Join(dir, "it's.jpeg"),
		filepath.Join(dir, "c.jpeg"),
	}

	listPath, err := writeConcatList(paths, 24)
	if err != nil {
		t.Fatalf("writeConcatList: %v", err)
	}
	defer os.Remove(listPath)

	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	// file + duration per frame, plus the final frame repeated
	if want := len(paths)*2 + 1; len(lines) != want {
		t.Fatalf("list has %d lines, want %d:\n%s", len(lines), want, data)
	}
	for i := range paths {
		if lines[i*2+1] != "duration 1/24" {
			t.Errorf("line %d = %q, want duration 1/24", i*2+1, lines[i*2+1])
		}
	}
	if !strings.Contains(lines[2], `it'\''s.jpeg`) {
		t.Errorf("quote not escaped: %q", lines[2])
	}
	last := lines[len(lines)-1]
	if !strings.Contains(last, "c.jpeg") || !strings.HasPrefix(last, "file ") {
		t.Errorf("last line = %q, want final frame repeated", last)
	}
}

func TestThumbnailBestEffort(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "thumb.jpg")

	// a missing input must not panic or produce an output file
	Thumbnail(context.Background(), filepath.Join(dir, "missing.mp4"), 1.0, out)

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("thumbnail written for missing input: %v", err)
	}
}

func TestEncodeErrorUnwraps(t *testing.T) {
	inner := errors.New("exit status 1")
	err := error(&EncodeError{Err: inner, Output: "ffmpeg noise"})
	if !errors.Is(err, inner) {
		t.Error("EncodeError does not unwrap to its cause")
	}
	var ee *EncodeError
	if !errors.As(err, &ee) || ee.Output != "ffmpeg noise" {
		t.Error("EncodeError output not preserved")
	}
}
