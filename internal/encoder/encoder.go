// Package encoder turns a sequence of still frames into an H.264 video via
// ffmpeg's concat demuxer.
package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoInputFrames means no frame on disk was available to encode.
	ErrNoInputFrames = errors.New("encoder: no input frames")
	// ErrTimeout means ffmpeg exceeded the encode deadline and was killed.
	ErrTimeout = errors.New("encoder: ffmpeg timed out")
)

// EncodeError wraps an ffmpeg failure with its combined output.
type EncodeError struct {
	Err    error
	Output string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoder: ffmpeg failed: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

type Encoder struct {
	Timeout time.Duration
}

type Params struct {
	FramePaths  []string // absolute, capture order
	OutputPath  string   // absolute
	FrameRate   int
	CRF         int
	PixelFormat string
}

type Result struct {
	FrameCount      int
	FileSize        int64
	DurationSeconds float64
}

// Encode writes a concat list of the existing input frames and runs ffmpeg.
// Frames missing from disk are skipped with a warning; if none remain the
// encode fails with ErrNoInputFrames before ffmpeg is launched. The output
// file is verified non-empty before the result is reported.
func (e *Encoder) Encode(ctx context.Context, p Params) (*Result, error) {
	var existing []string
	for _, path := range p.FramePaths {
		if _, err := os.Stat(path); err != nil {
			slog.Warn("frame missing on disk, skipping", "path", path)
			continue
		}
		existing = append(existing, path)
	}
	if len(existing) == 0 {
		return nil, ErrNoInputFrames
	}
	if len(existing) < len(p.FramePaths) {
		slog.Warn("encoding with partial frame set",
			"requested", len(p.FramePaths), "available", len(existing))
	}

	if err := os.MkdirAll(filepath.Dir(p.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}

	listPath, err := writeConcatList(existing, p.FrameRate)
	if err != nil {
		return nil, err
	}
	defer os.Remove(listPath)

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", fmt.Sprintf("fps=%d", p.FrameRate),
		"-c:v", "libx264",
		"-preset", "slow",
		"-crf", strconv.Itoa(p.CRF),
		"-pix_fmt", p.PixelFormat,
		"-movflags", "+faststart",
		p.OutputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(p.OutputPath)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, &EncodeError{Err: err, Output: string(output)}
	}

	info, err := os.Stat(p.OutputPath)
	if err != nil || info.Size() == 0 {
		return nil, &EncodeError{
			Err:    errors.New("output missing or empty"),
			Output: string(output),
		}
	}

	res := &Result{
		FrameCount:      len(existing),
		FileSize:        info.Size(),
		DurationSeconds: float64(len(existing)) / float64(p.FrameRate),
	}
	if probed := Probe(p.OutputPath); probed != nil && probed.DurationSecs > 0 {
		res.DurationSeconds = probed.DurationSecs
	}
	return res, nil
}

// writeConcatList produces the concat demuxer input: each frame held for
// 1/frameRate seconds, with the final frame repeated so its duration is
// honoured (the demuxer ignores the duration of the last entry).
func writeConcatList(paths []string, frameRate int) (string, error) {
	tmp, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}

	var b strings.Builder
	for _, path := range paths {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(path))
		fmt.Fprintf(&b, "duration 1/%d\n", frameRate)
	}
	fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(paths[len(paths)-1]))

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close concat list: %w", err)
	}
	return tmp.Name(), nil
}

func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

type ProbeResult struct {
	DurationSecs float64
	Width        int
	Height       int
	VideoCodec   string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects an encoded video with ffprobe. Probing is best-effort: any
// failure returns nil.
func Probe(filePath string) *ProbeResult {
	cmd := exec.Command("ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil
	}

	result := &ProbeResult{}
	if parsed.Format.Duration != "" {
		result.DurationSecs, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			result.VideoCodec = s.CodecName
			result.Width = s.Width
			result.Height = s.Height
		}
	}
	return result
}

// Thumbnail extracts a preview still from timestamp seconds into a finished
// video. Like Probe it is best-effort: a failure is logged and the video
// stands without a preview.
func Thumbnail(ctx context.Context, inputPath string, timestamp float64, outputPath string) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", strconv.FormatFloat(timestamp, 'f', 2, 64),
		"-i", inputPath,
		"-vframes", "1",
		"-vf", "scale=400:-1",
		"-q:v", "3",
		"-y",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Warn("thumbnail extraction failed",
			"video", inputPath, "error", err, "output", string(out))
	}
}
