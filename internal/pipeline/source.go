package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"trafficeye/internal/timeutil"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// IsImageFile reports whether path has a supported image extension
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// ListImages returns the image files of dir sorted by name
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// FileSource reads one frame per image file. Frame numbers start at 0.
type FileSource struct {
	paths []string
	next  int
	clock timeutil.Clock
}

// NewFileSource creates a source over the given files in order
func NewFileSource(paths []string, clock timeutil.Clock) *FileSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FileSource{paths: paths, clock: clock}
}

// NewDirSource creates a source over the images of a frame directory
func NewDirSource(dir string, clock timeutil.Clock) (*FileSource, error) {
	paths, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	return NewFileSource(paths, clock), nil
}

// Len returns the number of frames
func (s *FileSource) Len() int {
	return len(s.paths)
}

func (s *FileSource) Next(ctx context.Context) (*FrameData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.next]
	seq := uint64(s.next)
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %s: %w", path, err)
	}
	return &FrameData{
		Data:      data,
		Seq:       seq,
		Timestamp: s.clock.Now(),
		Source:    path,
	}, nil
}

func (s *FileSource) Close() error {
	return nil
}

// VideoSource decodes a video file with FFmpeg into JPEG frames.
// Frame numbers start at 0 and follow the file's native frame order.
type VideoSource struct {
	path     string
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	splitter *jpegSplitter
	pending  [][]byte
	seq      uint64
	eof      bool
	clock    timeutil.Clock
}

// NewVideoSource starts FFmpeg on path
func NewVideoSource(ctx context.Context, path string, clock timeutil.Clock) (*VideoSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", "-loglevel", "error", "-i", path,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "-")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &VideoSource{
		path:     path,
		cmd:      cmd,
		stdout:   stdout,
		splitter: newJPEGSplitter(),
		clock:    clock,
	}, nil
}

func (s *VideoSource) Next(ctx context.Context) (*FrameData, error) {
	chunk := make([]byte, 64*1024)
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.eof {
			return nil, io.EOF
		}
		n, err := s.stdout.Read(chunk)
		if n > 0 {
			s.pending = append(s.pending, s.splitter.Write(chunk[:n])...)
		}
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			s.eof = true
			return nil, fmt.Errorf("failed to read video frames: %w", err)
		}
	}

	data := s.pending[0]
	s.pending = s.pending[1:]
	frame := &FrameData{
		Data:      data,
		Seq:       s.seq,
		Timestamp: s.clock.Now(),
		Source:    s.path,
	}
	s.seq++
	return frame, nil
}

func (s *VideoSource) Close() error {
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

// OpenSource picks a frame directory source or an FFmpeg video source
func OpenSource(ctx context.Context, path string, clock timeutil.Clock) (FrameSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	if info.IsDir() {
		return NewDirSource(path, clock)
	}
	return NewVideoSource(ctx, path, clock)
}
