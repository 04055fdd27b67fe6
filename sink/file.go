package sink

import (
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/23retsuf/oak-drone-system/relay"
)

// snapshotJPEGQuality matches the quality used for stills elsewhere in the
// fleet tooling.
const snapshotJPEGQuality = 90

// FileSink appends frame payloads to a single timestamped file, used for
// H.264 recordings. The file is created lazily on the first frame so that
// toggling recording on and immediately off again leaves no empty file.
type FileSink struct {
	dir    string
	prefix string
	ext    string
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	file    *os.File
	path    string
	written uint64
	closed  bool
}

// FileConfig configures a FileSink.
type FileConfig struct {
	// Dir is the output directory. Created if missing.
	Dir string

	// Prefix of the generated file name (default "recording").
	Prefix string

	// Ext is the file extension including the dot (default ".h264").
	Ext string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock used for file naming. Tests only.
	Now func() time.Time
}

// NewFileSink returns a sink that records frames under cfg.Dir.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("sink: file sink needs a directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create directory %s: %w", cfg.Dir, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "recording"
	}
	ext := cfg.Ext
	if ext == "" {
		ext = ".h264"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &FileSink{dir: cfg.Dir, prefix: prefix, ext: ext, log: log, now: now}, nil
}

// WriteFrame appends the frame payload (implements relay.Sink). The output
// file is created on the first call.
func (fs *FileSink) WriteFrame(f relay.Frame) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return fmt.Errorf("sink: file sink closed")
	}
	if fs.file == nil {
		name := fmt.Sprintf("%s_%s%s", fs.prefix, fs.now().Format("20060102_150405"), fs.ext)
		path := filepath.Join(fs.dir, name)
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("sink: create %s: %w", path, err)
		}
		fs.file = file
		fs.path = path
		fs.log.Info("sink: recording started", "path", path)
	}
	if _, err := fs.file.Write(f.Data); err != nil {
		return fmt.Errorf("sink: write %s: %w", fs.path, err)
	}
	fs.written++
	return nil
}

// Path returns the output file path, or "" if no frame has arrived yet.
func (fs *FileSink) Path() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.path
}

// Written reports how many frames have been written so far.
func (fs *FileSink) Written() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.written
}

// Close finalizes the recording. Idempotent.
func (fs *FileSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.log.Info("sink: recording finished", "path", fs.path, "frames", fs.written)
	if err != nil {
		return fmt.Errorf("sink: close %s: %w", fs.path, err)
	}
	return nil
}

// SaveSnapshot writes a single frame to dir and returns the created path.
// Raw RGB frames (Width/Height set) are encoded as JPEG; encoded payloads
// are written verbatim with an .h264 extension.
func SaveSnapshot(dir string, f relay.Frame) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("sink: create directory %s: %w", dir, err)
	}
	stamp := f.Timestamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	if f.Width > 0 && f.Height > 0 {
		if len(f.Data) != f.Width*f.Height*3 {
			return "", fmt.Errorf("sink: snapshot payload is %d bytes, want %d for %dx%d RGB",
				len(f.Data), f.Width*f.Height*3, f.Width, f.Height)
		}
		path := filepath.Join(dir, fmt.Sprintf("snapshot_%s.jpg", stamp.Format("20060102_150405.000")))
		file, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("sink: create %s: %w", path, err)
		}
		defer file.Close()
		if err := jpeg.Encode(file, rgbImage(f), &jpeg.Options{Quality: snapshotJPEGQuality}); err != nil {
			return "", fmt.Errorf("sink: encode %s: %w", path, err)
		}
		return path, nil
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot_%s.h264", stamp.Format("20060102_150405.000")))
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("sink: write %s: %w", path, err)
	}
	return path, nil
}

// rgbImage wraps the packed RGB payload in an image.Image without copying
// per pixel beyond the RGBA expansion.
func rgbImage(f relay.Frame) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		src := i * 3
		dst := i * 4
		img.Pix[dst+0] = f.Data[src+0]
		img.Pix[dst+1] = f.Data[src+1]
		img.Pix[dst+2] = f.Data[src+2]
		img.Pix[dst+3] = 0xFF
	}
	return img
}
