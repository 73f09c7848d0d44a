package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zsiec/mjpegview/internal/media"
)

// Dir records frames as <root>/<stream>/<seq>.jpg.
type Dir struct {
	root   string
	log    *slog.Logger
	failed atomic.Int64

	mu      sync.Mutex
	created map[string]bool
}

// NewDir creates root if needed and returns a recorder writing under it.
func NewDir(root string, log *slog.Logger) (*Dir, error) {
	if root == "" {
		return nil, errors.New("sink: Dir root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dir{
		root:    root,
		log:     log.With("component", "recorder", "dir", root),
		created: make(map[string]bool),
	}, nil
}

// FramePath returns the file a frame is written to.
func (d *Dir) FramePath(streamKey string, seq uint64) string {
	return filepath.Join(d.root, streamKey, fmt.Sprintf("%08d.jpg", seq))
}

// WriteFrame implements FrameSink. Write failures are logged and counted;
// they never interrupt the session.
func (d *Dir) WriteFrame(frame *media.Frame) {
	if !validDirName(frame.StreamKey) {
		d.failed.Add(1)
		d.log.Warn("refusing to record stream with unsafe key", "stream", frame.StreamKey)
		return
	}
	if err := d.ensureDir(frame.StreamKey); err != nil {
		d.failed.Add(1)
		d.log.Warn("create stream dir failed", "stream", frame.StreamKey, "error", err)
		return
	}
	path := d.FramePath(frame.StreamKey, frame.Seq)
	if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
		d.failed.Add(1)
		d.log.Warn("write frame failed", "path", path, "error", err)
	}
}

// Failed returns the number of frames that could not be written.
func (d *Dir) Failed() int64 { return d.failed.Load() }

func (d *Dir) ensureDir(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.created[key] {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(d.root, key), 0o755); err != nil {
		return err
	}
	d.created[key] = true
	return nil
}

func validDirName(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}
