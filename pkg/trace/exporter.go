package trace

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
)

const (
	defaultMaxSize  = 10 << 20
	defaultMaxFiles = 5
)

// FileExporter appends one JSON line per extraction to a file. When the next
// line would push the file past its size limit, the file is moved to
// <path>.1, older generations shift up by one and the last is dropped.
type FileExporter struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	maxFiles int
	f        *os.File
	size     int64
	closed   bool
}

// FileExporterOption configures a FileExporter.
type FileExporterOption func(*FileExporter)

// WithMaxSize sets the size limit in bytes (default 10MB). Non-positive values are ignored.
func WithMaxSize(bytes int64) FileExporterOption {
	return func(fe *FileExporter) {
		if bytes > 0 {
			fe.maxSize = bytes
		}
	}
}

// WithMaxRotatedFiles sets how many old generations are kept (default 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(fe *FileExporter) {
		if count > 0 {
			fe.maxFiles = count
		}
	}
}

// NewFileExporter opens path for appending, creating parent directories.
// An empty path yields a NoopExporter.
func NewFileExporter(path string, opts ...FileExporterOption) (Exporter, error) {
	if path == "" {
		return &NoopExporter{}, nil
	}

	fe := &FileExporter{path: path, maxSize: defaultMaxSize, maxFiles: defaultMaxFiles}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create trace directory")
	}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

func (fe *FileExporter) open() error {
	f, err := os.OpenFile(fe.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open trace file %s", fe.path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "stat trace file %s", fe.path)
	}
	fe.f, fe.size = f, info.Size()
	return nil
}

// Export writes record as a single line. A record larger than the size
// limit still goes out whole, into a fresh file.
func (fe *FileExporter) Export(ctx context.Context, record *TraceRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode trace record")
	}
	line = append(line, '\n')

	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return errors.New("exporter closed")
	}

	if fe.size > 0 && fe.size+int64(len(line)) > fe.maxSize {
		if err := fe.rotate(); err != nil {
			return err
		}
	}

	n, err := fe.f.Write(line)
	fe.size += int64(n)
	return errors.Wrap(err, "write trace record")
}

// rotate runs with mu held
func (fe *FileExporter) rotate() error {
	if err := fe.f.Close(); err != nil {
		return errors.Wrap(err, "close trace file for rotation")
	}
	if err := shiftGenerations(fe.path, fe.maxFiles); err != nil {
		return err
	}
	return fe.open()
}

// shiftGenerations renames path.(n-1) to path.n down to path to path.1.
// Missing generations are skipped; path.keep is overwritten.
func shiftGenerations(path string, keep int) error {
	gen := func(i int) string {
		if i == 0 {
			return path
		}
		return path + "." + strconv.Itoa(i)
	}

	if err := os.Remove(gen(keep)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "drop oldest trace file")
	}
	for i := keep - 1; i >= 0; i-- {
		if err := os.Rename(gen(i), gen(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "rotate %s", gen(i))
		}
	}
	return nil
}

// Close syncs and closes the file. Calling it twice is harmless.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true

	syncErr := fe.f.Sync()
	closeErr := fe.f.Close()
	if syncErr != nil {
		return errors.Wrap(syncErr, "sync trace file")
	}
	return errors.Wrap(closeErr, "close trace file")
}
