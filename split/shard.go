package split

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
)

// Extensions of dump files.
var Extensions = []string{".ndjson", ".ndjson.gz", ".ndjson.zst"}

// IsShard reports whether the file name looks like a dump file.
func IsShard(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Shards returns the sorted dump files in dir, including subdirectories.
func Shards(dir string) ([]string, error) {
	var result []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsShard(d.Name()) {
			return nil
		}
		result = append(result, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(result)
	return result, nil
}

type multiCloser struct {
	io.Reader
	closers []func() error
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens a dump file, decompressing gzip and zstd files.
func Open(filename string) (io.ReadCloser, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(filename, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &multiCloser{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil
	case strings.HasSuffix(filename, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &multiCloser{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			f.Close,
		}}, nil
	default:
		return f, nil
	}
}
