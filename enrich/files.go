package enrich

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/segmentio/encoding/json"
)

var fileNameReplacer = strings.NewReplacer("/", "_", ":", "-", "*", "")

// SafeName turns a DOI into a string usable as a file name.
func SafeName(doi string) string {
	return fileNameReplacer.Replace(doi)
}

// FileName is the name of the per-DOI JSON file.
func FileName(doi string) string {
	return SafeName(doi) + ".json"
}

// ReadDocument decodes a JSON object, keeping numbers as json.Number, so
// they are written back unchanged.
func ReadDocument(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("empty document")
	}
	return doc, nil
}

// ReadDocumentFile decodes a JSON file.
func ReadDocumentFile(filename string) (map[string]any, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := ReadDocument(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return doc, nil
}

// WriteFileAtomic writes data to a temporary file in the same directory and
// renames it to filename, replacing any existing file.
func WriteFileAtomic(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(filename)+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// WriteDocument writes a document into dir, named after its id, and returns
// the path.
func WriteDocument(dir, id string, doc map[string]any) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	filename := filepath.Join(dir, FileName(id))
	if err := WriteFileAtomic(filename, append(b, '\n')); err != nil {
		return "", err
	}
	return filename, nil
}

// Feed is an append-only JSON lines file. Safe for concurrent use.
type Feed struct {
	mu sync.Mutex
	f  *os.File
	n  int64
}

// OpenFeed opens or creates a feed file for appending.
func OpenFeed(filename string) (*Feed, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Feed{f: f}, nil
}

// Append writes a single document as one line.
func (feed *Feed) Append(doc map[string]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	feed.mu.Lock()
	defer feed.mu.Unlock()
	if _, err := feed.f.Write(buf.Bytes()); err != nil {
		return err
	}
	feed.n++
	return nil
}

// Count returns the number of lines appended through this feed.
func (feed *Feed) Count() int64 {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	return feed.n
}

// Name returns the file name of the feed.
func (feed *Feed) Name() string {
	return feed.f.Name()
}

// Close closes the feed file.
func (feed *Feed) Close() error {
	return feed.f.Close()
}
