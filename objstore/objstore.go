// Package objstore moves files to and from object storage. Failures are
// logged and not returned; callers get the number of successful transfers.
package objstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Transfer names a local file and its object name.
type Transfer struct {
	Local  string
	Remote string
}

// Store is an object storage.
type Store interface {
	Upload(ctx context.Context, container string, transfers []Transfer) int
	Download(ctx context.Context, container string, names []string, dest string) int
	List(ctx context.Context, container, prefix string) []string
}

// DirTransfers returns a transfer for every regular file directly in dir,
// with object names below prefix.
func DirTransfers(dir, prefix string) ([]Transfer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var result []Transfer
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		result = append(result, Transfer{
			Local:  filepath.Join(dir, e.Name()),
			Remote: strings.TrimPrefix(prefix+"/"+e.Name(), "/"),
		})
	}
	return result, nil
}

// Local keeps containers as directories below Root.
type Local struct {
	Root string
}

func copyFile(dst, src string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Upload copies local files into the container directory.
func (s *Local) Upload(ctx context.Context, container string, transfers []Transfer) int {
	var n int
	for _, t := range transfers {
		if ctx.Err() != nil {
			break
		}
		dst := filepath.Join(s.Root, container, filepath.FromSlash(t.Remote))
		if err := copyFile(dst, t.Local); err != nil {
			log.WithFields(log.Fields{"container": container, "object": t.Remote}).WithError(err).Error("upload failed")
			continue
		}
		n++
	}
	return n
}

// Download copies objects into dest, keeping object names as relative paths.
func (s *Local) Download(ctx context.Context, container string, names []string, dest string) int {
	var n int
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		src := filepath.Join(s.Root, container, filepath.FromSlash(name))
		if err := copyFile(filepath.Join(dest, filepath.FromSlash(name)), src); err != nil {
			log.WithFields(log.Fields{"container": container, "object": name}).WithError(err).Error("download failed")
			continue
		}
		n++
	}
	return n
}

// List returns object names with a prefix, sorted.
func (s *Local) List(ctx context.Context, container, prefix string) []string {
	root := filepath.Join(s.Root, container)
	var names []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		log.WithField("container", container).WithError(err).Error("list failed")
		return nil
	}
	sort.Strings(names)
	return names
}
