package objstore

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/ncw/swift/v2"
	log "github.com/sirupsen/logrus"
)

// SwiftConfig holds OpenStack credentials.
type SwiftConfig struct {
	UserName string `yaml:"user"`
	APIKey   string `yaml:"key"`
	AuthURL  string `yaml:"auth_url"`
	Domain   string `yaml:"domain"`
	Tenant   string `yaml:"tenant"`
	Region   string `yaml:"region"`
}

// Swift stores objects in OpenStack Swift.
type Swift struct {
	Conn *swift.Connection
}

// NewSwift connects and authenticates.
func NewSwift(ctx context.Context, cfg SwiftConfig) (*Swift, error) {
	conn := &swift.Connection{
		UserName: cfg.UserName,
		ApiKey:   cfg.APIKey,
		AuthUrl:  cfg.AuthURL,
		Domain:   cfg.Domain,
		Tenant:   cfg.Tenant,
		Region:   cfg.Region,
		Timeout:  5 * time.Minute,
	}
	if err := conn.Authenticate(ctx); err != nil {
		return nil, err
	}
	return &Swift{Conn: conn}, nil
}

func contentType(name string) string {
	if filepath.Ext(name) == ".jsonl" {
		return "application/x-ndjson"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (s *Swift) put(ctx context.Context, container string, t Transfer) error {
	f, err := os.Open(t.Local)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = s.Conn.ObjectPut(ctx, container, t.Remote, f, false, "", contentType(t.Remote), nil)
	return err
}

// Upload creates the container if needed and puts all files.
func (s *Swift) Upload(ctx context.Context, container string, transfers []Transfer) int {
	if err := s.Conn.ContainerCreate(ctx, container, nil); err != nil {
		log.WithField("container", container).WithError(err).Warn("cannot create container")
	}
	var n int
	for _, t := range transfers {
		if err := s.put(ctx, container, t); err != nil {
			log.WithFields(log.Fields{"container": container, "object": t.Remote}).WithError(err).Error("upload failed")
			continue
		}
		n++
	}
	log.WithFields(log.Fields{"container": container, "uploaded": n, "total": len(transfers)}).Info("upload done")
	return n
}

func (s *Swift) get(ctx context.Context, container, name, dest string) error {
	filename := filepath.Join(dest, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if _, err := s.Conn.ObjectGet(ctx, container, name, f, false, nil); err != nil {
		f.Close()
		os.Remove(filename)
		return err
	}
	return f.Close()
}

// Download fetches objects into dest.
func (s *Swift) Download(ctx context.Context, container string, names []string, dest string) int {
	var n int
	for _, name := range names {
		if err := s.get(ctx, container, name, dest); err != nil {
			log.WithFields(log.Fields{"container": container, "object": name}).WithError(err).Error("download failed")
			continue
		}
		n++
	}
	return n
}

// List returns all object names with a prefix.
func (s *Swift) List(ctx context.Context, container, prefix string) []string {
	names, err := s.Conn.ObjectNamesAll(ctx, container, &swift.ObjectsOpts{Prefix: prefix})
	if err != nil {
		log.WithField("container", container).WithError(err).Error("list failed")
		return nil
	}
	return names
}
