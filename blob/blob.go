// Package blob is the boundary to the media store. The core never
// inspects file bytes beyond confirming a buffer is present; it hands
// the buffer over and gets a durable URL back.
package blob

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/duochat/go-duo-chat-server/chaterrors"
)

// Kind is the logical media kind of an upload.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Store accepts a media buffer and returns a durable URL.
type Store interface {
	Put(ctx context.Context, kind Kind, data []byte) (string, error)
}

// DiskStore writes uploads under a local directory served at baseURL.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore creates the upload directory tree if needed.
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	for _, k := range []Kind{KindImage, KindVideo, KindAudio} {
		if err := os.MkdirAll(filepath.Join(dir, string(k)), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create upload dir for %s", k)
		}
	}
	return &DiskStore{dir: dir, baseURL: baseURL}, nil
}

// Put stores the buffer and returns its durable URL. An empty buffer and
// any write failure surface as UploadError; the caller aborts message
// creation entirely rather than persisting a partial attachment.
func (s *DiskStore) Put(ctx context.Context, kind Kind, data []byte) (string, error) {
	if len(data) == 0 {
		return "", chaterrors.Upload(errors.New("empty buffer"), string(kind))
	}
	name := uuid.NewString() + ".bin"
	path := filepath.Join(s.dir, string(kind), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", chaterrors.Upload(err, "write "+string(kind))
	}
	return s.baseURL + "/" + string(kind) + "/" + name, nil
}
