// Package blob keeps uploaded attachment bytes on local disk. Files are
// named by a fresh uuid plus an extension derived from the sniffed content
// type, never by the client-supplied filename.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var ErrEmptyUpload = errors.New("empty upload")

// sniffLen matches mimetype's default read limit.
const sniffLen = 3072

type DiskStore struct {
	dir    string
	prefix string
	log    *slog.Logger
}

// NewDiskStore stores files in dir and returns references under prefix.
func NewDiskStore(dir, prefix string, log *slog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, prefix: prefix, log: log}, nil
}

func (d *DiskStore) Dir() string { return d.dir }

// Put writes r to a temp file and renames it into place once complete.
func (d *DiskStore) Put(ctx context.Context, filename string, r io.Reader) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return "", ErrEmptyUpload
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	name := uuid.NewString() + mt.Extension()
	if mt.Extension() == "" {
		name += ".bin"
	}

	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(head); err == nil {
		_, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		return "", fmt.Errorf("commit upload: %w", err)
	}
	ref := path.Join(d.prefix, name)
	d.log.Info("Attachment stored", "reference", ref, "mime", mt.String(), "filename", filename)
	return ref, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
