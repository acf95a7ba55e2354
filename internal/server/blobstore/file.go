package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps attachments under root/<dictionary>/<signature>.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Bucket(dictionary string) Bucket {
	return &fileBucket{dir: filepath.Join(s.root, dictionary)}
}

type fileBucket struct {
	dir string
}

func (b *fileBucket) Open(_ context.Context, sig string) (io.ReadCloser, int64, error) {
	if err := checkSignature(sig); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(b.dir, sig))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, notFound(sig)
		}
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

func (b *fileBucket) Size(_ context.Context, sig string) (int64, error) {
	if err := checkSignature(sig); err != nil {
		return 0, err
	}
	st, err := os.Stat(filepath.Join(b.dir, sig))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, notFound(sig)
		}
		return 0, err
	}
	return st.Size(), nil
}

// Put writes through a temporary file renamed into place, so readers never
// see a partial attachment.
func (b *fileBucket) Put(ctx context.Context, sig string, r io.Reader, size int64) error {
	if err := checkSignature(sig); err != nil {
		return err
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, "."+sig+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.CopyN(tmp, r, size)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write attachment %s: %w", sig, err)
	}
	if n != size {
		return fmt.Errorf("write attachment %s: short write %d of %d", sig, n, size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(b.dir, sig))
}
