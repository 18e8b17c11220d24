package transport

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalTransport - services with empty credentials live on this filesystem
type LocalTransport struct{}

func (t *LocalTransport) List(path string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Name:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", path)
	}
	return entries, nil
}

func (t *LocalTransport) Fetch(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()
	if err = os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(dst))
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	defer out.Close()
	if _, err = io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "failed to copy %s", src)
	}
	return nil
}

func (t *LocalTransport) Close() error {
	return nil
}
