package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/yandex"
)

// errBoom is a generic sentinel for injecting adapter failures in tests.
var errBoom = errors.New("fakeCloud: boom")

// fakeCloud is an in-memory CloudAdapter used across reconciler, push, and
// service tests. It models a tree of folders and file contents keyed by
// cloud path, without any network involved.
type fakeCloud struct {
	mu sync.Mutex

	dirs  map[cloudpath.Cloud]bool
	files map[cloudpath.Cloud][]byte
	mtime map[cloudpath.Cloud]string

	deleteErr   error
	uploadErr   error
	downloadErr error
	listErr     error

	deletedPaths []cloudpath.Cloud
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		dirs:  map[cloudpath.Cloud]bool{"/": true},
		files: make(map[cloudpath.Cloud][]byte),
		mtime: make(map[cloudpath.Cloud]string),
	}
}

func (f *fakeCloud) putFile(path cloudpath.Cloud, content []byte, modified string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[path] = content
	f.mtime[path] = modified
}

func (f *fakeCloud) putDir(path cloudpath.Cloud) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dirs[path] = true
}

func (f *fakeCloud) ListChildren(ctx context.Context, dir cloudpath.Cloud) ([]yandex.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []yandex.Node

	for p := range f.dirs {
		if p == dir || p == "/" {
			continue
		}

		parent, name := cloudpath.ParentAndName(p)
		if parent == dir {
			out = append(out, yandex.Node{Path: p, Name: name, Kind: yandex.KindDir})
		}
	}

	for p, content := range f.files {
		parent, name := cloudpath.ParentAndName(p)
		if parent == dir {
			out = append(out, yandex.Node{Path: p, Name: name, Kind: yandex.KindFile, Size: int64(len(content)), Modified: f.mtime[p]})
		}
	}

	return out, nil
}

func (f *fakeCloud) CreateFolder(ctx context.Context, dir cloudpath.Cloud) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dirs[dir] {
		return false, nil
	}

	f.dirs[dir] = true

	return true, nil
}

func (f *fakeCloud) Delete(ctx context.Context, path cloudpath.Cloud) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}

	delete(f.files, path)
	delete(f.dirs, path)
	f.deletedPaths = append(f.deletedPaths, path)

	return nil
}

func (f *fakeCloud) Download(ctx context.Context, src cloudpath.Cloud, dst string) (int64, error) {
	f.mu.Lock()
	content, ok := f.files[src]
	downloadErr := f.downloadErr
	f.mu.Unlock()

	if downloadErr != nil {
		return 0, downloadErr
	}

	if !ok {
		return 0, fmt.Errorf("fakeCloud: no such file %s", src)
	}

	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return 0, err
	}

	return int64(len(content)), nil
}

func (f *fakeCloud) Upload(ctx context.Context, src string, dst cloudpath.Cloud, size int64) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}

	content, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.files[dst] = content
	f.mu.Unlock()

	return nil
}
