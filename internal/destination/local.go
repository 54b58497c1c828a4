package destination

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/filex"
)

// LocalStore keeps archive blobs in a directory, the channel-store layout
// the surrounding assistant serves attachments from. The ref of a blob is
// its file name.
type LocalStore struct {
	name string
	root string
}

func NewLocalStore(name, root string) (*LocalStore, error) {
	if err := filex.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrDestinationUnreachable, root, err)
	}
	return &LocalStore{name: name, root: root}, nil
}

func (s *LocalStore) Name() string { return s.name }

// Upload copies the blob into the store under label. The write goes through
// a temp file plus rename, so re-uploading the same label overwrites cleanly
// and a crash never leaves a half-written object behind the final name.
func (s *LocalStore) Upload(ctx context.Context, label, blobPath string) (string, error) {
	dst := filepath.Join(s.root, label)
	if err := filex.AtomicReplaceFile(ctx, blobPath, dst); err != nil {
		return "", fmt.Errorf("%w: upload %s to %s: %v", common.ErrDestinationUnreachable, label, s.name, err)
	}
	return label, nil
}

func (s *LocalStore) Download(ctx context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ref))
	if err != nil {
		return nil, fmt.Errorf("%w: download %s from %s: %v", common.ErrDestinationUnreachable, ref, s.name, err)
	}
	return data, nil
}

func (s *LocalStore) List(ctx context.Context) ([]Object, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", common.ErrDestinationUnreachable, s.name, err)
	}

	var objects []Object
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: list %s: %v", common.ErrDestinationUnreachable, s.name, err)
		}
		objects = append(objects, Object{Ref: e.Name(), SizeBytes: info.Size()})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Ref < objects[j].Ref })
	return objects, nil
}

func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	err := os.Remove(filepath.Join(s.root, ref))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s from %s: %v", common.ErrDestinationUnreachable, ref, s.name, err)
	}
	return nil
}
