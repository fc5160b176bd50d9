package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spi-exam-service/internal/app"
	"spi-exam-service/internal/domain"
)

const documentExt = ".json"

// SetSource reads question sets laid out as <root>/<mode>/<category>/<slug>.json.
type SetSource struct {
	root string
}

func NewSetSource(root string) *SetSource {
	return &SetSource{root: root}
}

// Scan walks exactly two directory levels below root. Entries are visited in
// lexical order so duplicate slugs resolve deterministically (last wins).
func (s *SetSource) Scan(ctx context.Context) ([]app.SetRef, error) {
	modes, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var refs []app.SetRef
	for _, modeDir := range modes {
		modePath := filepath.Join(s.root, modeDir.Name())
		if !isDir(modePath, modeDir) {
			continue
		}
		categories, err := os.ReadDir(modePath)
		if err != nil {
			continue
		}
		for _, catDir := range categories {
			catPath := filepath.Join(modePath, catDir.Name())
			if !isDir(catPath, catDir) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			files, err := os.ReadDir(catPath)
			if err != nil {
				continue
			}
			for _, f := range files {
				if filepath.Ext(f.Name()) != documentExt {
					continue
				}
				location := filepath.Join(catPath, f.Name())
				// Stat follows symlinks so linked documents carry their target's mtime
				info, err := os.Stat(location)
				if err != nil || info.IsDir() {
					continue
				}
				refs = append(refs, app.SetRef{
					Placement: domain.Placement{
						Mode:     modeDir.Name(),
						Category: catDir.Name(),
						Slug:     strings.TrimSuffix(f.Name(), documentExt),
					},
					Location: location,
					ModTime:  info.ModTime(),
				})
			}
		}
	}
	return refs, nil
}

// isDir reports whether entry is a directory, following symlinks.
func isDir(path string, entry fs.DirEntry) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir()
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (s *SetSource) Stat(_ context.Context, location string) (time.Time, error) {
	info, err := os.Stat(location)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *SetSource) Read(_ context.Context, location string) ([]byte, error) {
	return os.ReadFile(location)
}
