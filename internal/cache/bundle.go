package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/plotforge/plotforge/internal/model"
)

// ScanBundle walks a directory of freshly produced artifacts and builds the
// OutputBundle describing it, digesting every file. The directory itself
// becomes the bundle root.
func ScanBundle(root string) (*model.OutputBundle, error) {
	bundle := &model.OutputBundle{Root: root}

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
		digest, size, err := hashFile(path)
		if err != nil {
			return err
		}
		bundle.Artifacts = append(bundle.Artifacts, model.Artifact{
			Name:   filepath.ToSlash(rel),
			Digest: digest,
			Size:   size,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning bundle %s: %w", root, err)
	}
	return bundle, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
