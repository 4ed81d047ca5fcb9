package utils

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/facegroup/internal/types"
)

// ImageExtensions are the file extensions treated as photographs (compared case-insensitively).
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}

// IsImageFile reports whether name carries a recognised image extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ListImages returns the images directly inside dir, sorted by file name.
// The order is part of the contract: it decides which identity is created first.
// A missing path or a regular file yields an empty list.
func ListImages(dir string) ([]types.Image, error) {
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []types.Image
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		images = append(images, types.Image{SourceID: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	// os.ReadDir already sorts by name; keep it explicit since order is semantic.
	sort.SliceStable(images, func(i, j int) bool { return images[i].SourceID < images[j].SourceID })
	return images, nil
}
