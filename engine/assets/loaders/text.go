package loaders

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// TextLoader reads a file as a string.
type TextLoader struct {
	Type metadata.ResourceType
}

func (tl *TextLoader) Load(path string) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &metadata.Resource{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FullPath: path,
		Type:     tl.Type,
		DataSize: uint64(len(data)),
		Data:     string(data),
	}, nil
}

func (tl *TextLoader) Unload(r *metadata.Resource) error {
	r.Data = nil
	r.DataSize = 0
	return nil
}
