package loaders

import (
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/shader"
)

// ShaderLoader reads shader sources. The resource data is a shader.Source
// named after its path, so compiled modules can be invalidated by path.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (*metadata.Resource, error) {
	src, err := shader.ReadSource(path)
	if err != nil {
		return nil, err
	}
	return &metadata.Resource{
		Name:     src.Name,
		FullPath: path,
		Type:     metadata.ResourceTypeShader,
		DataSize: uint64(len(src.Code)),
		Data:     src,
	}, nil
}

func (sl *ShaderLoader) Unload(*metadata.Resource) error {
	return nil
}
