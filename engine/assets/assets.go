package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

var ErrWatcherClosed = errors.New("asset watcher already closed")

// Invalidator drops whatever was built from a source file. The shader
// service implements it.
type Invalidator interface {
	Invalidate(name string) int
}

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
	Removed    bool
}

// AssetManager indexes the files below a directory and keeps the index in
// sync with the file system. Changed shader sources are invalidated in the
// shader cache so the next compile picks them up.
type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	shaders Invalidator
	events  *core.EventBus

	done     chan struct{}
	wg       sync.WaitGroup
	fsnotify *fsnotify.Watcher
	isClosed bool
}

// NewAssetManager creates the watcher. shaders and events may be nil.
func NewAssetManager(shaders Invalidator, events *core.EventBus) (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[metadata.ResourceType]Loader),
		shaders:  shaders,
		events:   events,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeText, &loaders.TextLoader{Type: metadata.ResourceTypeText})
	am.registerLoader(metadata.ResourceTypeConfig, &loaders.TextLoader{Type: metadata.ResourceTypeConfig})
	return am, nil
}

// Initialize indexes assetsDir and, when watch is set, starts following its
// changes.
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	if am.isClosed {
		return ErrWatcherClosed
	}
	if err := am.walk(assetsDir, watch); err != nil {
		return err
	}
	if watch {
		am.wg.Add(1)
		go am.start()
	}
	core.LogInfo("indexed %d assets in %s", am.Len(), assetsDir)
	return nil
}

// Shutdown stops the watcher. It is safe to call more than once.
func (am *AssetManager) Shutdown() {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	am.wg.Wait()
	am.fsnotify.Close()
}

func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

func (am *AssetManager) Len() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// Lookup returns the index entry of path.
func (am *AssetManager) Lookup(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[filepath.Clean(path)]
	return info, ok
}

// Paths returns the indexed paths of type t.
func (am *AssetManager) Paths(t metadata.ResourceType) []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var paths []string
	for p, info := range am.assets {
		if info.Type == t {
			paths = append(paths, p)
		}
	}
	return paths
}

// LoadAsset reads an indexed asset with the loader of its type.
func (am *AssetManager) LoadAsset(path string) (*metadata.Resource, error) {
	path = filepath.Clean(path)

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if exists {
		asset.LastLoaded = time.Now()
		am.assets[path] = asset
	}
	am.mutex.Unlock()
	if !exists {
		return nil, fmt.Errorf("asset not found: %s", path)
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	return loader.Load(path)
}

func (am *AssetManager) UnloadAsset(asset *metadata.Resource) error {
	loader, ok := am.loaders[asset.Type]
	if !ok {
		return fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	return loader.Unload(asset)
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	path := filepath.Clean(e.Name)
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(path); err == nil && s.IsDir() {
			if err := am.walk(path, true); err != nil {
				core.LogWarn("failed to watch %s: %s", path, err)
			}
			return
		}
	}
	switch {
	case e.Has(fsnotify.Create), e.Has(fsnotify.Write):
		am.changed(path, false)
	case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
		// A removed directory cannot be stat'ed anymore; the watcher drops
		// it on its own.
		am.changed(path, true)
	}
}

// walk indexes every file below root and watches its directories.
func (am *AssetManager) walk(root string, watch bool) error {
	return filepath.WalkDir(root, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if watch {
				return am.fsnotify.Add(walkPath)
			}
			return nil
		}
		am.index(filepath.Clean(walkPath))
		return nil
	})
}

func (am *AssetManager) index(path string) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == metadata.ResourceTypeNone {
		return AssetInfo{}, false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[path]
	info.Path = path
	info.Type = assetType
	am.assets[path] = info
	return info, true
}

// changed updates the index and tells the interested parties about path.
func (am *AssetManager) changed(path string, removed bool) {
	var info AssetInfo
	if removed {
		am.mutex.Lock()
		var ok bool
		if info, ok = am.assets[path]; !ok {
			am.mutex.Unlock()
			return
		}
		delete(am.assets, path)
		am.mutex.Unlock()
		info.Removed = true
	} else {
		var ok bool
		if info, ok = am.index(path); !ok {
			return
		}
	}

	core.LogDebug("asset %s changed (removed: %v)", path, removed)
	if info.Type == metadata.ResourceTypeShader && am.shaders != nil {
		am.shaders.Invalidate(path)
	}
	if am.events != nil {
		am.events.Fire(core.EVENT_CODE_ASSET_CHANGED, info, core.EventContext{})
	}
}

func determineAssetType(path string) metadata.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wgsl":
		return metadata.ResourceTypeShader
	case ".toml":
		return metadata.ResourceTypeConfig
	case ".txt":
		return metadata.ResourceTypeText
	default:
		return metadata.ResourceTypeNone
	}
}
