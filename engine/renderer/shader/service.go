package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gogpu/naga"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/systems"
)

type Stage uint8

const (
	STAGE_VERTEX Stage = iota
	STAGE_FRAGMENT
	STAGE_COMPUTE
)

func (s Stage) String() string {
	switch s {
	case STAGE_VERTEX:
		return "vertex"
	case STAGE_FRAGMENT:
		return "fragment"
	case STAGE_COMPUTE:
		return "compute"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// StageFromPath derives the stage from names like "blit.vert.wgsl".
func StageFromPath(path string) (Stage, bool) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch filepath.Ext(base) {
	case ".vert":
		return STAGE_VERTEX, true
	case ".frag":
		return STAGE_FRAGMENT, true
	case ".comp":
		return STAGE_COMPUTE, true
	}
	return 0, false
}

type CompileFlags uint32

const (
	COMPILE_FLAG_NONE        CompileFlags = 0
	COMPILE_FLAG_STRIP_DEBUG CompileFlags = 1 << 0
	// COMPILE_FLAG_VALIDATE checks the module declares an entry point for
	// the requested stage.
	COMPILE_FLAG_VALIDATE CompileFlags = 1 << 1
)

// BindingLayout is the binding convention of the pipeline layouts the
// modules are attached to. Offsets are added to every descriptor set and
// binding number the compiler assigned.
type BindingLayout struct {
	SetOffset     uint32
	BindingOffset uint32
}

type Source struct {
	// Name identifies the source for invalidation, usually its file path.
	Name       string
	Stage      Stage
	EntryPoint string
	Code       string
}

// ReadSource loads a WGSL file whose stage is encoded in its name.
func ReadSource(path string) (Source, error) {
	stage, ok := StageFromPath(path)
	if !ok {
		return Source{}, fmt.Errorf("cannot derive shader stage from %q", path)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return Source{}, err
	}
	return Source{Name: path, Stage: stage, EntryPoint: "main", Code: string(code)}, nil
}

// Module is a compiled SPIR-V blob. The renderer only attaches it to
// pipeline creation.
type Module struct {
	Name       string
	Stage      Stage
	EntryPoint string
	Code       []uint32
	key        uint64
}

type CompileError struct {
	Name  string
	Stage Stage
	Log   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling %s shader %q: %s", e.Stage, e.Name, e.Log)
}

func (e *CompileError) Is(target error) bool {
	return target == core.ErrShaderCompile
}

// CompileFunc turns WGSL text into a SPIR-V byte stream.
type CompileFunc func(source string) ([]byte, error)

type Option func(*Service)

func WithCompiler(fn CompileFunc) Option {
	return func(s *Service) { s.compile = fn }
}

func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// Service owns the compiler runtime shared by every context of the
// process. The owner calls Initialize and Shutdown once; contexts hold a
// reference through Acquire and Release.
type Service struct {
	mu          sync.Mutex
	compile     CompileFunc
	workers     int
	jobs        *systems.JobSystem
	initialized bool
	refs        int
	cache       map[uint64]*Module
	byName      map[string][]uint64
	hits        uint64
	misses      uint64
}

func NewService(opts ...Option) *Service {
	s := &Service{
		compile: naga.Compile,
		workers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	jobs, err := systems.NewJobSystem(s.workers, s.workers*2)
	if err != nil {
		return fmt.Errorf("shader service: %w", err)
	}
	s.jobs = jobs
	s.cache = make(map[uint64]*Module)
	s.byName = make(map[string][]uint64)
	s.initialized = true
	core.LogDebug("shader service initialized with %d workers", jobs.Workers())
	return nil
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil
	}
	if refs := s.refs; refs != 0 {
		s.mu.Unlock()
		core.Assert(false, "shader service shut down with %d references", refs)
	}
	jobs := s.jobs
	s.jobs = nil
	s.cache = nil
	s.byName = nil
	s.initialized = false
	s.mu.Unlock()

	return jobs.Shutdown()
}

// Acquire registers a user of the service.
func (s *Service) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return core.ErrNotInitialized
	}
	s.refs++
	return nil
}

func (s *Service) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	core.Assert(s.refs > 0, "shader service released more times than acquired")
	s.refs--
}

func (s *Service) RefCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// CacheStats returns the number of cache hits and misses so far.
func (s *Service) CacheStats() (hits, misses uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

func (s *Service) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func cacheKey(src Source, flags CompileFlags, layout BindingLayout) uint64 {
	h := fnv.New64a()
	var buf [13]byte
	buf[0] = byte(src.Stage)
	binary.LittleEndian.PutUint32(buf[1:], uint32(flags))
	binary.LittleEndian.PutUint32(buf[5:], layout.SetOffset)
	binary.LittleEndian.PutUint32(buf[9:], layout.BindingOffset)
	h.Write(buf[:])
	h.Write([]byte(src.EntryPoint))
	h.Write([]byte{0})
	h.Write([]byte(src.Code))
	return h.Sum64()
}

// Compile returns the module for src, compiling it on a cache miss.
func (s *Service) Compile(src Source, flags CompileFlags, layout BindingLayout) (*Module, error) {
	key := cacheKey(src, flags, layout)

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil, core.ErrNotInitialized
	}
	if m, ok := s.cache[key]; ok {
		s.hits++
		s.mu.Unlock()
		return m, nil
	}
	s.misses++
	compile := s.compile
	s.mu.Unlock()

	m, err := build(compile, src, flags, layout)
	if err != nil {
		core.LogError("%s", err)
		return nil, err
	}
	m.key = key

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, core.ErrNotInitialized
	}
	if existing, ok := s.cache[key]; ok {
		return existing, nil
	}
	s.cache[key] = m
	s.byName[src.Name] = append(s.byName[src.Name], key)
	return m, nil
}

func build(compile CompileFunc, src Source, flags CompileFlags, layout BindingLayout) (*Module, error) {
	fail := func(format string, args ...interface{}) error {
		return &CompileError{Name: src.Name, Stage: src.Stage, Log: fmt.Sprintf(format, args...)}
	}

	code, err := compile(src.Code)
	if err != nil {
		return nil, fail("%s", err)
	}
	words, err := wordsFromBytes(code)
	if err != nil {
		return nil, fail("%s", err)
	}
	if flags&COMPILE_FLAG_STRIP_DEBUG != 0 {
		if words, err = stripDebugInfo(words); err != nil {
			return nil, fail("%s", err)
		}
	}
	if err := remapBindings(words, layout); err != nil {
		return nil, fail("%s", err)
	}
	if flags&COMPILE_FLAG_VALIDATE != 0 {
		found, err := hasEntryPoint(words, src.Stage, src.EntryPoint)
		if err != nil {
			return nil, fail("%s", err)
		}
		if !found {
			return nil, fail("no %s entry point named %q", src.Stage, src.EntryPoint)
		}
	}

	return &Module{
		Name:       src.Name,
		Stage:      src.Stage,
		EntryPoint: src.EntryPoint,
		Code:       words,
	}, nil
}

// CompileProgram compiles every stage of a program in parallel on the
// service's job system. Modules are returned in the order of srcs.
func (s *Service) CompileProgram(srcs []Source, flags CompileFlags, layout BindingLayout) ([]*Module, error) {
	s.mu.Lock()
	jobs := s.jobs
	s.mu.Unlock()
	if jobs == nil {
		return nil, core.ErrNotInitialized
	}

	modules := make([]*Module, len(srcs))
	errs := make([]error, len(srcs))
	var wg sync.WaitGroup
	for i := range srcs {
		wg.Add(1)
		err := jobs.Submit(systems.JobTask{
			Name:        "compile " + srcs[i].Name,
			InputParams: i,
			OnStart: func(params interface{}, results chan<- interface{}) error {
				idx := params.(int)
				m, err := s.Compile(srcs[idx], flags, layout)
				if err != nil {
					errs[idx] = err
					return err
				}
				results <- m
				return nil
			},
			OnComplete: func(results <-chan interface{}) {
				m := (<-results).(*Module)
				modules[i] = m
			},
			OnCompletionCallback: wg.Done,
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return modules, nil
}

// Invalidate drops every cached module compiled from the named source and
// returns how many were dropped.
func (s *Service) Invalidate(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.byName[name]
	for _, k := range keys {
		delete(s.cache, k)
	}
	delete(s.byName, name)
	if len(keys) > 0 {
		core.LogInfo("invalidated %d compiled modules of %s", len(keys), name)
	}
	return len(keys)
}
