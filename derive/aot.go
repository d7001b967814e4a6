package derive

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-build/errors"
)

// WazeroAOT precompiles a module to native code with wazero's optimizing
// compiler and stores the compiled image wazero writes to its file cache.
type WazeroAOT struct {
	// WorkDir holds the temporary compilation cache; empty uses os.TempDir.
	WorkDir string
}

// Name returns the tool's display name.
func (*WazeroAOT) Name() string {
	return "wazero"
}

// compilerSupported mirrors the platforms wazero's compiler targets.
func compilerSupported() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		return false
	}
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "netbsd", "dragonfly", "windows":
		return true
	}
	return false
}

// Run compiles input and writes the cached native image to output.
func (t *WazeroAOT) Run(ctx context.Context, input, output string) error {
	if !compilerSupported() {
		return errors.New(errors.PhaseDerive, errors.KindToolUnavailable).
			Tool(t.Name()).
			Detail("no native compiler for %s/%s", runtime.GOOS, runtime.GOARCH).
			Build()
	}

	wasmBytes, err := os.ReadFile(input)
	if err != nil {
		return errors.IO(errors.PhaseDerive, input, err)
	}

	cacheDir, err := os.MkdirTemp(t.WorkDir, "wazero-cache-")
	if err != nil {
		return errors.IO(errors.PhaseDerive, t.WorkDir, err)
	}
	defer os.RemoveAll(cacheDir)

	cache, err := wazero.NewCompilationCacheWithDir(cacheDir)
	if err != nil {
		return errors.ToolFailed(t.Name(), "create compilation cache", err)
	}
	defer cache.Close(ctx)

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigCompiler().WithCompilationCache(cache))
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errors.ToolFailed(t.Name(), "compile module", err)
	}
	defer compiled.Close(ctx)

	image, err := cachedImage(cacheDir)
	if err != nil {
		return errors.ToolFailed(t.Name(), "read compiled image", err)
	}
	if err := os.WriteFile(output, image, 0o644); err != nil {
		return errors.IO(errors.PhaseDerive, output, err)
	}
	return nil
}

// cachedImage returns the single compiled module file under dir.
func cachedImage(dir string) ([]byte, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(found) != 1 {
		return nil, errors.InvalidData(errors.PhaseDerive, dir, "expected one compiled image in cache, found "+strconv.Itoa(len(found)))
	}
	return os.ReadFile(found[0])
}
