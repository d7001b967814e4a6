package workspace

import (
	"context"
	"encoding/json"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/command"
)

// Target kinds and crate types that produce a .wasm file.
const (
	KindBin    = "bin"
	KindCDyLib = "cdylib"
)

// Metadata is the subset of `cargo metadata --format-version 1` output the
// resolver needs.
type Metadata struct {
	TargetDirectory         string    `json:"target_directory"`
	WorkspaceRoot           string    `json:"workspace_root"`
	Packages                []Package `json:"packages"`
	WorkspaceMembers        []string  `json:"workspace_members"`
	WorkspaceDefaultMembers []string  `json:"workspace_default_members"`
}

// Package is one package of the workspace.
type Package struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	ManifestPath string   `json:"manifest_path"`
	Targets      []Target `json:"targets"`
}

// Target is one compilable unit of a package.
type Target struct {
	Name       string   `json:"name"`
	SrcPath    string   `json:"src_path"`
	Kind       []string `json:"kind"`
	CrateTypes []string `json:"crate_types"`
}

// Package returns the package with the given id.
func (m *Metadata) Package(id string) (*Package, bool) {
	for i := range m.Packages {
		if m.Packages[i].ID == id {
			return &m.Packages[i], true
		}
	}
	return nil, false
}

// DefaultMembers returns the default member ids in declaration order,
// falling back to all workspace members for cargo versions that do not
// report default members.
func (m *Metadata) DefaultMembers() []string {
	if len(m.WorkspaceDefaultMembers) > 0 {
		return m.WorkspaceDefaultMembers
	}
	return m.WorkspaceMembers
}

// Decode parses `cargo metadata` JSON output.
func Decode(data []byte) (*Metadata, error) {
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidData).
			Subject("cargo metadata").
			Detail("decode metadata").
			Cause(err).
			Build()
	}
	return &md, nil
}

// Load runs the metadata query for the manifest at manifestPath.
func Load(ctx context.Context, runner command.Runner, manifestPath string) (*Metadata, error) {
	res, err := runner.Run(ctx, command.Command{
		Name: "cargo",
		Args: []string{"metadata", "--format-version", "1", "--no-deps", "--manifest-path", manifestPath},
	})
	if err != nil {
		return nil, errors.Toolchain(errors.PhaseResolve, "cargo metadata", command.ExitCode(err), err)
	}
	return Decode(res.Stdout)
}
