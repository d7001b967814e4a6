package workspace

import (
	"slices"
	"sort"

	"github.com/wippyai/wasm-build/errors"
)

// ArtifactName is the file name of the primary artifact, `<target>.wasm`.
type ArtifactName string

// Eligible reports whether t emits a .wasm file: kind and crate type must
// both name bin, or both name cdylib.
func (t Target) Eligible() bool {
	isBin := slices.Contains(t.Kind, KindBin) && slices.Contains(t.CrateTypes, KindBin)
	isCDyLib := slices.Contains(t.Kind, KindCDyLib) && slices.Contains(t.CrateTypes, KindCDyLib)
	return isBin || isCDyLib
}

// Candidates returns every eligible target across the default members, in
// resolution order.
func Candidates(md *Metadata) ([]Target, error) {
	var out []Target
	for _, id := range md.DefaultMembers() {
		pkg, ok := md.Package(id)
		if !ok {
			return nil, errors.NotFound(errors.PhaseResolve, "package for workspace member", id)
		}
		targets := make([]Target, len(pkg.Targets))
		copy(targets, pkg.Targets)
		sort.SliceStable(targets, func(i, j int) bool {
			return targets[i].Name < targets[j].Name
		})
		for _, t := range targets {
			if t.Eligible() {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// Resolve identifies the single eligible target and returns its artifact
// name.
func Resolve(md *Metadata) (ArtifactName, error) {
	candidates, err := Candidates(md)
	if err != nil {
		return "", err
	}

	switch len(candidates) {
	case 0:
		return "", errors.NoTarget(md.subject())
	case 1:
		return ArtifactName(candidates[0].Name + ".wasm"), nil
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name + ".wasm"
		}
		return "", errors.AmbiguousTarget(md.subject(), names)
	}
}

// subject names the workspace in diagnostics.
func (m *Metadata) subject() string {
	members := m.DefaultMembers()
	if len(members) == 0 {
		return m.WorkspaceRoot
	}
	if pkg, ok := m.Package(members[0]); ok {
		return pkg.Name
	}
	return members[0]
}
