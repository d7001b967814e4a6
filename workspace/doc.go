// Package workspace reads Cargo workspace metadata and resolves the single
// build target whose output is the WebAssembly artifact.
//
// Metadata is produced by an external `cargo metadata` query and is never
// mutated here. Resolution walks the workspace default members in declaration
// order and each member's targets in lexicographic order, so the result does
// not depend on how the metadata collaborator happens to order targets.
//
// A target is eligible when its kind and its crate type agree on either
// "bin" or "cdylib":
//
//	kind=[bin]    crate_types=[bin]    eligible
//	kind=[cdylib] crate_types=[cdylib] eligible
//	kind=[bin]    crate_types=[lib]    not eligible
//
// Exactly one eligible target must exist. Zero or several are configuration
// errors reported before anything is compiled.
package workspace
