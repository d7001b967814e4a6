// Package pipeline runs a complete deterministic build: resolve the single
// WebAssembly target of a Cargo workspace, cross-compile it, derive the
// secondary artifacts and record everything in a new provenance directory.
//
// The four steps run strictly in sequence. Only derivation is internally
// concurrent, and the recorder starts after every derivation stage has
// settled. A failure in resolution, compilation or a fatal derivation stage
// aborts the build before anything is recorded.
package pipeline
