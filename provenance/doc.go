// Package provenance records what a build produced and how.
//
// A Recorder copies the build's artifacts into a fresh, timestamped
// directory under <root>/artifacts/<arch>/, hashes each copy, and writes a
// BUILD-INFO.md manifest listing the digests together with the source
// commit, toolchain versions, target triple and build time. When a signing
// key is configured the manifest is signed with Ed25519 and the hex
// signature is written next to it as BUILD-INFO.md.sig.
//
// The directory is assembled under a hidden staging name and renamed into
// place only once complete, so a visible build directory is never partial.
// Verify re-checks a recorded directory against its manifest.
package provenance
