// Package wasm decodes and validates WebAssembly core modules.
//
// The decoder covers the MVP binary format together with the extensions the
// Rust wasm32-unknown-unknown target emits by default: sign extension,
// non-trapping float-to-int conversion, bulk memory, reference types,
// multi-value and extended constant expressions. Proposals outside that set
// (SIMD, threads, GC, exception handling, memory64) are reported as
// unsupported rather than silently skipped.
//
// Besides parsing, the package can re-emit a module without its custom
// sections (Strip), which is how debug info and producer metadata are
// removed from a build artifact.
package wasm
