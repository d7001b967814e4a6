// Package derive produces the secondary artifacts of a build from the
// primary WebAssembly module: text disassembly, a stripped module and its
// disassembly, rwasm bytecode and a natively precompiled module.
//
// Each artifact is a Stage. A stage names the file it writes, the stage
// whose output it reads (or the primary artifact), the Tool that produces it
// and whether its failure aborts the build. The Executor runs independent
// stages concurrently and classifies every result as an Outcome; a failed
// best-effort stage never cancels its siblings.
package derive
