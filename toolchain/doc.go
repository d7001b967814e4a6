// Package toolchain invokes the Rust cross-compiler with a fixed,
// reproducibility-oriented flag set.
//
// A Request captures everything that parameterizes the compiler call
// (features, stack size, toolchain home directories) once at the start of a
// run. The Invoker never reads the process environment itself, so two runs
// built from equal Requests issue byte-identical compiler command lines.
//
// The flags applied to every build:
//
//	-C link-arg=-zstack-size=<n>    fixed stack for the linked module
//	-C panic=abort                  no unwinding
//	-C target-feature=+bulk-memory  opcode extension enabled at codegen
//	-C codegen-units=1              single codegen unit
//	-C incremental=false            no incremental state
//	--remap-path-prefix=<project>=/project
//	--remap-path-prefix=<cargo home>=/cargo
//	--remap-path-prefix=<rustup home>=/rustup
//
// They are passed through CARGO_ENCODED_RUSTFLAGS (0x1f separated), so paths
// containing spaces survive intact.
package toolchain
