// Package errors provides structured error types for the wasm-build pipeline.
//
// Errors are categorized by Phase (which pipeline step failed) and Kind
// (error category). The Error type carries the offending subject (a target
// name, a file, a stage), the external tool involved, a human-readable detail,
// the process exit code for toolchain failures, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCompile, errors.KindToolchain).
//		Tool("cargo").
//		ExitCode(101).
//		Detail("cargo build exited with code %d", 101).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NoTarget("power_calc")
//	err := errors.BytecodeCompilation("lib.wasm", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
// Errors that wrap a failed process expose ExitCode so a CLI can propagate the
// child's status.
package errors
