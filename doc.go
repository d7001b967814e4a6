// Package wasmbuild is a deterministic build pipeline for Rust workspaces
// targeting wasm32-unknown-unknown.
//
// A build resolves the single eligible binary or cdylib target, compiles it
// with canonical flags, derives secondary artifacts from the module and
// records every produced file with its SHA-256 digest in a fresh
// timestamped directory.
//
// # Architecture Overview
//
//	wasmbuild/
//	├── cmd/wasmbuild/   CLI: build, verify and keygen
//	├── pipeline/        Resolve, compile, derive and record phases
//	├── workspace/       cargo metadata decoding and target resolution
//	├── toolchain/       Build request, cargo invocation, version queries
//	├── derive/          Derivation stages and their concurrent executor
//	├── rwasm/           Flat bytecode format and compiler
//	├── wasm/            Core WASM decoding, validation and stripping
//	├── provenance/      BUILD-INFO.md records, signatures and verification
//	├── config/          YAML configuration
//	└── errors/          Structured error types
//
// # Quick Start
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p := pipeline.New()
//	opts, err := pipeline.OptionsFromConfig(cfg, p.Runner)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := p.Run(ctx, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Record.Dir)
//
// # Artifacts
//
// Each build directory holds, when produced:
//
//	lib.wasm           the compiled module
//	lib.wat            its text disassembly
//	lib.stripped.wasm  the module without custom sections
//	lib.stripped.wat   disassembly of the stripped module
//	lib.rwasm          flat bytecode
//	lib.cwasm          ahead-of-time compiled native image
//	BUILD-INFO.md      digests and toolchain metadata
//	BUILD-INFO.md.sig  optional Ed25519 signature of BUILD-INFO.md
package wasmbuild
