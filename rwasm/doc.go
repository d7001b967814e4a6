// Package rwasm compiles WebAssembly modules into rwasm, a flattened
// bytecode container for interpreters that cannot afford to decode LEB128
// and resolve structured control flow at load time.
//
// Every function body is laid out in one instruction stream. Opcodes are
// two bytes, immediates are fixed width, and every branch carries the
// absolute index of the instruction it continues at. The encoding is a pure
// function of the input module: compiling the same bytes twice yields the
// same container.
package rwasm
