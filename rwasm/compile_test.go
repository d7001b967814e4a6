package rwasm

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/binary"
	"github.com/wippyai/wasm-build/wasm"
)

// buildModule assembles a module with one () -> i32 function per body and
// exports the first as "main". Bodies have no locals.
func buildModule(bodies ...[]byte) []byte {
	section := func(w *binary.Writer, id byte, fill func(p *binary.Writer)) {
		p := binary.NewWriter()
		fill(p)
		w.Section(id, p.Bytes())
	}

	w := binary.NewWriter()
	w.WriteBytes([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	section(w, wasm.SectionType, func(p *binary.Writer) {
		p.WriteBytes([]byte{0x01, 0x60, 0x00, 0x01, 0x7f})
	})
	section(w, wasm.SectionFunction, func(p *binary.Writer) {
		p.WriteU32(uint32(len(bodies)))
		for range bodies {
			p.WriteU32(0)
		}
	})
	section(w, wasm.SectionExport, func(p *binary.Writer) {
		p.WriteU32(1)
		p.WriteName("main")
		p.Byte(wasm.KindFunc)
		p.WriteU32(0)
	})
	section(w, wasm.SectionCode, func(p *binary.Writer) {
		p.WriteU32(uint32(len(bodies)))
		for _, body := range bodies {
			p.WriteU32(uint32(len(body) + 1))
			p.Byte(0) // local entries
			p.WriteBytes(body)
		}
	})
	return w.Bytes()
}

func compileProgram(t *testing.T, module []byte) *Program {
	t.Helper()
	out, err := Compile(module)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestCompileAnswer(t *testing.T) {
	p := compileProgram(t, buildModule([]byte{0x41, 0x2a, 0x0b}))

	for _, id := range []byte{SectionTypes, SectionFunctions, SectionExports, SectionCode} {
		if _, ok := p.Sections[id]; !ok {
			t.Errorf("section %d missing", id)
		}
	}
	for _, id := range []byte{SectionImports, SectionMemory, SectionStart, SectionData} {
		if _, ok := p.Sections[id]; ok {
			t.Errorf("unexpected section %d", id)
		}
	}

	if len(p.Code) != 2 {
		t.Fatalf("code has %d instructions, want 2", len(p.Code))
	}
	if p.Code[0].Op != Opcode(wasm.OpI32Const) || p.Code[0].U32(0) != 42 {
		t.Errorf("first instruction = %+v, want i32.const 42", p.Code[0])
	}
	if p.Code[1].Op != Opcode(wasm.OpEnd) {
		t.Errorf("second instruction = %+v, want end", p.Code[1])
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	module := buildModule(
		[]byte{0x02, 0x7f, 0x41, 0x01, 0x0c, 0x00, 0x0b, 0x0b},
		[]byte{0x41, 0x00, 0x04, 0x7f, 0x41, 0x01, 0x05, 0x41, 0x02, 0x0b, 0x0b},
	)
	first, err := Compile(module)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Compile(module)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("compiling the same module twice produced different output")
	}
}

func TestControlTargets(t *testing.T) {
	tests := []struct {
		name   string
		bodies [][]byte
		pc     int
		want   []uint32 // immediate u32 words
	}{
		{
			// 0 block i32, 1 loop, 2 i32.const 0, 3 br_if 0, 4 end,
			// 5 i32.const 7, 6 br 0, 7 end, 8 end
			name:   "block header",
			bodies: [][]byte{{0x02, 0x7f, 0x03, 0x40, 0x41, 0x00, 0x0d, 0x00, 0x0b, 0x41, 0x07, 0x0c, 0x00, 0x0b, 0x0b}},
			pc:     0,
			want:   []uint32{0xFFFFFFFF, 8, 8},
		},
		{
			name:   "loop header",
			bodies: [][]byte{{0x02, 0x7f, 0x03, 0x40, 0x41, 0x00, 0x0d, 0x00, 0x0b, 0x41, 0x07, 0x0c, 0x00, 0x0b, 0x0b}},
			pc:     1,
			want:   []uint32{0xFFFFFFC0, 5, 5},
		},
		{
			name:   "br_if to loop start",
			bodies: [][]byte{{0x02, 0x7f, 0x03, 0x40, 0x41, 0x00, 0x0d, 0x00, 0x0b, 0x41, 0x07, 0x0c, 0x00, 0x0b, 0x0b}},
			pc:     3,
			want:   []uint32{0, 2},
		},
		{
			name:   "br past block end",
			bodies: [][]byte{{0x02, 0x7f, 0x03, 0x40, 0x41, 0x00, 0x0d, 0x00, 0x0b, 0x41, 0x07, 0x0c, 0x00, 0x0b, 0x0b}},
			pc:     6,
			want:   []uint32{0, 8},
		},
		{
			// 0 i32.const 1, 1 br 0, 2 end
			name:   "br to function end",
			bodies: [][]byte{{0x41, 0x01, 0x0c, 0x00, 0x0b}},
			pc:     1,
			want:   []uint32{0, 2},
		},
		{
			// 0 i32.const 1, 1 if i32, 2 i32.const 2, 3 else, 4 i32.const 3, 5 end, 6 end
			name:   "if with else",
			bodies: [][]byte{{0x41, 0x01, 0x04, 0x7f, 0x41, 0x02, 0x05, 0x41, 0x03, 0x0b, 0x0b}},
			pc:     1,
			want:   []uint32{0xFFFFFFFF, 4, 6},
		},
		{
			name:   "else skips to end",
			bodies: [][]byte{{0x41, 0x01, 0x04, 0x7f, 0x41, 0x02, 0x05, 0x41, 0x03, 0x0b, 0x0b}},
			pc:     3,
			want:   []uint32{6},
		},
		{
			// second function starts at absolute index 2
			name:   "targets are absolute",
			bodies: [][]byte{{0x41, 0x00, 0x0b}, {0x41, 0x01, 0x0c, 0x00, 0x0b}},
			pc:     3,
			want:   []uint32{0, 4},
		},
		{
			// 0 block, 1 i32.const 0, 2 br_table [0 1] default 0, 3 end, 4 i32.const 5, 5 end
			name:   "br_table",
			bodies: [][]byte{{0x02, 0x40, 0x41, 0x00, 0x0e, 0x02, 0x00, 0x01, 0x00, 0x0b, 0x41, 0x05, 0x0b}},
			pc:     2,
			want:   []uint32{2, 0, 4, 1, 5, 0, 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := compileProgram(t, buildModule(tt.bodies...))
			if tt.pc >= len(p.Code) {
				t.Fatalf("only %d instructions", len(p.Code))
			}
			in := p.Code[tt.pc]
			if len(in.Immediate) != 4*len(tt.want) {
				t.Fatalf("immediate has %d bytes, want %d", len(in.Immediate), 4*len(tt.want))
			}
			for i, want := range tt.want {
				if got := in.U32(i); got != want {
					t.Errorf("word %d = %d, want %d", i, got, want)
				}
			}
		})
	}
}

func TestFunctionEntries(t *testing.T) {
	out, err := Compile(buildModule([]byte{0x41, 0x00, 0x0b}, []byte{0x41, 0x01, 0x41, 0x02, 0x6a, 0x0b}))
	if err != nil {
		t.Fatal(err)
	}
	p, err := Parse(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Code) != 6 {
		t.Fatalf("code has %d instructions, want 6", len(p.Code))
	}

	// count, then (type, entry u32le, nlocals) per function
	r := binary.NewReader(p.Sections[SectionFunctions])
	n, _ := r.ReadU32()
	if n != 2 {
		t.Fatalf("function count = %d", n)
	}
	var entries []uint32
	for i := uint32(0); i < n; i++ {
		if _, err := r.ReadU32(); err != nil {
			t.Fatal(err)
		}
		entry, err := r.ReadU32LE()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := r.ReadU32(); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, entry)
	}
	if entries[0] != 0 || entries[1] != 2 {
		t.Errorf("entries = %v, want [0 2]", entries)
	}
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name        string
		module      []byte
		unsupported bool
	}{
		{"not wasm", []byte("definitely not wasm"), false},
		{"truncated", buildModule([]byte{0x41, 0x2a, 0x0b})[:20], false},
		{"simd", buildModule([]byte{0xfd, 0x0f, 0x0b}), true},
		{"atomics", buildModule([]byte{0xfe, 0x03, 0x00, 0x0b}), true},
		{"exceptions", buildModule([]byte{0x08, 0x00, 0x0b}), true},
		{"invalid call", buildModule([]byte{0x10, 0x09, 0x0b}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.module)
			if err == nil {
				t.Fatal("expected error")
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseDerive, Kind: errors.KindBytecodeCompilation}) {
				t.Errorf("error = %v, want bytecode compilation error", err)
			}
			if tt.unsupported && !stderrors.Is(err, wasm.ErrUnsupported) {
				t.Errorf("error = %v, want wasm.ErrUnsupported in chain", err)
			}
		})
	}
}

func TestParseRejectsForeignData(t *testing.T) {
	if _, err := Parse([]byte("\x00asm\x01\x00\x00\x00")); err == nil {
		t.Fatal("expected error")
	}
}
