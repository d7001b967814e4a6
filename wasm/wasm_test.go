package wasm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wippyai/wasm-build/internal/binary"
)

// answerModule exports "main" () -> i32 returning 42.
var answerModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x08, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2a, 0x0b,
}

func customSection(name string, payload []byte) []byte {
	p := binary.NewWriter()
	p.WriteName(name)
	p.WriteBytes(payload)
	w := binary.NewWriter()
	w.Section(SectionCustom, p.Bytes())
	return w.Bytes()
}

// withCode replaces the single function body of answerModule.
func withCode(t *testing.T, body ...byte) []byte {
	t.Helper()
	sections, err := ReadSections(answerModule)
	if err != nil {
		t.Fatal(err)
	}
	fn := binary.NewWriter()
	fn.WriteU32(0) // no locals
	fn.WriteBytes(body)
	code := binary.NewWriter()
	code.WriteU32(1)
	code.WriteU32(uint32(fn.Len()))
	code.WriteBytes(fn.Bytes())
	for i := range sections {
		if sections[i].ID == SectionCode {
			sections[i].Data = code.Bytes()
		}
	}
	return EncodeSections(sections)
}

func TestParseModule(t *testing.T) {
	m, err := ParseModuleValidate(answerModule)
	if err != nil {
		t.Fatalf("ParseModuleValidate: %v", err)
	}
	if len(m.Types) != 1 || len(m.Types[0].Results) != 1 || m.Types[0].Results[0] != ValI32 {
		t.Errorf("types = %+v", m.Types)
	}
	if len(m.Exports) != 1 || m.Exports[0].Name != "main" || m.Exports[0].Kind != KindFunc {
		t.Errorf("exports = %+v", m.Exports)
	}
	if len(m.Code) != 1 {
		t.Fatalf("code = %d bodies, want 1", len(m.Code))
	}
	instrs, err := DecodeInstructions(m.Code[0].Code)
	if err != nil {
		t.Fatal(err)
	}
	if len(instrs) != 2 || instrs[0].Opcode != OpI32Const || instrs[0].Value != 42 || instrs[1].Opcode != OpEnd {
		t.Errorf("instructions = %+v", instrs)
	}
}

func TestParseModuleErrors(t *testing.T) {
	truncated := answerModule[:len(answerModule)-3]
	outOfOrder := append([]byte{}, answerModule[:8]...)
	outOfOrder = append(outOfOrder, 0x03, 0x02, 0x01, 0x00) // function
	outOfOrder = append(outOfOrder, 0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x00, 0x01, 0x00, 0x00, 0x00}, ErrInvalidMagic},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}, ErrInvalidVersion},
		{"truncated", truncated, nil},
		{"out of order", outOfOrder, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModule(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnsupportedProposals(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"simd", []byte{0xfd, 0x0c, 0x0b}},
		{"atomics", []byte{0xfe, 0x03, 0x00, 0x0b}},
		{"exceptions", []byte{0x06, 0x40, 0x0b, 0x41, 0x00, 0x0b}},
		{"tail calls", []byte{0x12, 0x00, 0x0b}},
		{"multi-memory memarg", []byte{0x41, 0x00, 0x28, 0x42, 0x01, 0x00, 0x0b}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModuleValidate(withCode(t, tt.body...))
			if !errors.Is(err, ErrUnsupported) {
				t.Fatalf("error = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		wantErr bool
	}{
		{"const", []byte{0x41, 0x01, 0x0b}, false},
		{"nested blocks", []byte{0x02, 0x7f, 0x03, 0x40, 0x0c, 0x01, 0x0b, 0x41, 0x07, 0x0b, 0x0b}, false},
		{"if else", []byte{0x41, 0x01, 0x04, 0x7f, 0x41, 0x01, 0x05, 0x41, 0x02, 0x0b, 0x0b}, false},
		{"call out of range", []byte{0x10, 0x05, 0x0b}, true},
		{"branch too deep", []byte{0x0c, 0x03, 0x0b}, true},
		{"local out of range", []byte{0x20, 0x00, 0x0b}, true},
		{"load without memory", []byte{0x41, 0x00, 0x28, 0x02, 0x00, 0x0b}, true},
		{"else without if", []byte{0x02, 0x40, 0x05, 0x0b, 0x0b}, true},
		{"unterminated", []byte{0x02, 0x40, 0x0b}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModuleValidate(withCode(t, tt.body...))
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStrip(t *testing.T) {
	var data []byte
	data = append(data, answerModule...)
	data = append(data, customSection(".debug_info", []byte{1, 2, 3, 4})...)
	data = append(data, customSection("producers", []byte{0})...)

	names, err := CustomSectionNames(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != ".debug_info" || names[1] != "producers" {
		t.Fatalf("custom sections = %v", names)
	}

	stripped, err := Strip(data)
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if !bytes.Equal(stripped, answerModule) {
		t.Errorf("stripped module differs from original without custom sections")
	}
	names, err = CustomSectionNames(stripped)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("stripped module still has custom sections %v", names)
	}
	if _, err := ParseModuleValidate(stripped); err != nil {
		t.Errorf("stripped module does not parse: %v", err)
	}

	again, err := Strip(stripped)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, stripped) {
		t.Error("Strip is not idempotent")
	}
}

func TestStripRejectsGarbage(t *testing.T) {
	if _, err := Strip([]byte("not wasm")); err == nil {
		t.Fatal("expected error")
	}
}

func TestReaderLEB(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want int64
	}{
		{"zero", []byte{0x00}, 0},
		{"minus one", []byte{0x7f}, -1},
		{"624485", []byte{0xe5, 0x8e, 0x26}, 624485},
		{"minus 123456", []byte{0xc0, 0xbb, 0x78}, -123456},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := binary.NewReader(tt.in).ReadS64()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
			w := binary.NewWriter()
			w.WriteS64(tt.want)
			if !bytes.Equal(w.Bytes(), tt.in) {
				t.Errorf("encoded %x, want %x", w.Bytes(), tt.in)
			}
		})
	}
}
