package provenance

import (
	"crypto/ed25519"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/rwasm"
)

// ProblemKind classifies a verification finding.
type ProblemKind string

const (
	ProblemMismatch  ProblemKind = "mismatch"  // digest differs from the record
	ProblemMissing   ProblemKind = "missing"   // listed file is absent
	ProblemUnlisted  ProblemKind = "unlisted"  // file present but not recorded
	ProblemSignature ProblemKind = "signature" // signature absent or invalid
	ProblemMalformed ProblemKind = "malformed" // digest matches but the content does not parse
)

// bytecodeFile is checked for structure as well as digest.
const bytecodeFile = "lib.rwasm"

// Problem is one verification finding.
type Problem struct {
	File   string
	Kind   ProblemKind
	Detail string
}

func (p Problem) String() string {
	if p.Detail == "" {
		return fmt.Sprintf("%s: %s", p.File, p.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", p.File, p.Kind, p.Detail)
}

// Verification is the result of checking one build directory.
type Verification struct {
	Record   *Record
	Problems []Problem
}

// OK reports whether no problems were found.
func (v *Verification) OK() bool {
	return len(v.Problems) == 0
}

// checkBytecode parses an rwasm container whose digest already matched.
// A record signed over a corrupt build would otherwise verify.
func checkBytecode(path string) (Problem, bool) {
	data, err := os.ReadFile(path)
	if err == nil {
		_, err = rwasm.Parse(data)
	}
	if err != nil {
		return Problem{File: filepath.Base(path), Kind: ProblemMalformed, Detail: err.Error()}, false
	}
	return Problem{}, true
}

// Verify re-hashes every file listed in dir's record, parses lib.rwasm,
// reports files that are present but unlisted, and checks the signature when publicKey is set.
// The returned error covers an unreadable or malformed record only.
func Verify(dir string, publicKey ed25519.PublicKey) (*Verification, error) {
	recordPath := filepath.Join(dir, RecordFile)
	data, err := os.ReadFile(recordPath)
	if err != nil {
		return nil, errors.IO(errors.PhaseVerify, recordPath, err)
	}
	rec, err := ParseRecord(data)
	if err != nil {
		return nil, err
	}

	v := &Verification{Record: rec}
	listed := map[string]bool{RecordFile: true, SignatureFile: true}
	for _, d := range rec.Digests {
		listed[d.Name] = true
		digest, err := HashFile(filepath.Join(dir, d.Name))
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
			v.Problems = append(v.Problems, Problem{File: d.Name, Kind: ProblemMissing})
		case err != nil:
			return nil, errors.IO(errors.PhaseVerify, d.Name, err)
		case FormatDigest(digest) != d.Hex:
			v.Problems = append(v.Problems, Problem{
				File:   d.Name,
				Kind:   ProblemMismatch,
				Detail: "recorded " + d.Hex + ", actual " + FormatDigest(digest),
			})
		case d.Name == bytecodeFile:
			if p, ok := checkBytecode(filepath.Join(dir, d.Name)); !ok {
				v.Problems = append(v.Problems, p)
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.IO(errors.PhaseVerify, dir, err)
	}
	for _, e := range entries { // sorted by name
		if !listed[e.Name()] {
			v.Problems = append(v.Problems, Problem{File: e.Name(), Kind: ProblemUnlisted})
		}
	}

	if publicKey != nil {
		sig, err := os.ReadFile(filepath.Join(dir, SignatureFile))
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
			v.Problems = append(v.Problems, Problem{File: SignatureFile, Kind: ProblemSignature, Detail: "not signed"})
		case err != nil:
			return nil, errors.IO(errors.PhaseVerify, SignatureFile, err)
		default:
			if err := checkSignature(publicKey, data, sig); err != nil {
				v.Problems = append(v.Problems, Problem{File: SignatureFile, Kind: ProblemSignature, Detail: err.Error()})
			}
		}
	}
	return v, nil
}
