package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Provenance is a recursive, content-addressing record of how a value came
// to be: the producing provider's code identifier at a specific case key,
// plus the provenance of every named dependency that fed into it.
type Provenance struct {
	CodeID              string
	CaseKey             CaseKey
	DepProvenancesByName map[string]Provenance
}

// NewProvenance constructs a Provenance from a computation's inputs.
func NewProvenance(codeID string, caseKey CaseKey, depProvenancesByName map[string]Provenance) Provenance {
	return Provenance{
		CodeID:              codeID,
		CaseKey:             caseKey,
		DepProvenancesByName: depProvenancesByName,
	}
}

// Hash returns a deterministic content fingerprint of this provenance: a
// single sha256 over the code id, the canonical case key, and then each
// dependency's name and own (recursively computed) hash, in sorted
// dependency-name order.
func (p Provenance) Hash() [32]byte {
	depNames := make([]string, 0, len(p.DepProvenancesByName))
	for name := range p.DepProvenancesByName {
		depNames = append(depNames, name)
	}
	sort.Strings(depNames)

	h := sha256.New()
	fmt.Fprintf(h, "code_id=%s\x1fcase_key=%s", p.CodeID, p.CaseKey.canonical())
	for _, name := range depNames {
		depHash := p.DepProvenancesByName[name].Hash()
		h.Write([]byte("\x1fdep:" + name + "="))
		h.Write(depHash[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HexHash returns Hash rendered as a hex string, convenient for use as part
// of a cache key.
func (p Provenance) HexHash() string {
	h := p.Hash()
	return hex.EncodeToString(h[:])
}

// Query is the addressable identity of a result request.
type Query struct {
	Name       EntityName
	Protocol   Protocol
	CaseKey    CaseKey
	Provenance Provenance
}

// Result pairs a Query with the value produced for it. The value has
// already been validated by the query's protocol.
type Result struct {
	Query Query
	Value any
}

// ResultGroup is an ordered list of Results together with the originating
// key space, returned to external callers of Resolve.
type ResultGroup struct {
	Results  []Result
	KeySpace KeySpace
}

// Values extracts the Result.Value of every result, in order.
func (g ResultGroup) Values() []any {
	out := make([]any, len(g.Results))
	for i, r := range g.Results {
		out[i] = r.Value
	}
	return out
}
