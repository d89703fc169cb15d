package crypto

import "encoding/json"

// SignatoryIndex is a position in the topology at the time of signing.
// Block and proof signatures are keyed by this rather than by public key so
// that a committed block remains auditable even after later topology
// changes (§3 "Block invariants").
type SignatoryIndex int

// Signature pairs a signatory index with the hex-encoded signature bytes.
type Signature struct {
	Signatory SignatoryIndex `json:"signatory"`
	Data      string         `json:"data"`
}

// SignatureSet is an ordered, deduplicated-by-signatory collection of
// Signatures. The zero value is an empty set.
type SignatureSet struct {
	sigs []Signature
}

// NewSignatureSet builds a set from sigs, keeping the first occurrence of
// each signatory index.
func NewSignatureSet(sigs ...Signature) SignatureSet {
	var s SignatureSet
	for _, sig := range sigs {
		s.Add(sig)
	}
	return s
}

// Add inserts sig, ignoring it if the signatory is already present.
func (s *SignatureSet) Add(sig Signature) bool {
	for _, existing := range s.sigs {
		if existing.Signatory == sig.Signatory {
			return false
		}
	}
	s.sigs = append(s.sigs, sig)
	return true
}

// Has reports whether signatory already has a signature in the set.
func (s SignatureSet) Has(signatory SignatoryIndex) bool {
	for _, sig := range s.sigs {
		if sig.Signatory == signatory {
			return true
		}
	}
	return false
}

// Len returns the number of distinct signatories in the set.
func (s SignatureSet) Len() int { return len(s.sigs) }

// All returns the signatures in insertion order. The returned slice must
// not be mutated by the caller.
func (s SignatureSet) All() []Signature { return s.sigs }

// Clone returns an independent copy of the set.
func (s SignatureSet) Clone() SignatureSet {
	cp := make([]Signature, len(s.sigs))
	copy(cp, s.sigs)
	return SignatureSet{sigs: cp}
}

// MarshalJSON encodes the set as a plain array of signatures, matching the
// wire encoding used by peers.
func (s SignatureSet) MarshalJSON() ([]byte, error) {
	if s.sigs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.sigs)
}

// UnmarshalJSON decodes a plain array of signatures, deduplicating by
// signatory as Add would.
func (s *SignatureSet) UnmarshalJSON(data []byte) error {
	var sigs []Signature
	if err := json.Unmarshal(data, &sigs); err != nil {
		return err
	}
	s.sigs = nil
	for _, sig := range sigs {
		s.Add(sig)
	}
	return nil
}
