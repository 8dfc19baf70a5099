package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"seedlot/pkg/domain"
)

// hashedContent is the part of an evidence item that defines its identity as
// a fact. Record identity, timestamps and chain pointers are excluded.
type hashedContent struct {
	Type            domain.EvidenceType `json:"type"`
	Aspect          domain.Aspect       `json:"aspect,omitempty"`
	Title           string              `json:"title"`
	Summary         string              `json:"summary,omitempty"`
	SourceReference string              `json:"source_reference,omitempty"`
	Claims          map[string]string   `json:"claims,omitempty"`
	DocumentKey     string              `json:"document_key,omitempty"`
	Confidence      float64             `json:"confidence"`
	Authoritative   bool                `json:"authoritative"`
}

// ContentHash returns the sha256 of the RFC 8785 canonical form of the
// evidence content, prefixed with "sha256:".
func ContentHash(e domain.Evidence) (string, error) {
	raw, err := json.Marshal(hashedContent{
		Type:            e.Type,
		Aspect:          e.Aspect,
		Title:           e.Title,
		Summary:         e.Summary,
		SourceReference: e.SourceReference,
		Claims:          e.Claims,
		DocumentKey:     e.DocumentKey,
		Confidence:      e.Confidence,
		Authoritative:   e.Authoritative,
	})
	if err != nil {
		return "", fmt.Errorf("marshal evidence content: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize evidence content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
