package ledger

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"seedlot/pkg/domain"
)

// ErrDeclarationNotApproved is returned for supplier declarations that have not
// been approved for downstream use.
var ErrDeclarationNotApproved = errors.New("supplier declaration not approved for use")

// Text versions recorded in the text_version claim.
const (
	TextVersionRaw          = "RAW"
	TextVersionTranslatedEN = "TRANSLATED_EN"
)

const (
	defaultRawLanguage            = "ko"
	defaultTranslationConfidence  = 0.6
	reviewedTranslationConfidence = 0.9
	unreviewedEnglishConfidence   = 0.8
)

// SupplierDeclaration is the shape produced by the supplier intake workflow.
type SupplierDeclaration struct {
	RawText               string   `json:"raw_text"`
	RawLanguage           string   `json:"raw_language,omitempty"`
	TranslatedText        string   `json:"translated_text,omitempty"`
	TranslationMethod     string   `json:"translation_method,omitempty"`
	TranslationConfidence *float64 `json:"translation_confidence,omitempty"`
	ReviewedByHuman       bool     `json:"reviewed_by_human"`
	ReviewedBy            string   `json:"reviewed_by,omitempty"`
	ApprovedForUse        bool     `json:"approved_for_use"`
	SourceType            string   `json:"source_type"`
	SourceReference       string   `json:"source_reference,omitempty"`
}

// FromSupplierDeclaration converts an approved declaration into an evidence
// item for aspect. Only English text reaches the ledger: non-English input must
// carry a translation.
func FromSupplierDeclaration(d SupplierDeclaration, aspect domain.Aspect, claims map[string]string) (domain.Evidence, error) {
	if !d.ApprovedForUse {
		return domain.Evidence{}, ErrDeclarationNotApproved
	}
	lang := strings.ToLower(strings.TrimSpace(d.RawLanguage))
	if lang == "" {
		lang = defaultRawLanguage
	}
	var text, version string
	var confidence float64
	if lang == "en" {
		text, version = strings.TrimSpace(d.RawText), TextVersionRaw
		confidence = unreviewedEnglishConfidence
		if d.ReviewedByHuman {
			confidence = 1.0
		}
	} else {
		text, version = strings.TrimSpace(d.TranslatedText), TextVersionTranslatedEN
		if text == "" {
			return domain.Evidence{}, domain.ValidationErrors{{Field: "translated_text", Message: fmt.Sprintf("required for %q declarations", lang)}}
		}
		confidence = defaultTranslationConfidence
		if d.TranslationConfidence != nil {
			confidence = *d.TranslationConfidence
		}
		if d.ReviewedByHuman && confidence < reviewedTranslationConfidence {
			confidence = reviewedTranslationConfidence
		}
	}
	if text == "" {
		return domain.Evidence{}, domain.ValidationErrors{{Field: "raw_text", Message: "is required"}}
	}
	merged := make(map[string]string, len(claims)+2)
	for k, v := range claims {
		merged[k] = v
	}
	merged["text_version"] = version
	merged["raw_language"] = lang
	recordedBy := "supplier-intake"
	if d.ReviewedBy != "" {
		recordedBy = d.ReviewedBy
	}
	return domain.Evidence{
		Type:            evidenceTypeForSource(d.SourceType),
		Aspect:          aspect,
		Title:           "Supplier declaration: " + strings.ToLower(strings.ReplaceAll(string(aspect), "_", " ")),
		Summary:         truncateRunes(text, domain.MaxLongText),
		SourceReference: d.SourceReference,
		Claims:          merged,
		Confidence:      confidence,
		RecordedBy:      recordedBy,
	}, nil
}

func evidenceTypeForSource(source string) domain.EvidenceType {
	switch strings.ToUpper(strings.TrimSpace(source)) {
	case "EMAIL":
		return domain.EvidenceEmail
	case "IMAGE":
		return domain.EvidenceImage
	default:
		return domain.EvidenceSupplierDeclaration
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
