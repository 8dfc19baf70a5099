package ledger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seedlot/internal/blob/core"
	memblob "seedlot/internal/infra/blob/memory"
	"seedlot/pkg/domain"
)

func TestFromSupplierDeclaration(t *testing.T) {
	tc := 0.72
	cases := []struct {
		name     string
		decl     SupplierDeclaration
		wantErr  bool
		wantConf float64
		wantText string
		wantVer  string
		wantType domain.EvidenceType
	}{
		{name: "unapproved", decl: SupplierDeclaration{RawText: "x", RawLanguage: "en"}, wantErr: true},
		{name: "korean without translation", decl: SupplierDeclaration{RawText: "국내산", ApprovedForUse: true}, wantErr: true},
		{name: "reviewed english", decl: SupplierDeclaration{RawText: "Grown in Korea", RawLanguage: "EN", ReviewedByHuman: true, ApprovedForUse: true}, wantConf: 1, wantText: "Grown in Korea", wantVer: TextVersionRaw, wantType: domain.EvidenceSupplierDeclaration},
		{name: "unreviewed english email", decl: SupplierDeclaration{RawText: "Grown in Korea", RawLanguage: "en", ApprovedForUse: true, SourceType: "email"}, wantConf: 0.8, wantText: "Grown in Korea", wantVer: TextVersionRaw, wantType: domain.EvidenceEmail},
		{name: "translated default confidence", decl: SupplierDeclaration{RawText: "국내산", TranslatedText: "Domestic", ApprovedForUse: true}, wantConf: 0.6, wantText: "Domestic", wantVer: TextVersionTranslatedEN, wantType: domain.EvidenceSupplierDeclaration},
		{name: "translated with score", decl: SupplierDeclaration{RawText: "국내산", TranslatedText: "Domestic", TranslationConfidence: &tc, ApprovedForUse: true}, wantConf: 0.72, wantText: "Domestic", wantVer: TextVersionTranslatedEN, wantType: domain.EvidenceSupplierDeclaration},
		{name: "translated and reviewed", decl: SupplierDeclaration{RawText: "국내산", TranslatedText: "Domestic", TranslationConfidence: &tc, ReviewedByHuman: true, ApprovedForUse: true, SourceType: "IMAGE"}, wantConf: 0.9, wantText: "Domestic", wantVer: TextVersionTranslatedEN, wantType: domain.EvidenceImage},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev, err := FromSupplierDeclaration(c.decl, domain.AspectOriginCountry, map[string]string{"country": "KR"})
			if c.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, c.wantConf, ev.Confidence, 1e-9)
			assert.Equal(t, c.wantText, ev.Summary)
			assert.Equal(t, c.wantVer, ev.Claims["text_version"])
			assert.Equal(t, "KR", ev.Claims["country"])
			assert.Equal(t, c.wantType, ev.Type)
			_, verr := domain.ValidateEvidence(ev)
			assert.NoError(t, verr)
		})
	}
	_, err := FromSupplierDeclaration(SupplierDeclaration{RawText: "x"}, domain.AspectIntendedUse, nil)
	assert.True(t, errors.Is(err, ErrDeclarationNotApproved))
}

func TestArchiveDocumentIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	store := memblob.New()
	first, err := ArchiveDocument(ctx, store, strings.NewReader("pdf bytes"), "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.Key, DocumentPrefix))
	second, err := ArchiveDocument(ctx, store, bytes.NewReader([]byte("pdf bytes")), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Key)
	list, _ := store.List(ctx, DocumentPrefix)
	assert.Len(t, list, 1)
	_, err = ArchiveDocument(ctx, store, strings.NewReader("other"), "")
	require.NoError(t, err)
	list, _ = store.List(ctx, DocumentPrefix)
	assert.Len(t, list, 2)
	assert.Equal(t, core.DriverMemory, store.Driver())
}

func TestEnsureRuleEvidenceReusesClause(t *testing.T) {
	store, _ := newLedgerStore(t)
	clause := RuleClause{Source: "usda-ppq", Version: "2026.1.0", Clause: "small_lot.exclusions.Solanum", Aspect: domain.AspectLegalExclusion, Text: "Solanum is excluded", Claims: map[string]string{"excluded": "true"}}
	var a, b domain.Evidence
	require.NoError(t, inTx(t, store, func(tx domain.Transaction) error {
		var err error
		if a, err = EnsureRuleEvidence(tx, clause); err != nil {
			return err
		}
		b, err = EnsureRuleEvidence(tx, clause)
		return err
	}))
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, domain.EvidenceRegulatoryRule, a.Type)
	assert.True(t, a.Authoritative)
	assert.Equal(t, "ruleset:usda-ppq@2026.1.0#small_lot.exclusions.Solanum", a.SourceReference)
}
