package ruleset

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seedlot/internal/blob/core"
	memblob "seedlot/internal/infra/blob/memory"
	"seedlot/pkg/domain"
)

var midYear = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func loadFixture(t *testing.T) *Ruleset {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "2026.1.0.yaml"))
	require.NoError(t, err)
	rs, err := Parse(data)
	require.NoError(t, err)
	return rs
}

func TestParseAndLookup(t *testing.T) {
	rs := loadFixture(t)
	assert.Equal(t, "usda-aphis-ppq", rs.Source())
	assert.Equal(t, "2026.1.0", rs.Version())

	m, ok := rs.Lookup("solanum  LYCOPERSICUM", "Solanum", "us")
	require.True(t, ok)
	assert.True(t, m.Rule.SmallLotExcluded)
	assert.False(t, m.ByGenus)
	assert.Contains(t, m.Clause, "Solanum lycopersicum/US")

	m, ok = rs.Lookup("Capsicum annuum", "Capsicum", "US")
	require.True(t, ok)
	assert.True(t, m.ByGenus)
	assert.True(t, m.Rule.RequiresPhytosanitary("CN"))
	assert.False(t, m.Rule.RequiresPhytosanitary("KR"))
	assert.True(t, m.Rule.AllowsUse(domain.UseResearch))
	assert.False(t, m.Rule.AllowsUse(domain.UseCommercial))

	_, ok = rs.Lookup("Capsicum annuum", "Capsicum", "JP")
	assert.False(t, ok, "genus rule is US only")

	m, ok = rs.Lookup("Oryza sativa", "Oryza", "JP")
	require.True(t, ok, "wildcard destination")
	assert.Equal(t, domain.RiskHigh, m.Rule.RiskClass)

	_, ok = rs.Lookup("Quercus robur", "Quercus", "US")
	assert.False(t, ok)

	assert.True(t, rs.Program("US").SmallLotProgram)
	assert.True(t, rs.Program("DE").PhytosanitaryByDefault)
}

func TestProhibitsEvaluatesConditions(t *testing.T) {
	rs := loadFixture(t)
	rice, _ := rs.Lookup("Oryza sativa", "Oryza", "US")
	hit, err := rs.Prohibits(rice.Rule, Facts{OriginCountry: "XX", Quantity: 10})
	require.NoError(t, err)
	assert.True(t, hit)
	hit, err = rs.Prohibits(rice.Rule, Facts{OriginCountry: "KR", Quantity: 10})
	require.NoError(t, err)
	assert.False(t, hit)

	hemp, _ := rs.Lookup("Cannabis sativa", "Cannabis", "US")
	hit, err = rs.Prohibits(hemp.Rule, Facts{})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestParseRejectsBrokenDocuments(t *testing.T) {
	cases := map[string]string{
		"missing source":   "version: 1.0.0\n",
		"bad version":      "source: x\nversion: banana\n",
		"bad risk":         "source: x\nversion: 1.0.0\ntaxa:\n  - taxon: A\n    risk_class: EXTREME\n",
		"bad use":          "source: x\nversion: 1.0.0\ntaxa:\n  - taxon: A\n    allowed_uses: [EATING]\n",
		"bad cel":          "source: x\nversion: 1.0.0\ntaxa:\n  - taxon: A\n    prohibit_when: 'lot.quantity >'\n",
		"non-bool cel":     "source: x\nversion: 1.0.0\ntaxa:\n  - taxon: A\n    prohibit_when: '1 + 2'\n",
		"duplicate":        "source: x\nversion: 1.0.0\ntaxa:\n  - taxon: A\n  - taxon: a\n    destination: '*'\n",
		"inverted window":  "source: x\nversion: 1.0.0\neffective_from: 2026-02-01T00:00:00Z\nexpires_at: 2026-01-01T00:00:00Z\n",
		"not yaml mapping": "- just\n- a list\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestAcquireFailsClosed(t *testing.T) {
	ctx := context.Background()
	p := NewLoader(DirSource{Dir: "testdata"})

	rs, err := Acquire(ctx, p, Latest, midYear)
	require.NoError(t, err)
	assert.Equal(t, "2026.1.0", rs.Version())

	var expired domain.RulesetExpiredError
	_, err = Acquire(ctx, p, "2025.6.0", midYear)
	require.ErrorAs(t, err, &expired)
	assert.Contains(t, expired.Reason, "expired")

	_, err = Acquire(ctx, p, "9.9.9", midYear)
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, "version unavailable", expired.Reason)

	_, err = Acquire(ctx, p, "2026.1.0", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorAs(t, err, &expired)
	assert.Contains(t, expired.Reason, "not effective")

	_, err = Acquire(ctx, nil, "2026.1.0", midYear)
	require.ErrorAs(t, err, &expired)
}

type countingSource struct {
	inner Source
	reads atomic.Int32
	gate  chan struct{}
}

func (c *countingSource) List(ctx context.Context) ([]string, error) { return c.inner.List(ctx) }

func (c *countingSource) Read(ctx context.Context, v string) ([]byte, error) {
	c.reads.Add(1)
	<-c.gate
	return c.inner.Read(ctx, v)
}

func TestLoaderCollapsesConcurrentLoads(t *testing.T) {
	src := &countingSource{inner: DirSource{Dir: "testdata"}, gate: make(chan struct{})}
	l := NewLoader(src)
	var wg sync.WaitGroup
	results := make([]*Ruleset, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rs, err := l.Get(context.Background(), "2026.1.0")
			if err == nil {
				results[i] = rs
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	for _, rs := range results {
		require.NotNil(t, rs)
		assert.Same(t, results[0], rs)
	}
	assert.LessOrEqual(t, src.reads.Load(), int32(8))
	before := src.reads.Load()
	_, err := l.Get(context.Background(), "2026.1.0")
	require.NoError(t, err)
	assert.Equal(t, before, src.reads.Load(), "cached ruleset must not be re-read")
}

func TestBlobSourceAndMemoryProvider(t *testing.T) {
	ctx := context.Background()
	store := memblob.New()
	data, err := os.ReadFile(filepath.Join("testdata", "2026.1.0.yaml"))
	require.NoError(t, err)
	_, err = store.Put(ctx, BlobPrefix+"2026.1.0.yaml", bytes.NewReader(data), core.PutOptions{ContentType: "application/yaml"})
	require.NoError(t, err)
	l := NewLoader(BlobSource{Store: store})
	versions, err := l.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026.1.0"}, versions)
	rs, err := l.Get(ctx, Latest)
	require.NoError(t, err)

	_, err = l.Get(ctx, "1.0.0")
	assert.True(t, errors.Is(err, ErrUnknownVersion))

	mp := NewMemoryProvider(rs)
	got, err := mp.Get(ctx, "2026.1.0")
	require.NoError(t, err)
	assert.Same(t, rs, got)
	_, err = mp.Get(ctx, "2026.2.0")
	assert.True(t, errors.Is(err, ErrUnknownVersion))
	_, err = NewMemoryProvider().Get(ctx, Latest)
	assert.True(t, errors.Is(err, ErrUnknownVersion))
}
