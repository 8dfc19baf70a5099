// Package ruleset loads versioned regulatory rule tables and answers taxon and
// destination lookups against them. Rulesets are read-only once parsed.
package ruleset

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"seedlot/pkg/domain"
)

// AnyDestination matches every destination country.
const AnyDestination = "*"

// Document is the on-disk YAML form of a ruleset.
type Document struct {
	Source        string             `yaml:"source"`
	Version       string             `yaml:"version"`
	EffectiveFrom time.Time          `yaml:"effective_from"`
	ExpiresAt     *time.Time         `yaml:"expires_at,omitempty"`
	Destinations  map[string]Program `yaml:"destinations"`
	Taxa          []TaxonRule        `yaml:"taxa"`
}

// Program describes the import programs a destination offers.
type Program struct {
	SmallLotProgram        bool `yaml:"small_lot_program"`
	SmallLotMaxSeeds       int  `yaml:"small_lot_max_seeds"`
	PhytosanitaryByDefault bool `yaml:"phytosanitary_by_default"`
	BulkMinimumSeeds       int  `yaml:"bulk_minimum_seeds"`
}

// TaxonRule is the per-taxon, per-destination entry. Taxon is a scientific
// name or a genus.
type TaxonRule struct {
	Taxon                 string           `yaml:"taxon"`
	Destination           string           `yaml:"destination"`
	RiskClass             domain.RiskClass `yaml:"risk_class"`
	SmallLotExcluded      bool             `yaml:"small_lot_excluded"`
	ExclusionReason       string           `yaml:"exclusion_reason,omitempty"`
	MaxSeeds              int              `yaml:"max_seeds,omitempty"`
	AllowedUses           []domain.SeedUse `yaml:"allowed_uses,omitempty"`
	PhytosanitaryRequired bool             `yaml:"phytosanitary_required"`
	PhytosanitaryOrigins  []string         `yaml:"phytosanitary_origins,omitempty"`
	BulkMinimumSeeds      int              `yaml:"bulk_minimum_seeds,omitempty"`
	Prohibited            bool             `yaml:"prohibited"`
	ProhibitWhen          string           `yaml:"prohibit_when,omitempty"`
	Note                  string           `yaml:"note,omitempty"`
}

// AllowsUse reports whether use is permitted. An empty list allows every use.
func (r TaxonRule) AllowsUse(use domain.SeedUse) bool {
	if len(r.AllowedUses) == 0 {
		return true
	}
	for _, u := range r.AllowedUses {
		if u == use {
			return true
		}
	}
	return false
}

// RequiresPhytosanitary reports whether the rule demands a certificate for
// lots from origin.
func (r TaxonRule) RequiresPhytosanitary(origin string) bool {
	if !r.PhytosanitaryRequired {
		return false
	}
	if len(r.PhytosanitaryOrigins) == 0 {
		return true
	}
	origin = strings.ToUpper(strings.TrimSpace(origin))
	for _, o := range r.PhytosanitaryOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Match is the outcome of a taxon lookup.
type Match struct {
	Rule TaxonRule
	// Clause identifies the matched entry for citations.
	Clause string
	// ByGenus is true when only the genus matched.
	ByGenus bool
}

// Ruleset is a parsed, validated Document.
type Ruleset struct {
	doc        Document
	version    *semver.Version
	conditions *conditions
	index      map[string]int
}

// Parse decodes and validates a YAML ruleset.
func Parse(data []byte) (*Ruleset, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	return New(doc)
}

// New validates doc and prepares it for lookups. Conditions are compiled up
// front so that a broken expression fails the load, not an assessment.
func New(doc Document) (*Ruleset, error) {
	doc.Source = strings.TrimSpace(doc.Source)
	if doc.Source == "" {
		return nil, fmt.Errorf("ruleset source is required")
	}
	v, err := semver.NewVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("ruleset %s: invalid version %q: %w", doc.Source, doc.Version, err)
	}
	if doc.ExpiresAt != nil && !doc.EffectiveFrom.IsZero() && !doc.ExpiresAt.After(doc.EffectiveFrom) {
		return nil, fmt.Errorf("ruleset %s@%s: expires_at must follow effective_from", doc.Source, doc.Version)
	}
	programs := make(map[string]Program, len(doc.Destinations))
	for dest, p := range doc.Destinations {
		programs[normalizeDestination(dest)] = p
	}
	doc.Destinations = programs

	conds, err := newConditions()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(doc.Taxa))
	for i := range doc.Taxa {
		r := &doc.Taxa[i]
		r.Taxon = strings.TrimSpace(r.Taxon)
		r.Destination = normalizeDestination(r.Destination)
		if r.Taxon == "" {
			return nil, fmt.Errorf("taxa[%d]: taxon is required", i)
		}
		if r.RiskClass == "" {
			r.RiskClass = domain.RiskMedium
		}
		if !r.RiskClass.Valid() {
			return nil, fmt.Errorf("taxa[%d]: unknown risk class %q", i, r.RiskClass)
		}
		for _, u := range r.AllowedUses {
			if !u.Valid() {
				return nil, fmt.Errorf("taxa[%d]: unknown use %q", i, u)
			}
		}
		for j, o := range r.PhytosanitaryOrigins {
			r.PhytosanitaryOrigins[j] = strings.ToUpper(strings.TrimSpace(o))
		}
		if r.ProhibitWhen != "" {
			if err := conds.compile(r.ProhibitWhen); err != nil {
				return nil, fmt.Errorf("taxa[%d] prohibit_when: %w", i, err)
			}
		}
		key := lookupKey(r.Taxon, r.Destination)
		if _, dup := index[key]; dup {
			return nil, fmt.Errorf("taxa[%d]: duplicate entry for %s/%s", i, r.Taxon, r.Destination)
		}
		index[key] = i
	}
	return &Ruleset{doc: doc, version: v, conditions: conds, index: index}, nil
}

func normalizeDestination(d string) string {
	d = strings.ToUpper(strings.TrimSpace(d))
	if d == "" {
		return AnyDestination
	}
	return d
}

func lookupKey(taxon, destination string) string {
	return strings.ToLower(strings.Join(strings.Fields(taxon), " ")) + "|" + destination
}

// Source returns the rule source identifier.
func (r *Ruleset) Source() string { return r.doc.Source }

// Version returns the canonical semantic version string.
func (r *Ruleset) Version() string { return r.version.String() }

// SemVer returns the parsed version.
func (r *Ruleset) SemVer() *semver.Version { return r.version }

// ExpiresAt returns the expiry, if any.
func (r *Ruleset) ExpiresAt() *time.Time { return r.doc.ExpiresAt }

// Usable reports whether the ruleset may be used at now, with a reason when
// it may not.
func (r *Ruleset) Usable(now time.Time) (bool, string) {
	if !r.doc.EffectiveFrom.IsZero() && now.Before(r.doc.EffectiveFrom) {
		return false, "not effective until " + r.doc.EffectiveFrom.UTC().Format(time.RFC3339)
	}
	if r.doc.ExpiresAt != nil && !now.Before(*r.doc.ExpiresAt) {
		return false, "expired at " + r.doc.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return true, ""
}

// Program returns the destination program, falling back to the wildcard
// entry. The zero Program offers nothing.
func (r *Ruleset) Program(destination string) Program {
	if p, ok := r.doc.Destinations[normalizeDestination(destination)]; ok {
		return p
	}
	return r.doc.Destinations[AnyDestination]
}

// Lookup finds the rule for a taxon. Exact scientific names win over the
// genus; a specific destination wins over the wildcard.
func (r *Ruleset) Lookup(scientificName, genus, destination string) (Match, bool) {
	dest := normalizeDestination(destination)
	type candidate struct {
		taxon   string
		byGenus bool
	}
	candidates := []candidate{{scientificName, false}}
	if strings.TrimSpace(genus) != "" {
		candidates = append(candidates, candidate{genus, true})
	}
	for _, p := range candidates {
		for _, d := range []string{dest, AnyDestination} {
			if i, ok := r.index[lookupKey(p.taxon, d)]; ok {
				rule := r.doc.Taxa[i]
				return Match{Rule: rule, Clause: fmt.Sprintf("taxa[%d]:%s/%s", i, rule.Taxon, rule.Destination), ByGenus: p.byGenus}, true
			}
		}
	}
	return Match{}, false
}

// Prohibits evaluates the rule's condition against the lot facts.
func (r *Ruleset) Prohibits(rule TaxonRule, facts Facts) (bool, error) {
	if rule.Prohibited {
		return true, nil
	}
	if rule.ProhibitWhen == "" {
		return false, nil
	}
	return r.conditions.eval(rule.ProhibitWhen, facts)
}

// Taxa returns the rule entries sorted by taxon then destination.
func (r *Ruleset) Taxa() []TaxonRule {
	out := append([]TaxonRule(nil), r.doc.Taxa...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Taxon != out[j].Taxon {
			return out[i].Taxon < out[j].Taxon
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}
