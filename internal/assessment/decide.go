package assessment

import (
	"fmt"
	"strings"

	"seedlot/internal/ledger"
	"seedlot/internal/ruleset"
	"seedlot/pkg/domain"
)

// contributor is an evidence item or clause that took part in a decision.
// key is the evidence id, or the citation key when citation is set.
type contributor struct {
	key         string
	citation    bool
	aspect      domain.Aspect
	explanation string
}

type outcome struct {
	path         domain.RegulatoryPath
	risk         domain.RiskClass
	confidence   float64
	insufficient bool
	unknownTaxon bool
	smallLot     *SmallLotEvaluation
	missing      []domain.Aspect
	reasons      []string
	citations    []Citation
	contributors []contributor
	seen         map[string]bool
}

func (o *outcome) reason(format string, args ...any) {
	o.reasons = append(o.reasons, fmt.Sprintf(format, args...))
}

func (o *outcome) contribute(c contributor) {
	id := c.key + "|" + string(c.aspect)
	if o.seen[id] {
		return
	}
	o.seen[id] = true
	o.contributors = append(o.contributors, c)
}

func (o *outcome) useEvidence(item EvidenceItem, aspect domain.Aspect, explanation string) {
	o.contribute(contributor{key: item.Evidence.ID, aspect: aspect, explanation: explanation})
}

// classified splits evidence by aspect into items that support the lot's
// declared facts and items that contradict them.
type classified struct {
	support map[domain.Aspect][]EvidenceItem
	contra  map[domain.Aspect][]EvidenceItem
}

func classify(in Input, skip map[string]bool, o *outcome) classified {
	c := classified{support: make(map[domain.Aspect][]EvidenceItem), contra: make(map[domain.Aspect][]EvidenceItem)}
	for _, item := range in.Evidence {
		e := item.Evidence
		if skip[e.ID] || e.Aspect == "" {
			continue
		}
		if item.Role == domain.RoleContradictory {
			c.contra[e.Aspect] = append(c.contra[e.Aspect], item)
			o.useEvidence(item, e.Aspect, "contradicts "+aspectLabel(e.Aspect))
			continue
		}
		if !e.Active {
			continue
		}
		if ok, why := consistent(e, in.Lot, in.Biology); !ok {
			c.contra[e.Aspect] = append(c.contra[e.Aspect], item)
			o.reason("%s evidence %q disregarded: %s", aspectLabel(e.Aspect), e.Title, why)
			o.useEvidence(item, e.Aspect, why)
			continue
		}
		c.support[e.Aspect] = append(c.support[e.Aspect], item)
	}
	return c
}

func consistent(e domain.Evidence, lot domain.SeedLot, bio domain.SeedBiology) (bool, string) {
	switch e.Aspect {
	case domain.AspectOriginCountry:
		if c := e.Claim("country"); c != "" && c != strings.ToUpper(strings.TrimSpace(lot.OriginCountry)) {
			return false, fmt.Sprintf("declares origin %s but the lot declares %s", c, lot.OriginCountry)
		}
	case domain.AspectIntendedUse:
		if c := e.Claim("use"); c != "" && c != string(lot.Use) {
			return false, fmt.Sprintf("declares use %s but the lot declares %s", c, lot.Use)
		}
	case domain.AspectBiologicalIdentity:
		if c := e.Claim("scientific_name"); c != "" && strings.Join(strings.Fields(c), " ") != strings.ToUpper(strings.Join(strings.Fields(bio.ScientificName), " ")) {
			return false, fmt.Sprintf("identifies the seed as %s", c)
		}
	}
	return true, ""
}

func aspectLabel(a domain.Aspect) string {
	return strings.ToLower(strings.ReplaceAll(string(a), "_", " "))
}

func score(item EvidenceItem) float64 {
	s := item.Evidence.Confidence * item.Weight
	if !item.Evidence.Authoritative {
		s *= nonAuthoritativeFactor
	}
	return s
}

// decide runs the decision procedure, ignoring every evidence id and citation
// key in skip.
func decide(in Input, skip map[string]bool) (outcome, error) {
	o := outcome{seen: make(map[string]bool)}
	ev := classify(in, skip, &o)
	rs, bio, dest := in.Ruleset, in.Biology, in.Destination

	for _, a := range domain.RequiredAspects() {
		if len(ev.support[a]) == 0 {
			o.missing = append(o.missing, a)
			continue
		}
		for _, item := range ev.support[a] {
			o.useEvidence(item, a, "supports "+aspectLabel(a))
		}
	}

	cite := func(key string, aspect domain.Aspect, text string, claims map[string]string) {
		o.citations = append(o.citations, Citation{
			Key:    key,
			Aspect: aspect,
			Clause: ledger.RuleClause{Source: rs.Source(), Version: rs.Version(), Clause: strings.TrimPrefix(key, "rule:"), Aspect: aspect, Text: text, Claims: claims},
		})
		o.contribute(contributor{key: key, citation: true, aspect: aspect, explanation: text})
		o.reason("%s", text)
	}

	match, known := rs.Lookup(bio.ScientificName, bio.Genus, dest)
	if !known {
		o.unknownTaxon = true
		o.risk = domain.RiskUnknown
		o.path = domain.PathPhytosanitary
		o.reason("taxon %s has no entry for %s in ruleset %s@%s; conservative default applies", bio.ScientificName, dest, rs.Source(), rs.Version())
	} else if err := decideKnown(in, match, ev, skip, &o, cite); err != nil {
		return outcome{}, err
	}

	if len(o.missing) > 0 {
		o.insufficient = true
		o.path = domain.MoreRestrictive(o.path, domain.PathPhytosanitary)
		labels := make([]string, len(o.missing))
		for i, a := range o.missing {
			labels[i] = aspectLabel(a)
		}
		o.reason("insufficient evidence: missing %s", strings.Join(labels, ", "))
	}
	if sl := o.smallLot; sl != nil {
		sl.Eligible = o.path == domain.PathSmallLot
		switch {
		case sl.Eligible:
			sl.ExclusionReason = ""
		case sl.ExclusionReason == "" && o.insufficient:
			sl.ExclusionReason = "evidence does not establish eligibility"
		case sl.ExclusionReason == "":
			sl.ExclusionReason = "assessed on the " + strings.ToLower(strings.ReplaceAll(string(o.path), "_", " ")) + " path"
		}
	}
	o.confidence = confidence(ev, o)
	return o, nil
}

type citeFunc func(key string, aspect domain.Aspect, text string, claims map[string]string)

func decideKnown(in Input, match ruleset.Match, ev classified, skip map[string]bool, o *outcome, cite citeFunc) error {
	rs, lot, bio, dest := in.Ruleset, in.Lot, in.Biology, in.Destination
	rule := match.Rule
	ruleKey := "rule:" + match.Clause
	programKey := "rule:destinations[" + dest + "]"
	program := rs.Program(dest)

	risk := domain.RiskLow
	if k := ruleKey + "#risk_class"; !skip[k] {
		risk = risk.AtLeast(rule.RiskClass)
		cite(k, domain.AspectRiskClassification, fmt.Sprintf("ruleset classifies %s as %s risk", rule.Taxon, rule.RiskClass), map[string]string{"risk_class": string(rule.RiskClass)})
	}
	if bio.RiskClass.Valid() && bio.RiskClass != domain.RiskUnknown && bio.RiskClass.Rank() > risk.Rank() {
		risk = bio.RiskClass
		o.reason("biology profile classifies %s as %s risk", bio.ScientificName, bio.RiskClass)
	}

	smallLot := true
	var exclusions []string
	exclude := func(text string) {
		smallLot = false
		exclusions = append(exclusions, text)
	}
	disqualify := func(format string, args ...any) {
		exclude(fmt.Sprintf(format, args...))
		o.reason("small-lot path disqualified: "+format, args...)
	}
	if !program.SmallLotProgram {
		disqualify("%s offers no small-lot program", dest)
	}
	if k := ruleKey + "#small_lot_excluded"; rule.SmallLotExcluded && !skip[k] {
		risk = risk.AtLeast(domain.RiskMedium)
		text := fmt.Sprintf("%s is excluded from the small-lot program for %s", rule.Taxon, rule.Destination)
		if rule.ExclusionReason != "" {
			text += ": " + rule.ExclusionReason
		}
		exclude(text)
		cite(k, domain.AspectLegalExclusion, text, map[string]string{"excluded": "true"})
	}
	for _, item := range ev.support[domain.AspectLegalExclusion] {
		if item.Evidence.Claim("excluded") == "TRUE" {
			risk = risk.AtLeast(domain.RiskMedium)
			disqualify("exclusion evidence %q", item.Evidence.Title)
			o.useEvidence(item, domain.AspectLegalExclusion, "records a small-lot exclusion")
		}
	}
	if lot.PedigreeStatus != domain.PedigreeNonPedigreed {
		disqualify("pedigree status is %s", lot.PedigreeStatus)
	}
	maxSeeds, maxKey := rule.MaxSeeds, ruleKey+"#max_seeds"
	if maxSeeds == 0 {
		maxSeeds, maxKey = program.SmallLotMaxSeeds, programKey+"#small_lot_max_seeds"
	}
	if maxSeeds > 0 && lot.Quantity > maxSeeds && !skip[maxKey] {
		text := fmt.Sprintf("quantity %d exceeds the small-lot maximum of %d seeds", lot.Quantity, maxSeeds)
		exclude(text)
		cite(maxKey, domain.AspectPermitEligibility, text, map[string]string{"max_seeds": fmt.Sprint(maxSeeds)})
	}
	if k := ruleKey + "#allowed_uses"; !rule.AllowsUse(lot.Use) && !skip[k] {
		text := fmt.Sprintf("use %s is not allowed for %s", lot.Use, rule.Taxon)
		exclude(text)
		cite(k, domain.AspectIntendedUse, text, nil)
	}
	for _, item := range ev.support[domain.AspectPermitEligibility] {
		if item.Evidence.Claim("small_lot_eligible") == "FALSE" {
			disqualify("permit evidence %q", item.Evidence.Title)
			o.useEvidence(item, domain.AspectPermitEligibility, "denies small-lot eligibility")
		}
	}

	free := false
	for _, item := range ev.support[domain.AspectPathogenStatus] {
		switch item.Evidence.Claim("pathogen_status") {
		case "DETECTED":
			risk = risk.AtLeast(domain.RiskHigh)
			disqualify("pathogen detected by %q", item.Evidence.Title)
		case "FREE":
			free = true
		}
	}
	if len(bio.KnownPathogens) > 0 && !free {
		risk = risk.AtLeast(domain.RiskMedium)
		o.reason("known seed-borne pathogens (%s) without pathogen-free evidence", strings.Join(bio.KnownPathogens, ", "))
	}
	for _, item := range ev.support[domain.AspectRiskClassification] {
		if rc := domain.RiskClass(item.Evidence.Claim("risk_class")); rc.Valid() && rc.Rank() > risk.Rank() {
			risk = rc
			o.useEvidence(item, domain.AspectRiskClassification, "raises risk class to "+string(rc))
			o.reason("risk raised to %s by %q", rc, item.Evidence.Title)
		}
	}

	prohibited := false
	if k := ruleKey + "#prohibit"; !skip[k] {
		hit, err := rs.Prohibits(rule, ruleset.Facts{
			ScientificName: bio.ScientificName,
			Genus:          bio.Genus,
			OriginCountry:  strings.ToUpper(lot.OriginCountry),
			Destination:    dest,
			Use:            string(lot.Use),
			Pedigree:       string(lot.PedigreeStatus),
			Quantity:       lot.Quantity,
			HarvestYear:    lot.HarvestYear,
		})
		if err != nil {
			return fmt.Errorf("evaluate prohibition for %s: %w", rule.Taxon, err)
		}
		if hit {
			prohibited = true
			cite(k, domain.AspectLegalExclusion, fmt.Sprintf("export of %s to %s is prohibited", rule.Taxon, dest), map[string]string{"prohibited": "true"})
		}
	}
	for _, item := range ev.support[domain.AspectLegalExclusion] {
		if item.Evidence.Claim("prohibited") == "TRUE" {
			prohibited = true
			o.useEvidence(item, domain.AspectLegalExclusion, "records an export prohibition")
			o.reason("export prohibited by %q", item.Evidence.Title)
		}
	}

	bulkMin, bulkKey := rule.BulkMinimumSeeds, ruleKey+"#bulk_minimum_seeds"
	if bulkMin == 0 {
		bulkMin, bulkKey = program.BulkMinimumSeeds, programKey+"#bulk_minimum_seeds"
	}
	phytoKey, defaultPhytoKey := ruleKey+"#phytosanitary_required", programKey+"#phytosanitary_by_default"
	switch {
	case prohibited:
		o.path = domain.PathProhibited
		risk = risk.AtLeast(domain.RiskHigh)
		exclusions = append(exclusions, "export is prohibited")
	case smallLot:
		o.path = domain.PathSmallLot
		o.reason("small-lot path eligible: %d seeds within program limits", lot.Quantity)
	case rule.RequiresPhytosanitary(lot.OriginCountry) && !skip[phytoKey]:
		o.path = domain.PathPhytosanitary
		cite(phytoKey, domain.AspectPermitEligibility, fmt.Sprintf("%s requires a phytosanitary certificate for %s", dest, rule.Taxon), map[string]string{"phytosanitary_required": "true"})
	case program.PhytosanitaryByDefault && !skip[defaultPhytoKey]:
		o.path = domain.PathPhytosanitary
		cite(defaultPhytoKey, domain.AspectPermitEligibility, fmt.Sprintf("%s requires phytosanitary certification by default", dest), map[string]string{"phytosanitary_required": "true"})
	case bulkMin > 0 && lot.Quantity >= bulkMin && !skip[bulkKey]:
		o.path = domain.PathBulkDomestic
		cite(bulkKey, domain.AspectPermitEligibility, fmt.Sprintf("quantity %d meets the bulk import minimum of %d seeds", lot.Quantity, bulkMin), map[string]string{"bulk_minimum_seeds": fmt.Sprint(bulkMin)})
	default:
		o.path = domain.PathProhibited
		o.reason("no regulatory pathway is available for %s to %s", rule.Taxon, dest)
	}
	o.risk = risk
	if program.SmallLotProgram {
		o.smallLot = &SmallLotEvaluation{
			ExclusionReason:     strings.Join(exclusions, "; "),
			MaxAllowedSeeds:     maxSeeds,
			QuantityWithinLimit: maxSeeds <= 0 || lot.Quantity <= maxSeeds,
		}
	}
	return nil
}

func confidence(ev classified, o outcome) float64 {
	required := domain.RequiredAspects()
	var total float64
	for _, a := range required {
		best := 0.0
		for _, item := range ev.support[a] {
			if s := score(item); s > best {
				best = s
			}
		}
		worst := 0.0
		for _, item := range ev.contra[a] {
			if c := item.Evidence.Confidence * item.Weight; c > worst {
				worst = c
			}
		}
		total += best * (1 - contradictionDamping*worst)
	}
	c := total / float64(len(required))
	if o.insufficient && c > insufficientConfidenceCap {
		c = insufficientConfidenceCap
	}
	if o.unknownTaxon && c > unknownTaxonConfidenceCap {
		c = unknownTaxonConfidenceCap
	}
	return round4(c)
}
