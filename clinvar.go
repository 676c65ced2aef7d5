package alleledb

import (
	"maps"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ClinSig is a ClinVar clinical significance, normalized to upper snake case.
type ClinSig string

const (
	Benign                       ClinSig = "BENIGN"
	BenignOrLikelyBenign         ClinSig = "BENIGN_OR_LIKELY_BENIGN"
	LikelyBenign                 ClinSig = "LIKELY_BENIGN"
	UncertainSignificance        ClinSig = "UNCERTAIN_SIGNIFICANCE"
	LikelyPathogenic             ClinSig = "LIKELY_PATHOGENIC"
	PathogenicOrLikelyPathogenic ClinSig = "PATHOGENIC_OR_LIKELY_PATHOGENIC"
	Pathogenic                   ClinSig = "PATHOGENIC"
	ConflictingPathogenicity     ClinSig = "CONFLICTING_PATHOGENICITY_INTERPRETATIONS"
	Affects                      ClinSig = "AFFECTS"
	Association                  ClinSig = "ASSOCIATION"
	DrugResponse                 ClinSig = "DRUG_RESPONSE"
	Protective                   ClinSig = "PROTECTIVE"
	RiskFactor                   ClinSig = "RISK_FACTOR"
	NotProvided                  ClinSig = "NOT_PROVIDED"
	Other                        ClinSig = "OTHER"
)

// ParseClinSig normalizes ClinVar's free-text significance, e.g.
// "Likely_pathogenic" or "Pathogenic/Likely pathogenic".
func ParseClinSig(s string) ClinSig {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToUpper(s)
	s = strings.NewReplacer("/", "_OR_", " ", "_", ",", "_").Replace(s)
	switch ClinSig(s) {
	case Benign, BenignOrLikelyBenign, LikelyBenign, UncertainSignificance, LikelyPathogenic,
		PathogenicOrLikelyPathogenic, Pathogenic, Affects, Association, DrugResponse,
		Protective, RiskFactor, NotProvided, Other:
		return ClinSig(s)
	}
	if strings.HasPrefix(s, "CONFLICTING") {
		return ConflictingPathogenicity
	}
	return Other
}

// ClinicalAnnotation is the curated ClinVar assertion for one allele. It
// lives in its own store and is never merged with AlleleProperties.
type ClinicalAnnotation struct {
	AlleleID                 string             `msgpack:"id,omitempty"`
	PrimaryInterpretation    ClinSig            `msgpack:"sig,omitempty"`
	SecondaryInterpretations []ClinSig          `msgpack:"sig2,omitempty"`
	ReviewStatus             string             `msgpack:"rev,omitempty"`
	StarRating               int                `msgpack:"stars,omitempty"`
	GeneSymbol               string             `msgpack:"gene,omitempty"`
	VariantEffect            string             `msgpack:"eff,omitempty"`
	HgvsCdna                 string             `msgpack:"c,omitempty"`
	HgvsProtein              string             `msgpack:"p,omitempty"`
	IncludedAlleles          map[string]ClinSig `msgpack:"incl,omitempty"`
}

func (a ClinicalAnnotation) IsEmpty() bool {
	return a.AlleleID == "" && a.PrimaryInterpretation == "" && len(a.SecondaryInterpretations) == 0 &&
		a.ReviewStatus == "" && a.StarRating == 0 && a.GeneSymbol == "" && a.VariantEffect == "" &&
		a.HgvsCdna == "" && a.HgvsProtein == "" && len(a.IncludedAlleles) == 0
}

func (a ClinicalAnnotation) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(struct {
		AlleleID                 string             `msgpack:"id,omitempty"`
		PrimaryInterpretation    ClinSig            `msgpack:"sig,omitempty"`
		SecondaryInterpretations []ClinSig          `msgpack:"sig2,omitempty"`
		ReviewStatus             string             `msgpack:"rev,omitempty"`
		StarRating               int                `msgpack:"stars,omitempty"`
		GeneSymbol               string             `msgpack:"gene,omitempty"`
		VariantEffect            string             `msgpack:"eff,omitempty"`
		HgvsCdna                 string             `msgpack:"c,omitempty"`
		HgvsProtein              string             `msgpack:"p,omitempty"`
		IncludedAlleles          sortedMap[ClinSig] `msgpack:"incl,omitempty"`
	}{
		a.AlleleID, a.PrimaryInterpretation, a.SecondaryInterpretations, a.ReviewStatus, a.StarRating,
		a.GeneSymbol, a.VariantEffect, a.HgvsCdna, a.HgvsProtein, a.IncludedAlleles,
	})
}

// Merge combines two assertions for the same allele. Scalar fields follow
// the AlleleProperties rule (other's non-empty value wins); secondary
// interpretations and included alleles are unioned.
func (a ClinicalAnnotation) Merge(other ClinicalAnnotation, report ConflictFunc) ClinicalAnnotation {
	result := a
	result.AlleleID = mergeScalar(a.AlleleID, other.AlleleID, "allele_id", report)
	result.PrimaryInterpretation = mergeScalar(a.PrimaryInterpretation, other.PrimaryInterpretation, "primary_interpretation", report)
	result.ReviewStatus = mergeScalar(a.ReviewStatus, other.ReviewStatus, "review_status", report)
	result.StarRating = mergeScalar(a.StarRating, other.StarRating, "star_rating", report)
	result.GeneSymbol = mergeScalar(a.GeneSymbol, other.GeneSymbol, "gene_symbol", report)
	result.VariantEffect = mergeScalar(a.VariantEffect, other.VariantEffect, "variant_effect", report)
	result.HgvsCdna = mergeScalar(a.HgvsCdna, other.HgvsCdna, "hgvs_cdna", report)
	result.HgvsProtein = mergeScalar(a.HgvsProtein, other.HgvsProtein, "hgvs_protein", report)

	if sigs := slices.Concat(a.SecondaryInterpretations, other.SecondaryInterpretations); len(sigs) > 0 {
		slices.Sort(sigs)
		result.SecondaryInterpretations = slices.Compact(sigs)
	}
	result.IncludedAlleles = mergeFields(a.IncludedAlleles, other.IncludedAlleles, "included_alleles.", report)
	return result
}

func mergeScalar[V comparable](a, b V, field string, report ConflictFunc) V {
	var zero V
	if b == zero || a == b {
		return a
	}
	if a != zero {
		report.emit(field, a, b)
	}
	return b
}

func (a ClinicalAnnotation) IncludedAlleleIDs() []string {
	return slices.Sorted(maps.Keys(a.IncludedAlleles))
}
