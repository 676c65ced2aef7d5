package source

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/andreyvit/alleledb"
)

const missing = "."

// PropertiesTSV parses tab-separated allele properties:
//
//	chrom  pos  ref  alt  INFO
//
// where alt may list several alleles separated by commas, and INFO is a
// semicolon-separated list of NAME=value pairs. RS=rs123 sets the dbSNP
// id. A pathogenicity source takes a score; any other name is a frequency
// source taking af[|ac|an|hom]. A value may list one entry per alt,
// separated by commas; a single entry applies to every alt. Missing values
// are written as '.'.
type PropertiesTSV struct {
	// Source, if set, is the frequency or pathogenicity source a bare
	// fifth column is assigned to, e.g. "0.13" for REVEL.
	Source string
}

func (p PropertiesTSV) ParseLine(line string) ([]alleledb.Record[alleledb.AlleleProperties], error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 4 {
		return nil, fmt.Errorf("expected at least 4 columns, got %d", len(cols))
	}
	pos, err := strconv.Atoi(cols[1])
	if err != nil {
		return nil, fmt.Errorf("invalid position %q", cols[1])
	}
	alts := strings.Split(cols[3], ",")
	props := make([]alleledb.AlleleProperties, len(alts))

	var info string
	if len(cols) > 4 {
		info = cols[4]
	}
	if p.Source != "" && info != "" && !strings.Contains(info, "=") {
		info = p.Source + "=" + info
	}
	for _, field := range strings.Split(info, ";") {
		if field == "" || field == missing {
			continue
		}
		name, val, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("invalid field %q, expected NAME=value", field)
		}
		vals := strings.Split(val, ",")
		if len(vals) != 1 && len(vals) != len(alts) {
			return nil, fmt.Errorf("%s: %d values for %d alt alleles", name, len(vals), len(alts))
		}
		for i := range alts {
			v := vals[0]
			if len(vals) > 1 {
				v = vals[i]
			}
			if v == missing || v == "" {
				continue
			}
			props[i], err = applyProperty(props[i], name, v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	result := make([]alleledb.Record[alleledb.AlleleProperties], 0, len(alts))
	for i, alt := range alts {
		if alt == missing || alt == "*" || props[i].IsEmpty() {
			continue
		}
		key, err := alleledb.NewAlleleKey(cols[0], pos, cols[2], alt)
		if err != nil {
			return nil, err
		}
		result = append(result, alleledb.Record[alleledb.AlleleProperties]{Key: key, Value: props[i]})
	}
	return result, nil
}

func applyProperty(p alleledb.AlleleProperties, name, v string) (alleledb.AlleleProperties, error) {
	switch {
	case name == "RS":
		return p.WithRsID(v), nil
	case alleledb.IsPathogenicitySource(name):
		score, err := parseFloat32(v)
		if err != nil {
			return p, err
		}
		return p.WithScore(name, score), nil
	default:
		f, err := parseFrequency(v)
		if err != nil {
			return p, err
		}
		if f.IsZero() {
			return p, nil
		}
		return p.WithFrequency(name, f), nil
	}
}

// parseFrequency parses af[|ac|an|hom].
func parseFrequency(s string) (alleledb.Frequency, error) {
	var f alleledb.Frequency
	parts := strings.Split(s, "|")
	if len(parts) > 4 {
		return f, fmt.Errorf("invalid frequency %q", s)
	}
	var err error
	if f.AF, err = parseFloat32(parts[0]); err != nil {
		return f, err
	}
	counts := []*uint32{&f.AC, &f.AN, &f.Hom}
	for i, part := range parts[1:] {
		if part == "" || part == missing {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return f, fmt.Errorf("invalid count %q", part)
		}
		*counts[i] = uint32(n)
	}
	return f, nil
}

func parseFloat32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return float32(v), nil
}

// ClinVarTSV parses one ClinVar assertion per line:
//
//	chrom pos ref alt allele_id clnsig secondary review_status stars gene effect hgvs_c hgvs_p included
//
// secondary is a comma-separated list of significances; included lists
// allele_id:significance pairs separated by commas. Trailing columns may
// be omitted and '.' marks a missing value. When stars is missing it is
// derived from the review status.
type ClinVarTSV struct{}

const (
	cvChrom = iota
	cvPos
	cvRef
	cvAlt
	cvAlleleID
	cvSig
	cvSecondary
	cvReview
	cvStars
	cvGene
	cvEffect
	cvHgvsC
	cvHgvsP
	cvIncluded
	cvColumns
)

var errTooFewColumns = errors.New("expected at least 5 columns")

func (ClinVarTSV) ParseLine(line string) ([]alleledb.Record[alleledb.ClinicalAnnotation], error) {
	cols := strings.Split(line, "\t")
	if len(cols) <= cvAlleleID {
		return nil, errTooFewColumns
	}
	if len(cols) > cvColumns {
		return nil, fmt.Errorf("expected at most %d columns, got %d", cvColumns, len(cols))
	}
	col := func(i int) string {
		if i >= len(cols) || cols[i] == missing {
			return ""
		}
		return strings.TrimSpace(cols[i])
	}

	pos, err := strconv.Atoi(col(cvPos))
	if err != nil {
		return nil, fmt.Errorf("invalid position %q", col(cvPos))
	}
	key, err := alleledb.NewAlleleKey(col(cvChrom), pos, col(cvRef), col(cvAlt))
	if err != nil {
		return nil, err
	}

	a := alleledb.ClinicalAnnotation{
		AlleleID:              col(cvAlleleID),
		PrimaryInterpretation: alleledb.ParseClinSig(col(cvSig)),
		ReviewStatus:          col(cvReview),
		GeneSymbol:            col(cvGene),
		VariantEffect:         col(cvEffect),
		HgvsCdna:              col(cvHgvsC),
		HgvsProtein:           col(cvHgvsP),
	}
	if s := col(cvSecondary); s != "" {
		for _, part := range strings.Split(s, ",") {
			if sig := alleledb.ParseClinSig(part); sig != "" {
				a.SecondaryInterpretations = append(a.SecondaryInterpretations, sig)
			}
		}
	}
	if s := col(cvStars); s != "" {
		a.StarRating, err = strconv.Atoi(s)
		if err != nil || a.StarRating < 0 || a.StarRating > 4 {
			return nil, fmt.Errorf("invalid star rating %q", s)
		}
	} else {
		a.StarRating = StarsForReviewStatus(a.ReviewStatus)
	}
	if s := col(cvIncluded); s != "" {
		a.IncludedAlleles = make(map[string]alleledb.ClinSig)
		for _, part := range strings.Split(s, ",") {
			id, sig, ok := strings.Cut(part, ":")
			if !ok || id == "" {
				return nil, fmt.Errorf("invalid included allele %q", part)
			}
			a.IncludedAlleles[id] = alleledb.ParseClinSig(sig)
		}
	}
	if a.IsEmpty() {
		return nil, nil
	}
	return []alleledb.Record[alleledb.ClinicalAnnotation]{{Key: key, Value: a}}, nil
}

// StarsForReviewStatus maps a ClinVar review status to its gold star count.
func StarsForReviewStatus(status string) int {
	s := strings.ToLower(strings.ReplaceAll(status, "_", " "))
	switch {
	case s == "practice guideline":
		return 4
	case s == "reviewed by expert panel":
		return 3
	case strings.Contains(s, "multiple submitters") && strings.Contains(s, "no conflicts"):
		return 2
	case strings.Contains(s, "single submitter"), strings.Contains(s, "conflicting"):
		return 1
	default:
		return 0
	}
}
