package alleledb

import (
	"maps"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// Frequency source names. Any other name is accepted too; these are the
// ones the reference parsers know about.
const (
	ThousandGenomes = "THOUSAND_GENOMES"
	TopMed          = "TOPMED"
	UK10K           = "UK10K"

	EspAfricanAmerican  = "ESP_AA"
	EspEuropeanAmerican = "ESP_EA"
	EspAll              = "ESP_ALL"

	ExacAfrican       = "EXAC_AFR"
	ExacAmerican      = "EXAC_AMR"
	ExacEastAsian     = "EXAC_EAS"
	ExacFinnish       = "EXAC_FIN"
	ExacNonFinnishEur = "EXAC_NFE"
	ExacOther         = "EXAC_OTH"
	ExacSouthAsian    = "EXAC_SAS"

	GnomadExomeAfrican       = "GNOMAD_E_AFR"
	GnomadExomeAmerican      = "GNOMAD_E_AMR"
	GnomadExomeAshkenazi     = "GNOMAD_E_ASJ"
	GnomadExomeEastAsian     = "GNOMAD_E_EAS"
	GnomadExomeFinnish       = "GNOMAD_E_FIN"
	GnomadExomeNonFinnishEur = "GNOMAD_E_NFE"
	GnomadExomeOther         = "GNOMAD_E_OTH"
	GnomadExomeSouthAsian    = "GNOMAD_E_SAS"

	GnomadGenomeAfrican       = "GNOMAD_G_AFR"
	GnomadGenomeAmerican      = "GNOMAD_G_AMR"
	GnomadGenomeAshkenazi     = "GNOMAD_G_ASJ"
	GnomadGenomeEastAsian     = "GNOMAD_G_EAS"
	GnomadGenomeFinnish       = "GNOMAD_G_FIN"
	GnomadGenomeNonFinnishEur = "GNOMAD_G_NFE"
	GnomadGenomeOther         = "GNOMAD_G_OTH"
)

// Pathogenicity source names.
const (
	PolyPhen       = "POLYPHEN"
	MutationTaster = "MUTATION_TASTER"
	Sift           = "SIFT"
	Cadd           = "CADD"
	Remm           = "REMM"
	Revel          = "REVEL"
	Mvp            = "MVP"
	AlphaMissense  = "ALPHA_MISSENSE"
	SpliceAI       = "SPLICE_AI"
)

var pathogenicitySources = map[string]bool{
	PolyPhen:       true,
	MutationTaster: true,
	Sift:           true,
	Cadd:           true,
	Remm:           true,
	Revel:          true,
	Mvp:            true,
	AlphaMissense:  true,
	SpliceAI:       true,
}

func IsPathogenicitySource(name string) bool {
	return pathogenicitySources[name]
}

// Frequency is one population's observation of an allele. AF is a
// percentage; the counts are optional.
type Frequency struct {
	AF  float32 `msgpack:"f"`
	AC  uint32  `msgpack:"c,omitempty"`
	AN  uint32  `msgpack:"n,omitempty"`
	Hom uint32  `msgpack:"h,omitempty"`
}

func (f Frequency) IsZero() bool { return f == Frequency{} }

// AlleleProperties is the consolidated record for one AlleleKey: every
// frequency and pathogenicity value any source reported for it.
type AlleleProperties struct {
	RsID        string               `msgpack:"rs,omitempty"`
	Frequencies map[string]Frequency `msgpack:"f,omitempty"`
	Scores      map[string]float32   `msgpack:"p,omitempty"`
}

func (p AlleleProperties) IsEmpty() bool {
	return p.RsID == "" && len(p.Frequencies) == 0 && len(p.Scores) == 0
}

// EncodeMsgpack writes the same fields as the struct tags describe, with
// map entries in key order.
func (p AlleleProperties) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(struct {
		RsID        string               `msgpack:"rs,omitempty"`
		Frequencies sortedMap[Frequency] `msgpack:"f,omitempty"`
		Scores      sortedMap[float32]   `msgpack:"p,omitempty"`
	}{p.RsID, p.Frequencies, p.Scores})
}

func (p AlleleProperties) Frequency(source string) (Frequency, bool) {
	f, ok := p.Frequencies[source]
	return f, ok
}

func (p AlleleProperties) Score(source string) (float32, bool) {
	s, ok := p.Scores[source]
	return s, ok
}

// FieldNames lists populated fields, sorted, e.g. "frequency.ESP_ALL".
func (p AlleleProperties) FieldNames() []string {
	var names []string
	if p.RsID != "" {
		names = append(names, "rs_id")
	}
	for name := range p.Frequencies {
		names = append(names, "frequency."+name)
	}
	for name := range p.Scores {
		names = append(names, "score."+name)
	}
	slices.Sort(names)
	return names
}

func (p AlleleProperties) WithRsID(rsID string) AlleleProperties {
	p.RsID = rsID
	return p
}

func (p AlleleProperties) WithFrequency(source string, f Frequency) AlleleProperties {
	p.Frequencies = withField(p.Frequencies, source, f)
	return p
}

func (p AlleleProperties) WithScore(source string, score float32) AlleleProperties {
	p.Scores = withField(p.Scores, source, score)
	return p
}

// Merge unions the fields of p and other. A zero-valued field never
// replaces a populated one; when both sides populate a field with
// different values, other wins.
func (p AlleleProperties) Merge(other AlleleProperties, report ConflictFunc) AlleleProperties {
	result := AlleleProperties{RsID: p.RsID}
	if other.RsID != "" {
		if p.RsID != "" && p.RsID != other.RsID {
			report.emit("rs_id", p.RsID, other.RsID)
		}
		result.RsID = other.RsID
	}
	result.Frequencies = mergeFields(p.Frequencies, other.Frequencies, "frequency.", report)
	result.Scores = mergeFields(p.Scores, other.Scores, "score.", report)
	return result
}

// mergeFields never modifies a or b; the result may share one of them.
func mergeFields[V comparable](a, b map[string]V, prefix string, report ConflictFunc) map[string]V {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	var zero V
	result := maps.Clone(a)
	for name, v := range b {
		old, found := result[name]
		switch {
		case !found:
			result[name] = v
		case v == zero || v == old:
			// keep the populated value
		default:
			if old != zero {
				report.emit(prefix+name, old, v)
			}
			result[name] = v
		}
	}
	return result
}

func withField[V any](m map[string]V, name string, v V) map[string]V {
	result := make(map[string]V, len(m)+1)
	maps.Copy(result, m)
	result[name] = v
	return result
}
