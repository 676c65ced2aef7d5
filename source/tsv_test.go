package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andreyvit/alleledb"
)

func TestPropertiesTSV(t *testing.T) {
	p := PropertiesTSV{}
	recs := must(p.ParseLine("chr1\t12345\tA\tT\tRS=rs123;ESP_ALL=0.5|3|600|1;REVEL=0.75"))
	deepEqual(t, recs, []alleledb.Record[alleledb.AlleleProperties]{{
		Key: alleledb.MustAlleleKey("1", 12345, "A", "T"),
		Value: alleledb.AlleleProperties{RsID: "rs123"}.
			WithFrequency(alleledb.EspAll, alleledb.Frequency{AF: 0.5, AC: 3, AN: 600, Hom: 1}).
			WithScore(alleledb.Revel, 0.75),
	}})
}

func TestPropertiesTSV_multiAllelic(t *testing.T) {
	p := PropertiesTSV{}
	recs := must(p.ParseLine("X\t100\tG\tA,C,T\tRS=rs9;GNOMAD_G_AFR=0.1,.,0.3;CADD=12"))
	deepEqual(t, recs, []alleledb.Record[alleledb.AlleleProperties]{
		{
			Key:   alleledb.MustAlleleKey("X", 100, "G", "A"),
			Value: alleledb.AlleleProperties{RsID: "rs9"}.WithFrequency(alleledb.GnomadGenomeAfrican, alleledb.Frequency{AF: 0.1}).WithScore(alleledb.Cadd, 12),
		},
		{
			Key:   alleledb.MustAlleleKey("X", 100, "G", "C"),
			Value: alleledb.AlleleProperties{RsID: "rs9"}.WithScore(alleledb.Cadd, 12),
		},
		{
			Key:   alleledb.MustAlleleKey("X", 100, "G", "T"),
			Value: alleledb.AlleleProperties{RsID: "rs9"}.WithFrequency(alleledb.GnomadGenomeAfrican, alleledb.Frequency{AF: 0.3}).WithScore(alleledb.Cadd, 12),
		},
	})
}

func TestPropertiesTSV_bareColumn(t *testing.T) {
	p := PropertiesTSV{Source: alleledb.Revel}
	recs := must(p.ParseLine("2\t5\tC\tT\t0.25"))
	deepEqual(t, len(recs), 1)
	deepEqual(t, recs[0].Value, alleledb.AlleleProperties{}.WithScore(alleledb.Revel, 0.25))
}

func TestPropertiesTSV_skips(t *testing.T) {
	p := PropertiesTSV{}
	for _, line := range []string{
		"1\t5\tC\tT",
		"1\t5\tC\tT\t.",
		"1\t5\tC\t*\tCADD=3",
		"1\t5\tC\tT\tESP_ALL=0",
	} {
		recs, err := p.ParseLine(line)
		ensure(err)
		if len(recs) != 0 {
			t.Errorf("ParseLine(%q) = %v, wanted nothing", line, recs)
		}
	}
}

func TestPropertiesTSV_errors(t *testing.T) {
	p := PropertiesTSV{}
	for _, line := range []string{
		"1\t5\tC",
		"1\tfive\tC\tT\tCADD=1",
		"1\t-5\tC\tT\tCADD=1",
		"Q\t5\tC\tT\tCADD=1",
		"1\t5\tC\tT\tCADD",
		"1\t5\tC\tT\tCADD=abc",
		"1\t5\tC\tT\tCADD=NaN",
		"1\t5\tC\tA,T\tCADD=1,2,3",
		"1\t5\tC\tT\tESP_ALL=0.1|x",
		"1\t5\tC\tT\tESP_ALL=0.1|1|2|3|4",
	} {
		if _, err := p.ParseLine(line); err == nil {
			t.Errorf("ParseLine(%q) succeeded", line)
		}
	}

	var mal *alleledb.MalformedAlleleError
	_, err := p.ParseLine("Q\t5\tC\tT\tCADD=1")
	if !errors.As(err, &mal) {
		t.Errorf("** got %v, wanted MalformedAlleleError", err)
	}
}

func TestClinVarTSV(t *testing.T) {
	p := ClinVarTSV{}
	recs := must(p.ParseLine("17\t43094464\tT\tC\t15041\tPathogenic/Likely_pathogenic\trisk_factor,Affects\treviewed_by_expert_panel\t.\tBRCA1\tmissense_variant\tc.5123C>A\tp.Ala1708Glu\t100:Benign,200:Pathogenic"))
	deepEqual(t, recs, []alleledb.Record[alleledb.ClinicalAnnotation]{{
		Key: alleledb.MustAlleleKey("17", 43094464, "T", "C"),
		Value: alleledb.ClinicalAnnotation{
			AlleleID:                 "15041",
			PrimaryInterpretation:    alleledb.PathogenicOrLikelyPathogenic,
			SecondaryInterpretations: []alleledb.ClinSig{alleledb.RiskFactor, alleledb.Affects},
			ReviewStatus:             "reviewed_by_expert_panel",
			StarRating:               3,
			GeneSymbol:               "BRCA1",
			VariantEffect:            "missense_variant",
			HgvsCdna:                 "c.5123C>A",
			HgvsProtein:              "p.Ala1708Glu",
			IncludedAlleles:          map[string]alleledb.ClinSig{"100": alleledb.Benign, "200": alleledb.Pathogenic},
		},
	}})

	recs = must(p.ParseLine("1\t10\tA\tG\t77\tBenign\t.\t.\t1"))
	deepEqual(t, recs[0].Value, alleledb.ClinicalAnnotation{AlleleID: "77", PrimaryInterpretation: alleledb.Benign, StarRating: 1})

	for _, line := range []string{
		"1\t10\tA\tG",
		"1\tx\tA\tG\t1",
		"1\t10\tA\tG\t1\tBenign\t.\t.\t9",
		"1\t10\tA\tG\t1\tBenign\t.\t.\t.\t.\t.\t.\t.\tnocolon",
		"1\t10\tA\tG\t1\t.\t.\t.\t.\t.\t.\t.\t.\t.\textra",
	} {
		if _, err := p.ParseLine(line); err == nil {
			t.Errorf("ParseLine(%q) succeeded", line)
		}
	}
}

func TestStarsForReviewStatus(t *testing.T) {
	tests := map[string]int{
		"practice_guideline":                                   4,
		"reviewed_by_expert_panel":                             3,
		"criteria_provided,_multiple_submitters,_no_conflicts": 2,
		"criteria_provided,_single_submitter":                  1,
		"criteria_provided,_conflicting_classifications":       1,
		"no_assertion_criteria_provided":                       0,
		"":                                                     0,
	}
	for status, expected := range tests {
		if got := StarsForReviewStatus(status); got != expected {
			t.Errorf("StarsForReviewStatus(%q) = %d, wanted %d", status, got, expected)
		}
	}
}

func TestFileSource_indexing(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "revel.tsv.gz")
	ensure(os.WriteFile(input, gzipped(
		"#chrom\tpos\tref\talt\tscore\n",
		"1\t100\tA\tG\t0.5\n1\t100\tA\tG\t0.5\n",
		"1\t50\tT\tC\t0.25\n",
	), 0666))

	src := NewFileSource[alleledb.AlleleProperties](alleledb.Revel, input, PropertiesTSV{Source: alleledb.Revel})
	deepEqual(t, src.Name(), alleledb.Revel)

	store := must(alleledb.Open(filepath.Join(dir, "revel.store"), alleledb.PropertiesKind, alleledb.Options{IsTesting: true, CreateIfMissing: true}))
	defer store.Close()
	ix := must(alleledb.NewIndexer(store, alleledb.PropertiesKind, alleledb.IndexerOptions{}))
	r := must(src.Open())
	n := must(ix.Index(context.Background(), r))
	ensure(r.Close())
	deepEqual(t, n, 2)
	deepEqual(t, ix.Records(), 3)

	ensure(store.View(func(tx *alleledb.Tx) error {
		recs := must(alleledb.All(tx, alleledb.PropertiesKind))
		deepEqual(t, recs, []alleledb.Record[alleledb.AlleleProperties]{
			{Key: alleledb.MustAlleleKey("1", 50, "T", "C"), Value: alleledb.AlleleProperties{}.WithScore(alleledb.Revel, 0.25)},
			{Key: alleledb.MustAlleleKey("1", 100, "A", "G"), Value: alleledb.AlleleProperties{}.WithScore(alleledb.Revel, 0.5)},
		})
		return nil
	}))
}
