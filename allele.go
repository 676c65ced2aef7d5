package alleledb

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Chromosome is a numeric chromosome identifier, 1-22 for autosomes,
// then X, Y and MT.
type Chromosome uint8

const (
	ChrX  Chromosome = 23
	ChrY  Chromosome = 24
	ChrMT Chromosome = 25

	minChromosome = Chromosome(1)
	maxChromosome = ChrMT
)

func (c Chromosome) Valid() bool {
	return c >= minChromosome && c <= maxChromosome
}

func (c Chromosome) String() string {
	switch c {
	case ChrX:
		return "X"
	case ChrY:
		return "Y"
	case ChrMT:
		return "MT"
	default:
		return strconv.Itoa(int(c))
	}
}

// ParseChromosome accepts 1-25, X, Y, M and MT, optionally prefixed with
// "chr", in any case.
func ParseChromosome(s string) (Chromosome, error) {
	tok := strings.ToUpper(strings.TrimSpace(s))
	tok = strings.TrimPrefix(tok, "CHR")
	switch tok {
	case "X":
		return ChrX, nil
	case "Y":
		return ChrY, nil
	case "M", "MT":
		return ChrMT, nil
	}
	// Only the canonical spelling of a number is a chromosome, not "01" or "+1".
	n, err := strconv.Atoi(tok)
	if err != nil || strconv.Itoa(n) != tok || n < int(minChromosome) || n > int(maxChromosome) {
		return 0, &MalformedAlleleError{Field: "chromosome", Value: s, Reason: "unrecognized chromosome"}
	}
	return Chromosome(n), nil
}

// AlleleKey identifies a variant: a chromosome, a 1-based position and
// the ref/alt substitution at that position. Keys are immutable and
// comparable with ==.
type AlleleKey struct {
	chrom Chromosome
	pos   uint32
	ref   string
	alt   string
}

func NewAlleleKey(chrom string, pos int, ref, alt string) (AlleleKey, error) {
	c, err := ParseChromosome(chrom)
	if err != nil {
		return AlleleKey{}, err
	}
	return MakeAlleleKey(c, pos, ref, alt)
}

func MakeAlleleKey(chrom Chromosome, pos int, ref, alt string) (AlleleKey, error) {
	if !chrom.Valid() {
		return AlleleKey{}, &MalformedAlleleError{Field: "chromosome", Value: strconv.Itoa(int(chrom)), Reason: "unrecognized chromosome"}
	}
	if pos < 0 {
		return AlleleKey{}, &MalformedAlleleError{Field: "position", Value: strconv.Itoa(pos), Reason: "negative position"}
	}
	if uint64(pos) > math.MaxUint32 {
		return AlleleKey{}, &MalformedAlleleError{Field: "position", Value: strconv.Itoa(pos), Reason: "position out of range"}
	}
	// NUL separates ref from alt in the encoded key.
	if strings.IndexByte(ref, 0) >= 0 {
		return AlleleKey{}, &MalformedAlleleError{Field: "ref", Value: ref, Reason: "allele contains NUL"}
	}
	if strings.IndexByte(alt, 0) >= 0 {
		return AlleleKey{}, &MalformedAlleleError{Field: "alt", Value: alt, Reason: "allele contains NUL"}
	}
	return AlleleKey{chrom, uint32(pos), ref, alt}, nil
}

func MustAlleleKey(chrom string, pos int, ref, alt string) AlleleKey {
	return must(NewAlleleKey(chrom, pos, ref, alt))
}

func (k AlleleKey) Chromosome() Chromosome { return k.chrom }
func (k AlleleKey) Position() int          { return int(k.pos) }
func (k AlleleKey) Ref() string            { return k.ref }
func (k AlleleKey) Alt() string            { return k.alt }
func (k AlleleKey) IsZero() bool           { return k == AlleleKey{} }

// Compare orders keys by chromosome, position, ref, then alt. It agrees
// with bytes.Compare on encoded keys.
func (k AlleleKey) Compare(other AlleleKey) int {
	if c := cmp.Compare(k.chrom, other.chrom); c != 0 {
		return c
	}
	if c := cmp.Compare(k.pos, other.pos); c != 0 {
		return c
	}
	if c := strings.Compare(k.ref, other.ref); c != 0 {
		return c
	}
	return strings.Compare(k.alt, other.alt)
}

func (k AlleleKey) String() string {
	return fmt.Sprintf("%s-%d-%s-%s", k.chrom, k.pos, k.ref, k.alt)
}

// Record pairs a key with a value of one kind.
type Record[T any] struct {
	Key   AlleleKey
	Value T
}
