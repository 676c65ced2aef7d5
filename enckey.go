package alleledb

import (
	"bytes"
)

// key format: chrom:8 pos:32 ref 0x00 alt
//
// Alleles never contain NUL, so a shorter ref sorts before any longer ref
// sharing its prefix, and bytes.Compare agrees with AlleleKey.Compare.

const (
	keyAlleleSep   = 0x00
	minEncodedKey  = 1 + 4 + 1
	keyFixedPrefix = 1 + 4
)

func (k AlleleKey) EncodedLen() int {
	return keyFixedPrefix + len(k.ref) + 1 + len(k.alt)
}

// AppendBinary appends the order-preserving encoding of k to buf.
func (k AlleleKey) AppendBinary(buf []byte) []byte {
	buf = ensureCapacity(buf, len(buf)+k.EncodedLen())
	buf = appendUint8(buf, uint8(k.chrom))
	buf = appendUint32(buf, k.pos)
	buf = appendString(buf, k.ref)
	buf = appendUint8(buf, keyAlleleSep)
	buf = appendString(buf, k.alt)
	return buf
}

func (k AlleleKey) MarshalBinary() ([]byte, error) {
	return k.AppendBinary(nil), nil
}

func (k *AlleleKey) UnmarshalBinary(data []byte) error {
	v, err := DecodeAlleleKey(data)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func DecodeAlleleKey(data []byte) (AlleleKey, error) {
	if len(data) < minEncodedKey {
		return AlleleKey{}, dataErrf(data, 0, nil, "invalid allele key: at least %d bytes required", minEncodedKey)
	}
	d := makeByteDecoder(data)
	c := must(d.Uint8())
	if !Chromosome(c).Valid() {
		return AlleleKey{}, dataErrf(data, 0, nil, "invalid allele key: bad chromosome %d", c)
	}
	pos := must(d.Uint32())
	rest := d.Rest()
	i := bytes.IndexByte(rest, keyAlleleSep)
	if i < 0 {
		return AlleleKey{}, dataErrf(data, keyFixedPrefix, nil, "invalid allele key: missing allele separator")
	}
	alt := rest[i+1:]
	if bytes.IndexByte(alt, keyAlleleSep) >= 0 {
		return AlleleKey{}, dataErrf(data, keyFixedPrefix+i+1, nil, "invalid allele key: extra allele separator")
	}
	return AlleleKey{Chromosome(c), pos, string(rest[:i]), string(alt)}, nil
}
