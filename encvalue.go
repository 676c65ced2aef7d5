package alleledb

import (
	"fmt"
	"reflect"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize     = 3
	maxFormatVersion = 32768 // just a sanity value, can be increased
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

// value format: flags:uvarint formatVer:uvarint dataSize:uvarint msgpack
type value struct {
	Flags     valueFlags
	FormatVer uint64
	Data      []byte
}

func appendValue(buf []byte, formatVer uint64, objVal reflect.Value) []byte {
	data := msgpackEncode(nil, objVal)
	buf = appendUvarint(buf, uint64(vfDefault))
	buf = appendUvarint(buf, formatVer)
	buf = appendUvarint(buf, uint64(len(data)))
	return appendRaw(buf, data)
}

func (vle *value) decode(data []byte) error {
	if len(data) < minValueSize {
		return dataErrf(data, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	d := makeByteDecoder(data)

	v, err := d.Uvarint()
	if err != nil {
		return dataErrf(data, d.Off(), err, "invalid value: bad flags")
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(data, d.Off(), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags = valueFlags(v)
	if vle.Flags.ver() != vfVer1 {
		return dataErrf(data, d.Off(), nil, "invalid value: unsupported value version %d", vle.Flags.ver())
	}

	v, err = d.Uvarint()
	if err != nil || v > maxFormatVersion {
		return dataErrf(data, d.Off(), err, "invalid value: bad format version")
	}
	vle.FormatVer = v

	dataSize, err := d.Uvarinti()
	if err != nil {
		return dataErrf(data, d.Off(), err, "invalid value: bad data size")
	}
	if d.Remaining() != dataSize {
		return dataErrf(data, d.Off(), nil, "invalid value: got %d bytes for data, expected %d bytes", d.Remaining(), dataSize)
	}
	vle.Data = d.Rest()
	return nil
}

func (vle *value) String() string {
	return fmt.Sprintf("v%d f%d (%d)", vle.Flags.ver(), vle.FormatVer, len(vle.Data))
}
