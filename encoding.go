package alleledb

import (
	"bytes"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// msgpackEncode appends the msgpack encoding of objVal to buf. Equal values
// always produce equal bytes: SetSortMapKeys covers plain string maps, and
// typed maps are written through sortedMap.
func msgpackEncode(buf []byte, objVal reflect.Value) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.EncodeValue(objVal)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", objVal.Interface(), err))
	}
	return bb.Buf
}

func msgpackDecode(buf []byte, objPtrVal reflect.Value) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.DecodeValue(objPtrVal)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", objPtrVal.Interface())
	}
	return nil
}

// sortedMap encodes its entries in key order. msgpack only sorts a few
// builtin map types on its own. It decodes as an ordinary map.
type sortedMap[V any] map[string]V

func (m sortedMap[V]) EncodeMsgpack(enc *msgpack.Encoder) error {
	if m == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeMapLen(len(m)); err != nil {
		return err
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.Encode(m[k]); err != nil {
			return err
		}
	}
	return nil
}
