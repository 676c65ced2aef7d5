package alleledb

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Value is the capability every stored value kind provides: merging two
// values for the same key into one. Merge must not modify either operand,
// must be deterministic, and must keep every populated field of both sides.
// When both sides populate the same field with different non-default
// values, other wins and the clash is reported.
type Value[T any] interface {
	Merge(other T, report ConflictFunc) T
}

// Conflict describes one field that two merged values both populated
// with different values. New is the value that was kept.
type Conflict struct {
	Field string
	Old   any
	New   any
}

type ConflictFunc func(c Conflict)

func (f ConflictFunc) emit(field string, old, kept any) {
	if f != nil {
		f(Conflict{field, old, kept})
	}
}

// AnyKind is the untyped part of a Kind, enough to open and describe a store.
type AnyKind interface {
	Name() string
	FormatVersion() uint64
	DescribeValue(raw []byte) string
}

// Kind binds a value type to the name recorded in the store file.
type Kind[T Value[T]] struct {
	name      string
	formatVer uint64
}

func DefineKind[T Value[T]](name string, formatVer uint64) *Kind[T] {
	if name == "" {
		panic("kind name must not be empty")
	}
	if formatVer == 0 || formatVer > maxFormatVersion {
		panic(fmt.Errorf("kind %s: invalid format version %d", name, formatVer))
	}
	return &Kind[T]{name: name, formatVer: formatVer}
}

var (
	PropertiesKind = DefineKind[AlleleProperties]("allele_properties", 1)
	ClinVarKind    = DefineKind[ClinicalAnnotation]("clinvar", 1)
)

func (k *Kind[T]) Name() string          { return k.name }
func (k *Kind[T]) FormatVersion() uint64 { return k.formatVer }
func (k *Kind[T]) String() string        { return k.name }

func (k *Kind[T]) EncodeValue(buf []byte, v T) []byte {
	return appendValue(buf, k.formatVer, reflect.ValueOf(&v))
}

func (k *Kind[T]) DecodeValue(raw []byte) (T, error) {
	var result T
	var vle value
	if err := vle.decode(raw); err != nil {
		return result, err
	}
	if vle.FormatVer != k.formatVer {
		return result, dataErrf(raw, 0, nil, "%s: unsupported format version %d, wanted %d", k.name, vle.FormatVer, k.formatVer)
	}
	if err := msgpackDecode(vle.Data, reflect.ValueOf(&result)); err != nil {
		return result, err
	}
	return result, nil
}

// MergeRaw decodes both values, merges other into existing and re-encodes.
func (k *Kind[T]) MergeRaw(buf []byte, existing, other []byte, report ConflictFunc) ([]byte, error) {
	a, err := k.DecodeValue(existing)
	if err != nil {
		return nil, err
	}
	b, err := k.DecodeValue(other)
	if err != nil {
		return nil, err
	}
	return k.EncodeValue(buf, a.Merge(b, report)), nil
}

func (k *Kind[T]) DescribeValue(raw []byte) string {
	v, err := k.DecodeValue(raw)
	if err != nil {
		return fmt.Sprintf("** ERROR: %v", err)
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%+v", v)
}
