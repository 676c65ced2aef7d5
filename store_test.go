package alleledb

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var (
	k1 = MustAlleleKey("1", 12345, "A", "T")
	k2 = MustAlleleKey("1", 12346, "C", "G")
	k3 = MustAlleleKey("X", 100, "AC", "A")
)

func TestStore_putGet(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	v1 := AlleleProperties{RsID: "rs1"}.WithScore(Revel, 0.5)

	ensure(s.Update(func(tx *Tx) error {
		return Put(tx, PropertiesKind, k1, v1)
	}))
	ensure(s.View(func(tx *Tx) error {
		v, found, err := Get(tx, PropertiesKind, k1)
		ensure(err)
		deepEqual(t, found, true)
		deepEqual(t, v, v1)

		_, found, err = Get(tx, PropertiesKind, k2)
		ensure(err)
		deepEqual(t, found, false)
		deepEqual(t, tx.KeyCount(), 1)
		return nil
	}))
}

func TestStore_upsertMerges(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	var conflicts []Conflict
	ensure(s.Update(func(tx *Tx) error {
		inserted := must(Upsert(tx, PropertiesKind, k1, freqProps(EspAll, 1), collectConflicts(&conflicts)))
		deepEqual(t, inserted, true)
		inserted = must(Upsert(tx, PropertiesKind, k1, scoreProps(Cadd, 20), collectConflicts(&conflicts)))
		deepEqual(t, inserted, false)
		inserted = must(Upsert(tx, PropertiesKind, k1, freqProps(EspAll, 2), collectConflicts(&conflicts)))
		deepEqual(t, inserted, false)
		return nil
	}))
	ensure(s.View(func(tx *Tx) error {
		v, _ := must2(Get(tx, PropertiesKind, k1))
		deepEqual(t, v, freqProps(EspAll, 2).WithScore(Cadd, 20))
		return nil
	}))
	deepEqual(t, len(conflicts), 1)
}

func TestStore_upsertRawKeepsBytes(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	raw := PropertiesKind.EncodeValue(nil, freqProps(EspAll, 1))
	ensure(s.Update(func(tx *Tx) error {
		inserted := must(UpsertRaw(tx, PropertiesKind, k1.AppendBinary(nil), raw, nil))
		deepEqual(t, inserted, true)
		return nil
	}))
	ensure(s.View(func(tx *Tx) error {
		deepEqual(t, tx.GetRaw(k1), raw)
		return nil
	}))
}

func TestStore_scanIsStrictlyIncreasing(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	r := rand.New(rand.NewSource(1))
	chroms := []string{"1", "2", "10", "X", "MT"}
	bases := []string{"A", "C", "G", "T", "AC", "GT"}
	ensure(s.Update(func(tx *Tx) error {
		for i := 0; i < 500; i++ {
			key := MustAlleleKey(chroms[r.Intn(len(chroms))], r.Intn(1000), bases[r.Intn(len(bases))], bases[r.Intn(len(bases))])
			if _, err := Upsert(tx, PropertiesKind, key, scoreProps(Cadd, float32(i)), nil); err != nil {
				return err
			}
		}
		return nil
	}))

	var prev AlleleKey
	var n int
	ensure(s.View(func(tx *Tx) error {
		return ForEach(tx, PropertiesKind, func(key AlleleKey, v AlleleProperties) error {
			if n > 0 && prev.Compare(key) >= 0 {
				t.Errorf("key %v after %v", key, prev)
			}
			prev = key
			n++
			return nil
		})
	}))
	ensure(s.View(func(tx *Tx) error {
		deepEqual(t, n, tx.KeyCount())
		return nil
	}))
}

func TestStore_forEachBreak(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	ensure(s.Update(func(tx *Tx) error {
		ensure(Put(tx, PropertiesKind, k1, freqProps(EspAll, 1)))
		ensure(Put(tx, PropertiesKind, k2, freqProps(EspAll, 2)))
		return Put(tx, PropertiesKind, k3, freqProps(EspAll, 3))
	}))
	var keys []AlleleKey
	ensure(s.View(func(tx *Tx) error {
		return ForEach(tx, PropertiesKind, func(key AlleleKey, v AlleleProperties) error {
			keys = append(keys, key)
			if key == k2 {
				return Break
			}
			return nil
		})
	}))
	deepEqual(t, keys, []AlleleKey{k1, k2})
}

func TestStore_cursorSeek(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	ensure(s.Update(func(tx *Tx) error {
		ensure(Put(tx, PropertiesKind, k1, freqProps(EspAll, 1)))
		return Put(tx, PropertiesKind, k3, freqProps(EspAll, 3))
	}))
	ensure(s.View(func(tx *Tx) error {
		c := tx.Cursor().Seek(k2)
		deepEqual(t, c.Next(), true)
		deepEqual(t, must(c.Key()), k3)
		deepEqual(t, c.Next(), false)
		return nil
	}))
}

func TestStore_delete(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	ensure(s.Update(func(tx *Tx) error {
		ensure(Put(tx, PropertiesKind, k1, freqProps(EspAll, 1)))
		return tx.Delete(k1)
	}))
	ensure(s.View(func(tx *Tx) error {
		deepEqual(t, tx.GetRaw(k1) == nil, true)
		return nil
	}))
}

func TestStore_updateRollsBackOnError(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	failure := errors.New("nope")
	err := s.Update(func(tx *Tx) error {
		ensure(Put(tx, PropertiesKind, k1, freqProps(EspAll, 1)))
		return failure
	})
	deepEqual(t, err, failure)
	ensure(s.View(func(tx *Tx) error {
		deepEqual(t, tx.KeyCount(), 0)
		return nil
	}))
	deepEqual(t, s.State().Dirty, false)
}

func TestStore_panicBecomesError(t *testing.T) {
	s := setupStore(t, PropertiesKind)
	err := s.View(func(tx *Tx) error {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("** got %v, wanted panic error", err)
	}
}

func TestOpen_missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.store")
	_, err := Open(path, PropertiesKind, Options{IsTesting: true})
	if !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("** got %v, wanted ErrStoreNotFound", err)
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Path != path {
		t.Fatalf("** got %v, wanted StoreError for %s", err, path)
	}

	_, err = Open(path, PropertiesKind, Options{IsTesting: true, ReadOnly: true, CreateIfMissing: true})
	if !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("read-only: ** got %v, wanted ErrStoreNotFound", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("store file was created")
	}
}

func TestOpen_kindMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.store")
	createStore(t, path, PropertiesKind, rec(k1, freqProps(EspAll, 1)))

	_, err := Open(path, ClinVarKind, Options{IsTesting: true})
	if !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("** got %v, wanted ErrKindMismatch", err)
	}

	s := must(Open(path, PropertiesKind, Options{IsTesting: true}))
	defer s.Close()
	err = s.View(func(tx *Tx) error {
		_, _, err := Get(tx, ClinVarKind, k1)
		return err
	})
	if !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("Get: ** got %v, wanted ErrKindMismatch", err)
	}
}

func TestOpen_notAStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.store")
	ensure(os.WriteFile(path, []byte(strings.Repeat("garbage", 1000)), 0666))
	if _, err := Open(path, PropertiesKind, Options{IsTesting: true}); err == nil {
		t.Fatalf("opening garbage succeeded")
	}
}

func TestStore_readOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.store")
	createStore(t, path, PropertiesKind, rec(k1, freqProps(EspAll, 1)))

	s := openReadOnly(t, path, PropertiesKind)
	deepEqual(t, s.IsReadOnly(), true)
	err := s.Update(func(tx *Tx) error { return nil })
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Update: ** got %v, wanted ErrReadOnly", err)
	}
	if _, err := s.NewWriter(); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("NewWriter: ** got %v, wanted ErrReadOnly", err)
	}
	if err := s.CompactLight(); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("CompactLight: ** got %v, wanted ErrReadOnly", err)
	}

	// many readers may share a store
	s2 := openReadOnly(t, path, PropertiesKind)
	deepEqual(t, must(s2.Digest()), must(s.Digest()))
}

func TestStore_closed(t *testing.T) {
	s := must(Open(filepath.Join(t.TempDir(), "c.store"), PropertiesKind, testOptions()))
	ensure(s.Close())
	ensure(s.Close())
	err := s.View(func(tx *Tx) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("** got %v, wanted ErrClosed", err)
	}
}

func TestStore_state(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.store")
	s := must(Open(path, PropertiesKind, testOptions()))
	deepEqual(t, s.State(), StoreState{})

	ensure(s.View(func(tx *Tx) error { return nil }))
	deepEqual(t, s.State().Dirty, false)

	ensure(s.Update(func(tx *Tx) error {
		return Put(tx, PropertiesKind, k1, freqProps(EspAll, 1))
	}))
	deepEqual(t, s.State(), StoreState{Dirty: true})
	ensure(s.Close())

	s = must(Open(path, PropertiesKind, testOptions()))
	deepEqual(t, s.State(), StoreState{Dirty: true})

	ensure(s.CompactInPlace())
	deepEqual(t, s.State(), StoreState{FullCompactions: 1})
	deepEqual(t, s.State().IsClean(), true)

	// a clean store is not compacted again
	ensure(s.CompactInPlace())
	deepEqual(t, s.State(), StoreState{FullCompactions: 1})

	ensure(s.Update(func(tx *Tx) error {
		return Put(tx, PropertiesKind, k2, freqProps(EspAll, 2))
	}))
	deepEqual(t, s.State(), StoreState{Dirty: true, FullCompactions: 1})
	ensure(s.CompactInPlace())
	deepEqual(t, s.State(), StoreState{FullCompactions: 2})
	ensure(s.Close())

	deepEqual(t, len(readAll(t, path, PropertiesKind)), 2)
	if _, err := os.Stat(path + inPlaceSuffix); !os.IsNotExist(err) {
		t.Errorf("in-place compaction left %s behind", path+inPlaceSuffix)
	}
}

func TestKind_decodeErrors(t *testing.T) {
	raw := PropertiesKind.EncodeValue(nil, freqProps(EspAll, 1))
	v := must(PropertiesKind.DecodeValue(raw))
	deepEqual(t, v, freqProps(EspAll, 1))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unsupported flags", append([]byte{0x02}, raw[1:]...)},
		{"truncated", raw[:len(raw)-1]},
		{"extra bytes", append(append([]byte(nil), raw...), 0)},
		{"wrong kind version", append([]byte{0x01, 0x07}, raw[2:]...)},
		{"oversized data size", []byte{raw[0], raw[1], 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01, 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PropertiesKind.DecodeValue(tt.data)
			var e *DataError
			if !errors.As(err, &e) {
				t.Fatalf("** got %v, wanted DataError", err)
			}
		})
	}
}

func TestKind_encodingIsDeterministic(t *testing.T) {
	a := AlleleProperties{}
	b := AlleleProperties{}
	for i := 0; i < 20; i++ {
		a = a.WithScore(fmt.Sprintf("S%02d", i), float32(i))
		b = b.WithScore(fmt.Sprintf("S%02d", 19-i), float32(19-i))
		a = a.WithFrequency(fmt.Sprintf("F%02d", i), Frequency{AF: float32(i), AN: uint32(i)})
		b = b.WithFrequency(fmt.Sprintf("F%02d", 19-i), Frequency{AF: float32(19 - i), AN: uint32(19 - i)})
	}
	first := PropertiesKind.EncodeValue(nil, a)
	deepEqual(t, PropertiesKind.EncodeValue(nil, b), first)
	for i := 0; i < 50; i++ {
		if enc := PropertiesKind.EncodeValue(nil, a); !bytes.Equal(enc, first) {
			t.Fatalf("** encoding %d differs: %x, wanted %x", i, enc, first)
		}
	}
	deepEqual(t, must(PropertiesKind.DecodeValue(first)), a)
}

func TestKind_clinVarEncodingIsDeterministic(t *testing.T) {
	a := ClinicalAnnotation{AlleleID: "15041", PrimaryInterpretation: Pathogenic, IncludedAlleles: map[string]ClinSig{}}
	for i := 0; i < 20; i++ {
		a.IncludedAlleles[fmt.Sprint(1000+i)] = Benign
	}
	first := ClinVarKind.EncodeValue(nil, a)
	for i := 0; i < 50; i++ {
		if enc := ClinVarKind.EncodeValue(nil, a); !bytes.Equal(enc, first) {
			t.Fatalf("** encoding %d differs: %x, wanted %x", i, enc, first)
		}
	}
	deepEqual(t, must(ClinVarKind.DecodeValue(first)), a)
}

func TestStoreError_message(t *testing.T) {
	err := storeErrf("/tmp/x.store", "put", &k1, ErrReadOnly)
	deepEqual(t, err.Error(), "alleledb: /tmp/x.store/1-12345-A-T: put: store is read-only")
	deepEqual(t, errors.Is(err, ErrReadOnly), true)
}

func must2[T1, T2 any](v1 T1, v2 T2, err error) (T1, T2) {
	if err != nil {
		panic(err)
	}
	return v1, v2
}
