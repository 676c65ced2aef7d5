package alleledb

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func testOptions() Options {
	return Options{IsTesting: true, CreateIfMissing: true}
}

func setupStore[T Value[T]](t testing.TB, kind *Kind[T]) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.store")
	t.Logf("store: %s", path)
	s := must(Open(path, kind, testOptions()))
	t.Cleanup(func() { s.Close() })
	return s
}

// createStore writes recs into a new store at path and closes it.
func createStore[T Value[T]](t testing.TB, path string, kind *Kind[T], recs ...Record[T]) {
	t.Helper()
	s := must(Open(path, kind, testOptions()))
	ensure(s.Update(func(tx *Tx) error {
		for _, r := range recs {
			if _, err := Upsert(tx, kind, r.Key, r.Value, nil); err != nil {
				return err
			}
		}
		return nil
	}))
	ensure(s.Close())
}

func openReadOnly[T Value[T]](t testing.TB, path string, kind *Kind[T]) *Store {
	t.Helper()
	s := must(Open(path, kind, Options{IsTesting: true, ReadOnly: true}))
	t.Cleanup(func() { s.Close() })
	return s
}

func readAll[T Value[T]](t testing.TB, path string, kind *Kind[T]) []Record[T] {
	t.Helper()
	s := must(Open(path, kind, Options{IsTesting: true, ReadOnly: true}))
	defer s.Close()
	var result []Record[T]
	ensure(s.View(func(tx *Tx) error {
		var err error
		result, err = All(tx, kind)
		return err
	}))
	return result
}

func digestOf(t testing.TB, path string, kind AnyKind) uint64 {
	t.Helper()
	s := must(Open(path, kind, Options{IsTesting: true, ReadOnly: true}))
	defer s.Close()
	return must(s.Digest())
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func rec[T any](key AlleleKey, v T) Record[T] {
	return Record[T]{key, v}
}

func freqProps(source string, af float32) AlleleProperties {
	return AlleleProperties{}.WithFrequency(source, Frequency{AF: af})
}

func scoreProps(source string, score float32) AlleleProperties {
	return AlleleProperties{}.WithScore(source, score)
}

// wideProps populates n scores and n frequencies, so that encoding walks
// maps with more entries than a single Go map bucket holds.
func wideProps(n int, base float32) AlleleProperties {
	var p AlleleProperties
	for i := 0; i < n; i++ {
		p = p.WithScore(fmt.Sprintf("SCORE_%02d", i), base+float32(i))
		p = p.WithFrequency(fmt.Sprintf("POP_%02d", i), Frequency{AF: base + float32(i), AN: uint32(100 + i)})
	}
	return p
}

type testReader[T any] struct {
	batches [][]Record[T]
	closed  bool
}

func (r *testReader[T]) ReadRecords() ([]Record[T], error) {
	if len(r.batches) == 0 {
		return nil, io.EOF
	}
	b := r.batches[0]
	r.batches = r.batches[1:]
	return b, nil
}

func (r *testReader[T]) Close() error {
	r.closed = true
	return nil
}

// batches splits recs into chunks of n, with an empty chunk up front.
func batches[T any](recs []Record[T], n int) [][]Record[T] {
	result := [][]Record[T]{nil}
	for len(recs) > 0 {
		k := min(n, len(recs))
		result = append(result, recs[:k])
		recs = recs[k:]
	}
	return result
}

type testSource[T any] struct {
	name  string
	recs  []Record[T]
	err   error
	opens *int
}

func (s testSource[T]) Name() string {
	return s.name
}

func (s testSource[T]) Open() (RecordReader[T], error) {
	if s.opens != nil {
		*s.opens++
	}
	if s.err != nil {
		return nil, s.err
	}
	return &testReader[T]{batches: batches(s.recs, 3)}, nil
}
