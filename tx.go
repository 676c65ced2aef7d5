package alleledb

import (
	"fmt"
	"runtime/debug"

	"go.etcd.io/bbolt"
)

// Tx is a read or write transaction over a store's data bucket.
type Tx struct {
	store   *Store
	btx     *bbolt.Tx
	data    *bbolt.Bucket
	written bool

	keyBuf []byte
	valBuf []byte
}

func (s *Store) newTx(btx *bbolt.Tx) *Tx {
	return &Tx{
		store:  s,
		btx:    btx,
		data:   btx.Bucket(dataBucket),
		keyBuf: make([]byte, 0, 64),
	}
}

func (tx *Tx) Store() *Store {
	return tx.store
}

// View runs f in a read-only transaction.
func (s *Store) View(f func(tx *Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.bdb.View(func(btx *bbolt.Tx) error {
		return safelyCall(f, s.newTx(btx))
	})
}

// Update runs f in a write transaction and commits it unless f fails.
func (s *Store) Update(f func(tx *Tx) error) error {
	if err := s.checkWritable("update"); err != nil {
		return err
	}
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	tx, err := s.beginUpdate()
	if err != nil {
		return err
	}
	if err := safelyCall(f, tx); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

func (s *Store) beginUpdate() (*Tx, error) {
	btx, err := s.bdb.Begin(true)
	if err != nil {
		return nil, storeErrf(s.path, "begin", nil, err)
	}
	return s.newTx(btx), nil
}

// beginView starts a read transaction the caller must end with rollback.
func (s *Store) beginView() (*Tx, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	btx, err := s.bdb.Begin(false)
	if err != nil {
		return nil, storeErrf(s.path, "begin", nil, err)
	}
	return s.newTx(btx), nil
}

func (tx *Tx) commit() error {
	markedDirty := false
	if tx.written && !tx.store.state.Dirty {
		tx.store.state.Dirty = true
		markedDirty = true
		if err := tx.store.saveState(tx.btx); err != nil {
			tx.store.state.Dirty = false
			tx.rollback()
			return err
		}
	}
	if err := tx.btx.Commit(); err != nil {
		if markedDirty {
			tx.store.state.Dirty = false
		}
		return storeErrf(tx.store.path, "commit", nil, err)
	}
	return nil
}

func (tx *Tx) rollback() {
	// The only error Rollback returns is ErrTxClosed, which means we already committed.
	err := tx.btx.Rollback()
	if err != nil && err != bbolt.ErrTxClosed {
		panic(err)
	}
}

func (tx *Tx) markWritten() {
	tx.written = true
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

// KeyCount returns the number of keys in the store.
func (tx *Tx) KeyCount() int {
	return tx.data.Stats().KeyN
}

// GetRaw returns the encoded value stored under key, or nil. The slice is
// only valid until the transaction ends.
func (tx *Tx) GetRaw(key AlleleKey) []byte {
	tx.keyBuf = key.AppendBinary(tx.keyBuf[:0])
	return tx.data.Get(tx.keyBuf)
}

func (tx *Tx) PutRaw(key AlleleKey, raw []byte) error {
	return tx.putEncoded(key.AppendBinary(nil), raw)
}

func (tx *Tx) putEncoded(keyRaw, valueRaw []byte) error {
	if err := tx.data.Put(keyRaw, valueRaw); err != nil {
		return tx.keyErr(keyRaw, "put", err)
	}
	tx.markWritten()
	return nil
}

func (tx *Tx) Delete(key AlleleKey) error {
	if err := tx.data.Delete(key.AppendBinary(nil)); err != nil {
		return storeErrf(tx.store.path, "delete", &key, err)
	}
	tx.markWritten()
	return nil
}

func (tx *Tx) keyErr(keyRaw []byte, op string, err error) error {
	if key, kerr := DecodeAlleleKey(keyRaw); kerr == nil {
		return storeErrf(tx.store.path, op, &key, err)
	}
	return storeErrf(tx.store.path, fmt.Sprintf("%s %x", op, keyRaw), nil, err)
}

func checkKind[T Value[T]](tx *Tx, kind *Kind[T]) error {
	if tx.store.kind.Name() != kind.Name() {
		return storeErrf(tx.store.path, kind.Name(), nil, ErrKindMismatch)
	}
	return nil
}

func Get[T Value[T]](tx *Tx, kind *Kind[T], key AlleleKey) (T, bool, error) {
	var zero T
	if err := checkKind(tx, kind); err != nil {
		return zero, false, err
	}
	raw := tx.GetRaw(key)
	if raw == nil {
		return zero, false, nil
	}
	v, err := kind.DecodeValue(raw)
	if err != nil {
		return zero, false, storeErrf(tx.store.path, "get", &key, err)
	}
	return v, true, nil
}

// Put stores v under key, replacing any existing value.
func Put[T Value[T]](tx *Tx, kind *Kind[T], key AlleleKey, v T) error {
	if err := checkKind(tx, kind); err != nil {
		return err
	}
	tx.valBuf = kind.EncodeValue(tx.valBuf[:0], v)
	// bbolt keeps references to key and value until commit.
	return tx.putEncoded(key.AppendBinary(nil), append([]byte(nil), tx.valBuf...))
}

// Upsert inserts v if key is absent, or stores existing.Merge(v) otherwise.
func Upsert[T Value[T]](tx *Tx, kind *Kind[T], key AlleleKey, v T, report ConflictFunc) (inserted bool, err error) {
	if err := checkKind(tx, kind); err != nil {
		return false, err
	}
	existing, found, err := Get(tx, kind, key)
	if err != nil {
		return false, err
	}
	if found {
		v = existing.Merge(v, report)
	}
	return !found, Put(tx, kind, key, v)
}

// UpsertRaw is Upsert for an already encoded key and value. An absent key
// gets valueRaw verbatim, so values copied between stores are not re-encoded.
func UpsertRaw[T Value[T]](tx *Tx, kind *Kind[T], keyRaw, valueRaw []byte, report ConflictFunc) (inserted bool, err error) {
	if err := checkKind(tx, kind); err != nil {
		return false, err
	}
	keyRaw = append([]byte(nil), keyRaw...)
	existing := tx.data.Get(keyRaw)
	if existing == nil {
		return true, tx.putEncoded(keyRaw, append([]byte(nil), valueRaw...))
	}
	merged, err := kind.MergeRaw(nil, existing, valueRaw, report)
	if err != nil {
		return false, tx.keyErr(keyRaw, "merge", err)
	}
	return false, tx.putEncoded(keyRaw, merged)
}

// ForEach calls f for every entry in key order.
func ForEach[T Value[T]](tx *Tx, kind *Kind[T], f func(key AlleleKey, v T) error) error {
	if err := checkKind(tx, kind); err != nil {
		return err
	}
	for c := tx.Cursor(); c.Next(); {
		key, err := c.Key()
		if err != nil {
			return storeErrf(tx.store.path, "scan", nil, err)
		}
		v, err := kind.DecodeValue(c.RawValue())
		if err != nil {
			return storeErrf(tx.store.path, "scan", &key, err)
		}
		if err := f(key, v); err != nil {
			if err == Break {
				return nil
			}
			return err
		}
	}
	return nil
}

// All returns every entry in key order. Meant for small stores and tests.
func All[T Value[T]](tx *Tx, kind *Kind[T]) ([]Record[T], error) {
	var result []Record[T]
	err := ForEach(tx, kind, func(key AlleleKey, v T) error {
		result = append(result, Record[T]{key, v})
		return nil
	})
	return result, err
}
