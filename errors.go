package alleledb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStoreNotFound = errors.New("store does not exist")
	ErrKindMismatch  = errors.New("store holds a different value kind")
	ErrReadOnly      = errors.New("store is read-only")
	ErrClosed        = errors.New("store is closed")

	// Break stops ForEach early without an error.
	Break = errors.New("break")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// StoreError names the store file and the operation that failed on it.
// Storage errors are never retried.
type StoreError struct {
	Path string
	Op   string
	Key  *AlleleKey
	Err  error
}

func storeErrf(path, op string, key *AlleleKey, err error) error {
	return &StoreError{path, op, key, err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString("alleledb: ")
	buf.WriteString(e.Path)
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(e.Key.String())
	}
	if e.Op != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Op)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

type MalformedAlleleError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedAlleleError) Error() string {
	return fmt.Sprintf("malformed allele: %s %q: %s", e.Field, e.Value, e.Reason)
}
