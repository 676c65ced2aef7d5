package alleledb

import (
	"bytes"
	"container/heap"

	"github.com/hashicorp/go-multierror"
)

type mergeElem struct {
	key   []byte
	value []byte
	rank  int
}

// mergeHeap orders elements by key, then by rank, so equal keys pop in
// the order their sources take precedence.
type mergeHeap []mergeElem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].rank < h[j].rank
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) {
	*h = append(*h, x.(mergeElem))
}

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

type mergeInput struct {
	store *Store
	tx    *Tx
	cur   *Cursor
}

func (in *mergeInput) next(rank int) (mergeElem, bool) {
	if !in.cur.Next() {
		return mergeElem{}, false
	}
	return mergeElem{
		key:   bytes.Clone(in.cur.RawKey()),
		value: bytes.Clone(in.cur.RawValue()),
		rank:  rank,
	}, true
}

// precedence lists source indices in fold order: the seed, then every
// other source as listed.
func (m *merger[T]) precedence() []int {
	order := make([]int, 0, len(m.sources))
	order = append(order, m.seed)
	for i := range m.sources {
		if i != m.seed {
			order = append(order, i)
		}
	}
	return order
}

func (m *merger[T]) mergeKWay() (err error) {
	order := m.precedence()
	inputs := make([]*mergeInput, len(order))
	defer func() {
		var errs error
		for _, in := range inputs {
			if in == nil {
				continue
			}
			if in.tx != nil {
				in.tx.rollback()
			}
			if cerr := in.store.Close(); cerr != nil {
				errs = multierror.Append(errs, cerr)
			}
		}
		if errs != nil {
			err = multierror.Append(err, errs).ErrorOrNil()
		}
	}()

	h := make(mergeHeap, 0, len(order))
	for rank, i := range order {
		src, err := Open(m.sources[i], m.kind, m.opt.sourceOptions())
		if err != nil {
			return err
		}
		in := &mergeInput{store: src}
		inputs[rank] = in
		if in.tx, err = src.beginView(); err != nil {
			return err
		}
		in.cur = in.tx.Cursor()
		if e, ok := in.next(rank); ok {
			h = append(h, e)
		}
	}
	heap.Init(&h)

	wopt := m.opt.StoreOptions
	wopt.ReadOnly, wopt.CreateIfMissing = false, true
	running, err := Open(m.temp, m.kind, wopt)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := running.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	w, err := running.NewWriter()
	if err != nil {
		return err
	}
	defer w.Close()

	for h.Len() > 0 {
		e := heap.Pop(&h).(mergeElem)
		if ne, ok := inputs[e.rank].next(e.rank); ok {
			heap.Push(&h, ne)
		}
		if e.rank != 0 {
			m.progress()
		}
		key, acc := e.key, e.value
		for h.Len() > 0 && bytes.Equal(h[0].key, key) {
			o := heap.Pop(&h).(mergeElem)
			if ne, ok := inputs[o.rank].next(o.rank); ok {
				heap.Push(&h, ne)
			}
			merged, merr := m.kind.MergeRaw(nil, acc, o.value, m.report)
			if merr != nil {
				return storeErrf(m.sources[order[o.rank]], "merge", nil, merr)
			}
			acc = merged
			m.progress()
		}
		if err := w.Apply(func(tx *Tx) error { return tx.putEncoded(key, acc) }); err != nil {
			return err
		}
		m.result.Keys++
	}
	if err := w.Close(); err != nil {
		return err
	}
	return running.CompactFull(m.target)
}
