package alleledb

// Writer spreads a long stream of writes over a series of transactions,
// committing every Options.TxMaxRecords operations so that bbolt's dirty
// pages never grow past one batch. Reads made through the writer's current
// transaction see every earlier write.
//
// A store has at most one Writer at a time.
type Writer struct {
	store   *Store
	tx      *Tx
	pending int
	max     int
	total   uint64
	err     error
}

func (s *Store) NewWriter() (*Writer, error) {
	if err := s.checkWritable("write"); err != nil {
		return nil, err
	}
	if s.writer != nil {
		panic("store already has an open writer")
	}
	w := &Writer{store: s, max: s.opt.TxMaxRecords}
	s.writer = w
	return w, nil
}

// Apply runs f inside the current batch transaction and counts it as one
// operation. After the first error the writer is unusable.
func (w *Writer) Apply(f func(tx *Tx) error) error {
	if w.err != nil {
		return w.err
	}
	if w.tx == nil {
		tx, err := w.store.beginUpdate()
		if err != nil {
			w.err = err
			return err
		}
		w.tx = tx
	}
	if err := safelyCall(f, w.tx); err != nil {
		w.fail(err)
		return err
	}
	w.pending++
	w.total++
	if w.pending >= w.max {
		return w.Flush()
	}
	return nil
}

// Flush commits the current batch, if any.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.tx, w.pending = nil, 0
	if err := tx.commit(); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Total is the number of operations applied so far.
func (w *Writer) Total() uint64 {
	return w.total
}

func (w *Writer) fail(err error) {
	w.err = err
	if w.tx != nil {
		w.tx.rollback()
		w.tx = nil
	}
}

// Close commits the last batch and detaches the writer from its store.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.tx != nil {
		w.tx.rollback()
		w.tx = nil
	}
	if w.store.writer == w {
		w.store.writer = nil
	}
	return err
}
