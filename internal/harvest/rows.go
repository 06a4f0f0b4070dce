package harvest

import (
	"sync"

	"pgharvest/internal/extract"
)

// listBuffer accumulates list-page rows across workers. Consumed once by the
// sequencer after the list stage drains.
type listBuffer struct {
	mu   sync.Mutex
	rows []extract.ListRow
}

func (b *listBuffer) Append(rows ...extract.ListRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, rows...)
}

func (b *listBuffer) Rows() []extract.ListRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]extract.ListRow, len(b.rows))
	copy(out, b.rows)
	return out
}

// detailRow is one extracted detail record plus the task context needed for
// the final CSV join.
type detailRow struct {
	URL     string
	Intent  string
	Segment string
	Record  extract.Record
}

type detailBuffer struct {
	mu   sync.Mutex
	rows []detailRow
}

func (b *detailBuffer) Append(r detailRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, r)
}

func (b *detailBuffer) Rows() []detailRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]detailRow, len(b.rows))
	copy(out, b.rows)
	return out
}
