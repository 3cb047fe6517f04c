package membuf

import (
	"bytes"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// EraseValue is the content of a flash byte that was never programmed.
const EraseValue = 0xFF

const (
	DefaultSize     = 0x10000
	DefaultPageSize = 0x800
)

var (
	ErrOutOfRange   = errors.New("address out of range")
	ErrInvalidValue = errors.New("value does not fit in a byte")
	ErrInvalidPage  = errors.New("invalid page id")
	ErrGeometry     = errors.New("page size must evenly divide memory size")
)

// MemBuffer simulates the flash of a processor. Every byte starts out erased
// and each page remembers whether it has been written since the last Init.
type MemBuffer struct {
	buf      []byte
	pageSize int
	modified *bitset.BitSet
}

func NewMemBuffer(size, pageSize int) (*MemBuffer, error) {
	if size <= 0 || pageSize <= 0 || size%pageSize != 0 {
		return nil, errors.Wrapf(ErrGeometry, "size %#x, page size %#x", size, pageSize)
	}

	m := &MemBuffer{
		buf:      make([]byte, size),
		pageSize: pageSize,
		modified: bitset.New(uint(size / pageSize)),
	}
	m.Init()

	return m, nil
}

// Init erases the whole buffer and forgets which pages were modified.
func (m *MemBuffer) Init() {
	for i := range m.buf {
		m.buf[i] = EraseValue
	}
	m.modified.ClearAll()
}

func (m *MemBuffer) Size() int     { return len(m.buf) }
func (m *MemBuffer) PageSize() int { return m.pageSize }
func (m *MemBuffer) PageCount() int {
	return len(m.buf) / m.pageSize
}

func (m *MemBuffer) markModified(addr int) {
	m.modified.Set(uint(addr / m.pageSize))
}

// SetByte stores value at addr. The value is an int so that callers holding
// wider integers get ErrInvalidValue instead of a silent truncation.
func (m *MemBuffer) SetByte(addr int, value int) error {
	if addr < 0 || addr >= len(m.buf) {
		return errors.Wrapf(ErrOutOfRange, "write at %#x", addr)
	}
	if value < 0 || value > 0xFF {
		return errors.Wrapf(ErrInvalidValue, "write of %d at %#x", value, addr)
	}

	m.buf[addr] = byte(value)
	m.markModified(addr)
	return nil
}

func (m *MemBuffer) Byte(addr int) (byte, error) {
	if addr < 0 || addr >= len(m.buf) {
		return 0, errors.Wrapf(ErrOutOfRange, "read at %#x", addr)
	}
	return m.buf[addr], nil
}

func clamp[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WriteAt copies p into the buffer at off. A run that starts inside the
// buffer but extends past its end is truncated: the in-range prefix is
// written and ErrOutOfRange is returned along with the short count.
func (m *MemBuffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.buf)) {
		return 0, errors.Wrapf(ErrOutOfRange, "write of %d bytes at %#x", len(p), off)
	}

	end := clamp(off+int64(len(p)), off, int64(len(m.buf)))
	n := copy(m.buf[off:end], p)
	if n > 0 {
		for page := int(off) / m.pageSize; page <= (int(off)+n-1)/m.pageSize; page++ {
			m.modified.Set(uint(page))
		}
	}

	if n < len(p) {
		return n, errors.Wrapf(ErrOutOfRange, "write of %d bytes at %#x truncated to %d", len(p), off, n)
	}
	return n, nil
}

// ReadRange returns a copy of [start, end). Invalid bounds give nil; there
// are no partial reads.
func (m *MemBuffer) ReadRange(start, end int) []byte {
	if start < 0 || start >= len(m.buf) || end < start || end > len(m.buf) {
		return nil
	}

	out := make([]byte, end-start)
	copy(out, m.buf[start:end])
	return out
}

func (m *MemBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "read at %#x", off)
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}

	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// PageBounds returns the [start, end) addresses of a page.
func (m *MemBuffer) PageBounds(page int) (int, int, error) {
	if page < 0 || page >= m.PageCount() {
		return 0, 0, errors.Wrapf(ErrInvalidPage, "page %d of %d", page, m.PageCount())
	}
	start := page * m.pageSize
	return start, start + m.pageSize, nil
}

func (m *MemBuffer) PageIsEmpty(page int) bool {
	start, end, err := m.PageBounds(page)
	if err != nil {
		return false
	}

	for _, b := range m.buf[start:end] {
		if b != EraseValue {
			return false
		}
	}
	return true
}

func (m *MemBuffer) EmptyPages() []int {
	var pages []int
	for page := 0; page < m.PageCount(); page++ {
		if m.PageIsEmpty(page) {
			pages = append(pages, page)
		}
	}
	return pages
}

func (m *MemBuffer) PageIsModified(page int) bool {
	if page < 0 || page >= m.PageCount() {
		return false
	}
	return m.modified.Test(uint(page))
}

func (m *MemBuffer) ModifiedPages() []int {
	var pages []int
	for i, ok := m.modified.NextSet(0); ok; i, ok = m.modified.NextSet(i + 1) {
		pages = append(pages, int(i))
	}
	return pages
}

// CopyPage overwrites page to with the contents of page from.
func (m *MemBuffer) CopyPage(from, to int) error {
	fromStart, fromEnd, err := m.PageBounds(from)
	if err != nil {
		return err
	}
	toStart, _, err := m.PageBounds(to)
	if err != nil {
		return err
	}

	src := bytes.Clone(m.buf[fromStart:fromEnd])
	for i, b := range src {
		if err := m.SetByte(toStart+i, int(b)); err != nil {
			return err
		}
	}
	return nil
}

var _ io.WriterAt = (*MemBuffer)(nil)
var _ io.ReaderAt = (*MemBuffer)(nil)
