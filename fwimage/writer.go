package fwimage

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/anupcshan/romcheck/intelhex"
	"github.com/anupcshan/romcheck/membuf"
	"github.com/pkg/errors"
)

const (
	// HeaderLine selects the STM32 flash base 0x0800_0000.
	HeaderLine = ":020000040800F2"
	FooterLine = ":00000001FF"
)

var (
	ErrNoData     = errors.New("no data in range")
	ErrOpenOutput = errors.New("could not open output file")
	ErrWrite      = errors.New("write failure")
)

type writeOptions struct {
	perm       os.FileMode
	allowEmpty bool
}

type WriteOption func(*writeOptions)

func WithFileMode(perm os.FileMode) WriteOption {
	return func(o *writeOptions) {
		o.perm = perm
	}
}

// WithEmptyRange writes the page range even if every byte in it is erased.
func WithEmptyRange() WriteOption {
	return func(o *writeOptions) {
		o.allowEmpty = true
	}
}

// EncodePages writes pages [first, last] of mem to w: the header line, the
// data records and the end of file line.
func EncodePages(w io.Writer, mem *membuf.MemBuffer, first, last int) error {
	start, _, err := mem.PageBounds(first)
	if err != nil {
		return errors.Wrapf(ErrNoData, "first page: %v", err)
	}
	_, end, err := mem.PageBounds(last)
	if err != nil {
		return errors.Wrapf(ErrNoData, "last page: %v", err)
	}
	if end <= start {
		return errors.Wrapf(ErrNoData, "pages %d-%d", first, last)
	}

	if _, err := io.WriteString(w, HeaderLine+"\n"); err != nil {
		return errors.Wrap(ErrWrite, err.Error())
	}
	if err := intelhex.NewEncoder(mem, w).EncodeRange(int64(start), int64(end)); err != nil {
		return errors.Wrap(ErrWrite, err.Error())
	}
	if _, err := io.WriteString(w, FooterLine+"\n"); err != nil {
		return errors.Wrap(ErrWrite, err.Error())
	}
	return nil
}

func rangeIsEmpty(mem *membuf.MemBuffer, first, last int) bool {
	for page := first; page <= last; page++ {
		if !mem.PageIsEmpty(page) {
			return false
		}
	}
	return true
}

// WritePages writes pages [first, last] of mem to fName as Intel HEX. The
// file is written to a temporary name in the same directory and renamed
// into place, so a failed write leaves no partial output behind.
func WritePages(fName string, mem *membuf.MemBuffer, first, last int, opts ...WriteOption) error {
	o := writeOptions{perm: 0644}
	for _, opt := range opts {
		opt(&o)
	}

	if first < 0 || last >= mem.PageCount() || last < first {
		return errors.Wrapf(ErrNoData, "pages %d-%d of %d", first, last, mem.PageCount())
	}
	if !o.allowEmpty && rangeIsEmpty(mem, first, last) {
		return errors.Wrapf(ErrNoData, "pages %d-%d are erased", first, last)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fName), ".tmp-*")
	if err != nil {
		return errors.Wrapf(ErrOpenOutput, "%s: %v", fName, err)
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := EncodePages(bw, mem, first, last); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, fName)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(ErrWrite, "%s: %v", fName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(ErrWrite, "%s: %v", fName, err)
	}
	if err := os.Chmod(tmpName, o.perm); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(ErrWrite, "%s: %v", fName, err)
	}
	if err := os.Rename(tmpName, fName); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(ErrWrite, "%s: %v", fName, err)
	}
	return nil
}
