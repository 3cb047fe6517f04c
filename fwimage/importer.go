// Package fwimage loads firmware images into a memory buffer and writes
// buffer pages back out as Intel HEX.
package fwimage

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anupcshan/romcheck/diag"
	"github.com/anupcshan/romcheck/intelhex"
	"github.com/anupcshan/romcheck/membuf"
	"github.com/pkg/errors"
)

var (
	ErrOpenInput     = errors.New("could not open input file")
	ErrInvalidOffset = errors.New("negative binary offset")
)

type Format string

const (
	FormatHex    Format = "hex"
	FormatBinary Format = "bin"
)

func FormatOf(fName string) Format {
	if strings.EqualFold(filepath.Ext(fName), ".bin") {
		return FormatBinary
	}
	return FormatHex
}

// noFailure marks an empty failed-write range. Addresses are never
// negative since Import rejects negative binary offsets.
const noFailure = -1

type Result struct {
	Path   string
	Format Format

	Lines            int
	Records          map[intelhex.RecordType]int
	Skipped          int
	LineErrors       map[string]int
	ChecksumWarnings int
	SawEOF           bool

	BytesWritten int
	FailedWrites int
	FailureMin   int
	FailureMax   int

	Duration time.Duration
}

func newResult(fName string, format Format) *Result {
	return &Result{
		Path:       fName,
		Format:     format,
		Records:    map[intelhex.RecordType]int{},
		LineErrors: map[string]int{},
		FailureMin: noFailure,
		FailureMax: noFailure,
	}
}

func (r *Result) HasFailures() bool {
	return r.FailedWrites > 0
}

func (r *Result) recordFailure(first, last int) {
	if last < first {
		return
	}
	r.FailedWrites += last - first + 1
	if r.FailureMin == noFailure || first < r.FailureMin {
		r.FailureMin = first
	}
	if last > r.FailureMax {
		r.FailureMax = last
	}
}

// LineErrorKind names the reason a line was skipped.
func LineErrorKind(err error) string {
	switch {
	case errors.Is(err, intelhex.ErrNoMarker):
		return "no-marker"
	case errors.Is(err, intelhex.ErrLineTooShort):
		return "too-short"
	case errors.Is(err, intelhex.ErrOddLength):
		return "odd-length"
	case errors.Is(err, intelhex.ErrInvalidHex):
		return "invalid-hex"
	case errors.Is(err, intelhex.ErrLineTooLong):
		return "too-long"
	}
	return "other"
}

// ChecksumErrorKind is the LineErrors key for records applied despite a
// line checksum mismatch.
const ChecksumErrorKind = "checksum"

type importOptions struct {
	binaryOffset int
	overwrite    bool
}

type Option func(*importOptions)

// WithBinaryOffset sets the load address of raw binary images.
func WithBinaryOffset(offset int) Option {
	return func(o *importOptions) {
		o.binaryOffset = offset
	}
}

// WithOverwrite layers the image on top of the current buffer contents
// instead of erasing it first.
func WithOverwrite() Option {
	return func(o *importOptions) {
		o.overwrite = true
	}
}

type Importer struct {
	mem  *membuf.MemBuffer
	sink diag.Sink
}

func NewImporter(mem *membuf.MemBuffer, sink diag.Sink) *Importer {
	return &Importer{
		mem:  mem,
		sink: diag.OrNop(sink),
	}
}

func (i *Importer) Memory() *membuf.MemBuffer {
	return i.mem
}

// Import loads fName into the buffer. Files ending in .bin are copied
// verbatim to the binary offset, anything else is decoded as Intel HEX.
//
// Malformed lines and writes outside the buffer are reported to the sink
// and counted in the result; they do not fail the import. The returned
// error is ErrInvalidOffset, ErrOpenInput, a read failure or ctx.Err().
func (i *Importer) Import(ctx context.Context, fName string, opts ...Option) (*Result, error) {
	var o importOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	res := newResult(fName, FormatOf(fName))
	if o.binaryOffset < 0 {
		return res, errors.Wrapf(ErrInvalidOffset, "%d", o.binaryOffset)
	}

	f, err := os.Open(fName)
	if err != nil {
		return res, errors.Wrapf(ErrOpenInput, "%s: %v", fName, err)
	}
	defer f.Close()

	if !o.overwrite {
		i.mem.Init()
	}

	if res.Format == FormatBinary {
		err = i.importBinary(ctx, f, o.binaryOffset, res)
	} else {
		err = i.importHex(ctx, f, res)
	}

	if res.HasFailures() {
		diag.Printf(i.sink, "%d bytes outside memory not written: 0x%X - 0x%X", res.FailedWrites, res.FailureMin, res.FailureMax)
	}
	res.Duration = time.Since(start)
	return res, err
}

func (i *Importer) write(addr int, data []byte, res *Result) {
	if len(data) == 0 {
		return
	}

	n, err := i.mem.WriteAt(data, int64(addr))
	res.BytesWritten += n
	if err != nil {
		res.recordFailure(addr+n, addr+len(data)-1)
	}
}

func (i *Importer) importBinary(ctx context.Context, r io.Reader, offset int, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "reading %s", res.Path)
	}

	i.write(offset, data, res)
	return nil
}

// decodeState is the address state carried between records of one import.
type decodeState struct {
	baseAddress uint32
}

func (i *Importer) importHex(ctx context.Context, r io.Reader, res *Result) error {
	var state decodeState
	parser := intelhex.NewParser(r)

	for {
		if err := ctx.Err(); err != nil {
			res.Lines = parser.Line()
			return err
		}

		rec, err := parser.ReadRecord()
		if err == io.EOF {
			break
		}

		var lineErr *intelhex.LineError
		if errors.As(err, &lineErr) {
			res.Skipped++
			res.LineErrors[LineErrorKind(lineErr.Err)]++
			diag.Printf(i.sink, "%v. line skipped", lineErr)
			continue
		}
		if err != nil {
			res.Lines = parser.Line()
			return err
		}

		res.Records[rec.RecType]++
		if !rec.ChecksumValid() {
			res.ChecksumWarnings++
			res.LineErrors[ChecksumErrorKind]++
			diag.Printf(i.sink, "WARNING: line %d checksum failure: got %02X, expected %02X", parser.Line(), rec.Checksum, rec.ComputeChecksum())
		}

		i.apply(&state, parser.Line(), rec, res)
	}

	res.Lines = parser.Line()
	res.SawEOF = parser.SawEOF()
	return nil
}

func (i *Importer) apply(state *decodeState, line int, rec intelhex.Record, res *Result) {
	switch rec.RecType {
	case intelhex.RecordData:
		i.write(int(state.baseAddress)+int(rec.Offset), rec.Body, res)
	case intelhex.RecordEOF:
		diag.Printf(i.sink, "end of file at line %d", line)
	case intelhex.RecordExtendedSegmentAddress:
		if base, ok := rec.SegmentBase(); ok {
			state.baseAddress = base
		}
	case intelhex.RecordStartSegmentAddress:
		diag.Printf(i.sink, "program execution start address: %s", strings.ToUpper(hex.EncodeToString(rec.Body)))
	case intelhex.RecordExtendedLinearAddress:
		diag.Printf(i.sink, "program linear address (extended): %s", strings.ToUpper(hex.EncodeToString(rec.Body)))
	case intelhex.RecordStartLinearAddress:
		diag.Printf(i.sink, "program linear address: %s", strings.ToUpper(hex.EncodeToString(rec.Body)))
	}
}
