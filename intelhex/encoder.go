package intelhex

import (
	"encoding/hex"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultLineWidth = 16

	// maxSegmentedAddress is the end of the space reachable through
	// extended segment address records.
	maxSegmentedAddress = 0x100000
)

var ErrAddressTooLarge = errors.New("address not representable with segment records")

// EncodeLine renders r as a record line without the trailing newline. The
// length and checksum fields are derived from the body.
func EncodeLine(r Record) string {
	r.Length = uint8(len(r.Body))
	r.Checksum = r.ComputeChecksum()

	var sb strings.Builder
	sb.WriteByte(StartCode)
	sb.WriteString(strings.ToUpper(hex.EncodeToString(r.header())))
	sb.WriteString(strings.ToUpper(hex.EncodeToString(r.Body)))
	sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{r.Checksum})))
	return sb.String()
}

type Encoder struct {
	r io.ReaderAt
	w io.Writer

	lineWidth   int
	segmentBase int64
}

func NewEncoder(r io.ReaderAt, w io.Writer) *Encoder {
	return &Encoder{
		r:         r,
		w:         w,
		lineWidth: DefaultLineWidth,
	}
}

func (e *Encoder) EncodeRecord(r Record) error {
	if len(r.Body) > 0xFF {
		return errors.Errorf("record body of %d bytes does not fit a record", len(r.Body))
	}
	_, err := io.WriteString(e.w, EncodeLine(r)+"\n")
	return err
}

func (e *Encoder) EncodeRecords(records []Record) error {
	for _, record := range records {
		if err := e.EncodeRecord(record); err != nil {
			return err
		}
	}
	return nil
}

// EncodeRange writes [start, end) of the underlying reader as data records
// of at most lineWidth bytes. Addresses at or above 64 KiB are preceded by
// an extended segment address record.
func (e *Encoder) EncodeRange(start, end int64) error {
	if start < 0 || end < start {
		return errors.Errorf("invalid range [%#x, %#x)", start, end)
	}
	if end > maxSegmentedAddress {
		return errors.Wrapf(ErrAddressTooLarge, "end %#x", end)
	}

	body := make([]byte, e.lineWidth)
	for addr := start; addr < end; {
		base := addr &^ 0xFFFF
		if base != e.segmentBase {
			segment := uint16(base >> 4)
			if err := e.EncodeRecord(Record{
				RecType: RecordExtendedSegmentAddress,
				Body:    []byte{byte(segment >> 8), byte(segment)},
			}); err != nil {
				return err
			}
			e.segmentBase = base
		}

		n := min(int64(e.lineWidth), end-addr, base+0x10000-addr)
		if _, err := e.r.ReadAt(body[:n], addr); err != nil && err != io.EOF {
			return errors.Wrapf(err, "reading %d bytes at %#x", n, addr)
		}

		if err := e.EncodeRecord(Record{
			Offset:  uint16(addr - base),
			RecType: RecordData,
			Body:    body[:n],
		}); err != nil {
			return err
		}
		addr += n
	}

	return nil
}
