package intelhex

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

type RecordType uint8

// https://en.wikipedia.org/wiki/Intel_HEX#Record_types
const (
	RecordData                   RecordType = 0x00
	RecordEOF                    RecordType = 0x01
	RecordExtendedSegmentAddress RecordType = 0x02
	RecordStartSegmentAddress    RecordType = 0x03
	RecordExtendedLinearAddress  RecordType = 0x04
	RecordStartLinearAddress     RecordType = 0x05
)

func (t RecordType) String() string {
	switch t {
	case RecordData:
		return "data"
	case RecordEOF:
		return "eof"
	case RecordExtendedSegmentAddress:
		return "extended-segment-address"
	case RecordStartSegmentAddress:
		return "start-segment-address"
	case RecordExtendedLinearAddress:
		return "extended-linear-address"
	case RecordStartLinearAddress:
		return "start-linear-address"
	}
	return fmt.Sprintf("unknown-%02x", uint8(t))
}

const (
	StartCode = ':'

	// MinLineLength is the minimum number of hex characters after the start code.
	MinLineLength = 8

	// count, address (2), type, checksum
	minRecordBytes = 5
)

var (
	ErrNoMarker     = errors.New("invalid line: no marker")
	ErrLineTooShort = errors.New("line too short")
	ErrOddLength    = errors.New("line does not decode into whole bytes")
	ErrInvalidHex   = errors.New("invalid hex data")
	ErrLineTooLong  = errors.New("line too long")
)

type Record struct {
	Length   uint8
	Offset   uint16
	RecType  RecordType
	Body     []byte
	Checksum uint8
}

// Checksum returns the two's complement of the byte sum of p.
func Checksum(p []byte) uint8 {
	var recordSum uint8
	for _, b := range p {
		recordSum += b
	}
	return ^recordSum + 1
}

func (r Record) header() []byte {
	return []byte{r.Length, byte(r.Offset >> 8), byte(r.Offset), byte(r.RecType)}
}

// ComputeChecksum returns the checksum the record should carry.
func (r Record) ComputeChecksum() uint8 {
	return Checksum(append(r.header(), r.Body...))
}

func (r Record) ChecksumValid() bool {
	return r.ComputeChecksum() == r.Checksum
}

// SegmentBase returns the base address carried by an extended segment
// address record.
func (r Record) SegmentBase() (uint32, bool) {
	if r.RecType != RecordExtendedSegmentAddress || len(r.Body) < 2 {
		return 0, false
	}
	return 16 * (uint32(r.Body[0])<<8 | uint32(r.Body[1])), true
}

// DecodeLine parses a single record. A line checksum mismatch is not an
// error; callers decide what to do with ChecksumValid.
func DecodeLine(line string) (Record, error) {
	idx := strings.IndexByte(line, StartCode)
	if idx < 0 {
		return Record{}, ErrNoMarker
	}

	text := line[idx+1:]
	if next := strings.IndexByte(text, StartCode); next >= 0 {
		text = text[:next]
	}
	text = strings.TrimSpace(text)

	if len(text) < MinLineLength {
		return Record{}, errors.Wrapf(ErrLineTooShort, "%d characters", len(text))
	}
	if len(text)%2 != 0 {
		return Record{}, errors.Wrapf(ErrOddLength, "%d characters", len(text))
	}

	data, err := hex.DecodeString(text)
	if err != nil {
		return Record{}, errors.Wrap(ErrInvalidHex, err.Error())
	}
	if len(data) < minRecordBytes {
		return Record{}, errors.Wrapf(ErrLineTooShort, "%d bytes, no checksum", len(data))
	}

	body := make([]byte, len(data)-minRecordBytes)
	copy(body, data[4:len(data)-1])

	return Record{
		Length:   data[0],
		Offset:   uint16(data[1])<<8 | uint16(data[2]),
		RecType:  RecordType(data[3]),
		Body:     body,
		Checksum: data[len(data)-1],
	}, nil
}

// LineError reports a line that was skipped. Parsing can continue with the
// next call to ReadRecord.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type Parser struct {
	reader *bufio.Reader
	line   int
	done   bool
	sawEOF bool
}

// MaxLineLength bounds the text of a single line. Longer lines are skipped.
const MaxLineLength = 1 << 20

func NewParser(r io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReaderSize(r, 4096),
	}
}

// readLine returns the next line without its terminator. A line longer than
// MaxLineLength is consumed in full and reported with tooLong set.
func (p *Parser) readLine() (line []byte, tooLong bool, err error) {
	read := 0
	for {
		chunk, err := p.reader.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			if len(line)+len(chunk) > MaxLineLength+2 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && read > 0:
			return trimEOL(line), tooLong, nil
		case err != nil:
			return nil, false, err
		}
		return trimEOL(line), tooLong, nil
	}
}

func trimEOL(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// ReadRecord decodes the next line. It returns io.EOF once the input is
// exhausted, a *LineError for a line that must be skipped, and any other
// error for a failure of the underlying reader.
func (p *Parser) ReadRecord() (Record, error) {
	text, tooLong, err := p.readLine()
	if err != nil {
		p.done = true
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, errors.Wrapf(err, "reading line %d", p.line+1)
	}
	p.line++

	if tooLong {
		return Record{}, &LineError{Line: p.line, Err: errors.Wrapf(ErrLineTooLong, "more than %d characters", MaxLineLength)}
	}
	if len(text) > MaxLineLength {
		return Record{}, &LineError{Line: p.line, Err: errors.Wrapf(ErrLineTooLong, "%d characters", len(text))}
	}

	rec, err := DecodeLine(string(text))
	if err != nil {
		return Record{}, &LineError{Line: p.line, Text: string(text), Err: err}
	}

	if rec.RecType == RecordEOF {
		p.sawEOF = true
	}
	return rec, nil
}

func (p *Parser) HasNext() bool {
	return !p.done
}

// Line is the number of lines consumed so far.
func (p *Parser) Line() int {
	return p.line
}

// SawEOF reports whether an end-of-file record has been read.
func (p *Parser) SawEOF() bool {
	return p.sawEOF
}
