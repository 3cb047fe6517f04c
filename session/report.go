package session

import (
	"sort"

	"github.com/anupcshan/romcheck/checksum"
	"github.com/anupcshan/romcheck/diag"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

type RegionReport struct {
	Name       string             `cbor:"name"`
	Algorithm  checksum.Algorithm `cbor:"algorithm"`
	Start      int                `cbor:"start"`
	End        int                `cbor:"end"`
	Stored     uint32             `cbor:"stored"`
	Calculated uint32             `cbor:"calculated"`
	Match      bool               `cbor:"match"`
}

type RecordCount struct {
	Type  uint8  `cbor:"type"`
	Name  string `cbor:"name"`
	Count int    `cbor:"count"`
}

type Report struct {
	ID      string `cbor:"id"`
	Source  string `cbor:"source"`
	Profile string `cbor:"profile"`
	Format  string `cbor:"format"`

	Lines            int           `cbor:"lines"`
	Records          []RecordCount `cbor:"records"`
	Skipped          int           `cbor:"skipped"`
	ChecksumWarnings int           `cbor:"checksum_warnings"`
	BytesWritten     int           `cbor:"bytes_written"`
	FailedWrites     int           `cbor:"failed_writes"`
	FailureMin       int           `cbor:"failure_min"`
	FailureMax       int           `cbor:"failure_max"`

	Checksums     []RegionReport `cbor:"checksums"`
	EmptyPages    []int          `cbor:"empty_pages"`
	ModifiedPages []int          `cbor:"modified_pages"`
	Diagnostics   []diag.Message `cbor:"diagnostics"`
}

func (s *Session) Report() *Report {
	r := &Report{
		ID:            s.ID.String(),
		Source:        s.source,
		Profile:       s.Profile.Name,
		EmptyPages:    s.mem.EmptyPages(),
		ModifiedPages: s.mem.ModifiedPages(),
		Diagnostics:   s.recorder.Messages(),
		FailureMin:    -1,
		FailureMax:    -1,
	}

	if res := s.result; res != nil {
		r.Format = string(res.Format)
		r.Lines = res.Lines
		r.Skipped = res.Skipped
		r.ChecksumWarnings = res.ChecksumWarnings
		r.BytesWritten = res.BytesWritten
		r.FailedWrites = res.FailedWrites
		r.FailureMin = res.FailureMin
		r.FailureMax = res.FailureMax

		for recType, n := range res.Records {
			r.Records = append(r.Records, RecordCount{Type: uint8(recType), Name: recType.String(), Count: n})
		}
		sort.Slice(r.Records, func(i, j int) bool {
			return r.Records[i].Type < r.Records[j].Type
		})
	}

	for _, c := range s.checksums {
		r.Checksums = append(r.Checksums, RegionReport{
			Name:       c.Region.Name,
			Algorithm:  c.Region.Algorithm,
			Start:      c.Region.Start,
			End:        c.Region.EffectiveEnd(),
			Stored:     c.Stored,
			Calculated: c.Calculated,
			Match:      c.Match,
		})
	}
	return r
}

// Mismatches counts the regions whose stored checksum is wrong.
func (r *Report) Mismatches() int {
	n := 0
	for _, c := range r.Checksums {
		if !c.Match {
			n++
		}
	}
	return n
}

type plainReport Report

func (r *Report) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal((*plainReport)(r))
}

func (r *Report) UnmarshalCBOR(b []byte) error {
	return cbor.Unmarshal(b, (*plainReport)(r))
}

// Protobuf field numbers of a report.
const (
	fieldID               protowire.Number = 1
	fieldSource           protowire.Number = 2
	fieldProfile          protowire.Number = 3
	fieldFormat           protowire.Number = 4
	fieldLines            protowire.Number = 5
	fieldSkipped          protowire.Number = 6
	fieldChecksumWarnings protowire.Number = 7
	fieldBytesWritten     protowire.Number = 8
	fieldFailedWrites     protowire.Number = 9
	fieldFailureMin       protowire.Number = 10 // sint64
	fieldFailureMax       protowire.Number = 11 // sint64
	fieldChecksums        protowire.Number = 12
	fieldEmptyPages       protowire.Number = 13 // packed
	fieldModifiedPages    protowire.Number = 14 // packed
	fieldDiagnostics      protowire.Number = 15
	fieldRecords          protowire.Number = 16
)

// RegionReport fields.
const (
	fieldRegionName       protowire.Number = 1
	fieldRegionAlgorithm  protowire.Number = 2
	fieldRegionStart      protowire.Number = 3
	fieldRegionEnd        protowire.Number = 4
	fieldRegionStored     protowire.Number = 5 // fixed32
	fieldRegionCalculated protowire.Number = 6 // fixed32
	fieldRegionMatch      protowire.Number = 7
)

// diag.Message fields.
const (
	fieldMessageText      protowire.Number = 1
	fieldMessageReceived  protowire.Number = 2
	fieldMessageTimestamp protowire.Number = 3
)

// RecordCount fields.
const (
	fieldRecordType  protowire.Number = 1
	fieldRecordName  protowire.Number = 2
	fieldRecordCount protowire.Number = 3
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPacked(b []byte, num protowire.Number, vs []int) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

// MarshalProto encodes the report in protobuf wire format.
func (r *Report) MarshalProto() ([]byte, error) {
	var b []byte
	b = appendString(b, fieldID, r.ID)
	b = appendString(b, fieldSource, r.Source)
	b = appendString(b, fieldProfile, r.Profile)
	b = appendString(b, fieldFormat, r.Format)
	b = appendVarint(b, fieldLines, uint64(r.Lines))
	b = appendVarint(b, fieldSkipped, uint64(r.Skipped))
	b = appendVarint(b, fieldChecksumWarnings, uint64(r.ChecksumWarnings))
	b = appendVarint(b, fieldBytesWritten, uint64(r.BytesWritten))
	b = appendVarint(b, fieldFailedWrites, uint64(r.FailedWrites))
	b = appendSint(b, fieldFailureMin, int64(r.FailureMin))
	b = appendSint(b, fieldFailureMax, int64(r.FailureMax))

	for _, c := range r.Checksums {
		var m []byte
		m = appendString(m, fieldRegionName, c.Name)
		m = appendString(m, fieldRegionAlgorithm, string(c.Algorithm))
		m = appendVarint(m, fieldRegionStart, uint64(c.Start))
		m = appendVarint(m, fieldRegionEnd, uint64(c.End))
		m = protowire.AppendTag(m, fieldRegionStored, protowire.Fixed32Type)
		m = protowire.AppendFixed32(m, c.Stored)
		m = protowire.AppendTag(m, fieldRegionCalculated, protowire.Fixed32Type)
		m = protowire.AppendFixed32(m, c.Calculated)
		m = appendBool(m, fieldRegionMatch, c.Match)
		b = appendMessage(b, fieldChecksums, m)
	}

	b = appendPacked(b, fieldEmptyPages, r.EmptyPages)
	b = appendPacked(b, fieldModifiedPages, r.ModifiedPages)

	for _, d := range r.Diagnostics {
		var m []byte
		m = appendString(m, fieldMessageText, d.Text)
		m = appendBool(m, fieldMessageReceived, d.Received)
		m = appendBool(m, fieldMessageTimestamp, d.Timestamp)
		b = appendMessage(b, fieldDiagnostics, m)
	}

	for _, rc := range r.Records {
		var m []byte
		m = appendVarint(m, fieldRecordType, uint64(rc.Type))
		m = appendString(m, fieldRecordName, rc.Name)
		m = appendVarint(m, fieldRecordCount, uint64(rc.Count))
		b = appendMessage(b, fieldRecords, m)
	}

	return b, nil
}

var errMalformed = errors.New("malformed report")

// walkFields calls fn for every top level field in b. Varint and fixed
// values arrive in v, length delimited payloads in payload.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(errMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]

		var (
			v       uint64
			payload []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(b)
			v = uint64(v32)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			payload, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(errMalformed, "field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, v, payload); err != nil {
			return err
		}
	}
	return nil
}

func unpackInts(payload []byte) ([]int, error) {
	var out []int
	for len(payload) > 0 {
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			return nil, errors.Wrap(errMalformed, protowire.ParseError(n).Error())
		}
		out = append(out, int(v))
		payload = payload[n:]
	}
	return out, nil
}

// UnmarshalProto decodes a report written by MarshalProto. Unknown fields
// are skipped.
func (r *Report) UnmarshalProto(b []byte) error {
	*r = Report{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case fieldID:
			r.ID = string(payload)
		case fieldSource:
			r.Source = string(payload)
		case fieldProfile:
			r.Profile = string(payload)
		case fieldFormat:
			r.Format = string(payload)
		case fieldLines:
			r.Lines = int(v)
		case fieldSkipped:
			r.Skipped = int(v)
		case fieldChecksumWarnings:
			r.ChecksumWarnings = int(v)
		case fieldBytesWritten:
			r.BytesWritten = int(v)
		case fieldFailedWrites:
			r.FailedWrites = int(v)
		case fieldFailureMin:
			r.FailureMin = int(protowire.DecodeZigZag(v))
		case fieldFailureMax:
			r.FailureMax = int(protowire.DecodeZigZag(v))
		case fieldChecksums:
			var c RegionReport
			if err := walkFields(payload, func(num protowire.Number, _ protowire.Type, v uint64, payload []byte) error {
				switch num {
				case fieldRegionName:
					c.Name = string(payload)
				case fieldRegionAlgorithm:
					c.Algorithm = checksum.Algorithm(payload)
				case fieldRegionStart:
					c.Start = int(v)
				case fieldRegionEnd:
					c.End = int(v)
				case fieldRegionStored:
					c.Stored = uint32(v)
				case fieldRegionCalculated:
					c.Calculated = uint32(v)
				case fieldRegionMatch:
					c.Match = protowire.DecodeBool(v)
				}
				return nil
			}); err != nil {
				return err
			}
			r.Checksums = append(r.Checksums, c)
		case fieldEmptyPages, fieldModifiedPages:
			if typ != protowire.BytesType {
				return errors.Wrapf(errMalformed, "field %d is not packed", num)
			}
			pages, err := unpackInts(payload)
			if err != nil {
				return err
			}
			if num == fieldEmptyPages {
				r.EmptyPages = append(r.EmptyPages, pages...)
			} else {
				r.ModifiedPages = append(r.ModifiedPages, pages...)
			}
		case fieldDiagnostics:
			var d diag.Message
			if err := walkFields(payload, func(num protowire.Number, _ protowire.Type, v uint64, payload []byte) error {
				switch num {
				case fieldMessageText:
					d.Text = string(payload)
				case fieldMessageReceived:
					d.Received = protowire.DecodeBool(v)
				case fieldMessageTimestamp:
					d.Timestamp = protowire.DecodeBool(v)
				}
				return nil
			}); err != nil {
				return err
			}
			r.Diagnostics = append(r.Diagnostics, d)
		case fieldRecords:
			var rc RecordCount
			if err := walkFields(payload, func(num protowire.Number, _ protowire.Type, v uint64, payload []byte) error {
				switch num {
				case fieldRecordType:
					rc.Type = uint8(v)
				case fieldRecordName:
					rc.Name = string(payload)
				case fieldRecordCount:
					rc.Count = int(v)
				}
				return nil
			}); err != nil {
				return err
			}
			r.Records = append(r.Records, rc)
		}
		return nil
	})
}
