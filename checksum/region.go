package checksum

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

type Algorithm string

const (
	AlgorithmSum       Algorithm = "sum"
	AlgorithmCRC32     Algorithm = "crc32"
	AlgorithmCRC32Byte Algorithm = "crc32-byte"
)

// StoredSize is the size of a stored checksum.
const StoredSize = 4

var ErrInvalidRegion = errors.New("invalid checksum region")

// Region is a checksummed address range. End is exclusive. The checksum is
// stored in the four bytes at EffectiveEnd: right after the region, or, with
// IgnoreLastFour, in the region's own last four bytes.
type Region struct {
	Name           string
	Algorithm      Algorithm
	Start          int
	End            int
	IgnoreLastFour bool
}

func (r Region) EffectiveEnd() int {
	if r.IgnoreLastFour {
		return r.End - StoredSize
	}
	return r.End
}

func (r Region) StoredAt() int {
	return r.EffectiveEnd()
}

func (r Region) String() string {
	return fmt.Sprintf("%s [%#06x, %#06x) %s", r.Name, r.Start, r.EffectiveEnd(), r.Algorithm)
}

func (r Region) Validate(size int) error {
	switch r.Algorithm {
	case AlgorithmSum, AlgorithmCRC32, AlgorithmCRC32Byte:
	default:
		return errors.Wrapf(ErrInvalidRegion, "%s: unknown algorithm %q", r.Name, r.Algorithm)
	}

	if r.Start < 0 || r.EffectiveEnd() < r.Start {
		return errors.Wrapf(ErrInvalidRegion, "%s: bad bounds [%#x, %#x)", r.Name, r.Start, r.EffectiveEnd())
	}
	if r.StoredAt()+StoredSize > size {
		return errors.Wrapf(ErrInvalidRegion, "%s: checksum at %#x outside memory of %#x bytes", r.Name, r.StoredAt(), size)
	}
	return nil
}

func (r Region) byteOrder() binary.ByteOrder {
	if r.Algorithm == AlgorithmSum {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Bytes renders v the way the region stores it.
func (r Region) Bytes(v uint32) [StoredSize]byte {
	var out [StoredSize]byte
	r.byteOrder().PutUint32(out[:], v)
	return out
}

// Compute returns the checksum of the region's contents, or Sentinel if the
// region does not fit mem.
func (r Region) Compute(mem Memory) uint32 {
	switch r.Algorithm {
	case AlgorithmSum:
		return SimpleSum(mem, r.Start, r.EffectiveEnd())
	case AlgorithmCRC32Byte:
		return CRC32(mem, r.Start, r.EffectiveEnd(), ModeByte)
	default:
		return CRC32(mem, r.Start, r.EffectiveEnd(), ModeWord)
	}
}

func (r Region) Stored(mem Memory) (uint32, error) {
	raw := mem.ReadRange(r.StoredAt(), r.StoredAt()+StoredSize)
	if len(raw) != StoredSize {
		return Sentinel, errors.Wrapf(ErrInvalidRegion, "%s: cannot read checksum at %#x", r.Name, r.StoredAt())
	}
	return r.byteOrder().Uint32(raw), nil
}

type Result struct {
	Region     Region
	Stored     uint32
	Calculated uint32
	Match      bool
}

func (r Result) String() string {
	status := "ok"
	if !r.Match {
		status = "MISMATCH"
	}
	return fmt.Sprintf("%s: stored 0x%08x calculated 0x%08x %s", r.Region, r.Stored, r.Calculated, status)
}

func Verify(mem Memory, r Region) (Result, error) {
	if err := r.Validate(mem.Size()); err != nil {
		return Result{Region: r, Stored: Sentinel, Calculated: Sentinel}, err
	}

	stored, err := r.Stored(mem)
	if err != nil {
		return Result{Region: r, Stored: Sentinel, Calculated: Sentinel}, err
	}

	calculated := r.Compute(mem)
	return Result{
		Region:     r,
		Stored:     stored,
		Calculated: calculated,
		Match:      stored == calculated,
	}, nil
}

// Fix writes the calculated checksum over the stored one. Running it twice
// leaves the same bytes behind.
func Fix(mem Memory, r Region) (Result, error) {
	res, err := Verify(mem, r)
	if err != nil || res.Match {
		return res, err
	}

	b := r.Bytes(res.Calculated)
	if _, err := mem.WriteAt(b[:], int64(r.StoredAt())); err != nil {
		return res, errors.Wrapf(err, "%s: writing checksum", r.Name)
	}

	return Verify(mem, r)
}
