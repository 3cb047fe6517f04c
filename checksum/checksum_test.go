package checksum

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/anupcshan/romcheck/membuf"
	"github.com/stretchr/testify/require"
)

func newMem(t *testing.T) *membuf.MemBuffer {
	t.Helper()
	m, err := membuf.NewMemBuffer(membuf.DefaultSize, membuf.DefaultPageSize)
	require.NoError(t, err)
	return m
}

func fill(t *testing.T, m *membuf.MemBuffer, off int, data []byte) {
	t.Helper()
	_, err := m.WriteAt(data, int64(off))
	require.NoError(t, err)
}

func TestCRC32ReferenceValues(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		start int
		end   int
		mode  Mode
		want  uint32
	}{
		{name: "erased page words", start: 0, end: 0x800, mode: ModeWord, want: 0x01745503},
		{name: "erased page bytes", start: 0, end: 0x800, mode: ModeByte, want: 0x01745503},
		{name: "zeroed page words", data: make([]byte, 0x800), start: 0, end: 0x800, mode: ModeWord, want: 0x86A2E870},
		{name: "single zero word", data: make([]byte, 4), start: 0, end: 4, mode: ModeWord, want: 0xC704DD7B},
		{name: "check string bytes", data: []byte("123456789"), start: 0, end: 9, mode: ModeByte, want: 0x0376E6E7},
		{name: "erased bootloader area", start: 0, end: 0x17FC, mode: ModeWord, want: 0xC58FF2CF},
		{name: "empty range", start: 0x100, end: 0x100, mode: ModeWord, want: CRC32InitValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMem(t)
			if tt.data != nil {
				fill(t, m, tt.start, tt.data)
			}
			require.Equal(t, tt.want, CRC32(m, tt.start, tt.end, tt.mode), "got %08x", CRC32(m, tt.start, tt.end, tt.mode))
		})
	}
}

func TestCRC32WordIsByteSwappedByteMode(t *testing.T) {
	require.Equal(t, uint32(0x1DABE74F), UpdateWords(CRC32InitValue, []byte{1, 2, 3, 4}))
	require.Equal(t, uint32(0x1DABE74F), UpdateBytes(CRC32InitValue, []byte{4, 3, 2, 1}))
}

// mpeg2 is a bit-at-a-time CRC-32/MPEG-2: poly 0x04C11DB7, init 0xFFFFFFFF,
// no reflection, no final xor.
func mpeg2(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func TestCRC32MatchesBitwiseMPEG2(t *testing.T) {
	require.Equal(t, uint32(0x0376E6E7), mpeg2([]byte("123456789")))

	rnd := rand.New(rand.NewSource(7))
	for _, size := range []int{0, 4, 64, 0x800} {
		data := make([]byte, size)
		rnd.Read(data)

		require.Equal(t, mpeg2(data), UpdateBytes(CRC32InitValue, data), "byte mode, %d bytes", size)

		swapped := make([]byte, size)
		for i := 0; i < size; i += 4 {
			swapped[i], swapped[i+1], swapped[i+2], swapped[i+3] = data[i+3], data[i+2], data[i+1], data[i]
		}
		require.Equal(t, mpeg2(swapped), UpdateWords(CRC32InitValue, data), "word mode, %d bytes", size)
	}

	m := newMem(t)
	data := make([]byte, 0x800)
	rnd.Read(data)
	fill(t, m, 0x1800, data)
	require.Equal(t, mpeg2(data), CRC32(m, 0x1800, 0x2000, ModeByte))
}

func TestCRC32UnalignedEnd(t *testing.T) {
	m := newMem(t)
	fill(t, m, 0, []byte{1, 2, 3, 4, 5, 6})

	want := UpdateWords(CRC32InitValue, []byte{1, 2, 3, 4, 5, 6, 0xFF, 0xFF})
	require.Equal(t, want, CRC32(m, 0, 6, ModeWord))

	small, err := membuf.NewMemBuffer(0x800, 0x800)
	require.NoError(t, err)
	fill(t, small, 0x7FE, []byte{0x12, 0x34})
	require.Equal(t, UpdateWords(CRC32InitValue, []byte{0x12, 0x34, 0xFF, 0xFF}), CRC32(small, 0x7FE, 0x800, ModeWord))
}

func TestOutOfBoundsReturnsSentinel(t *testing.T) {
	m := newMem(t)

	require.Equal(t, Sentinel, CRC32(m, -1, 4, ModeWord))
	require.Equal(t, Sentinel, CRC32(m, 0, m.Size()+1, ModeByte))
	require.Equal(t, Sentinel, SimpleSum(m, -4, 4))
	require.Equal(t, Sentinel, SimpleSum(m, 0, m.Size()+4))

	require.NotEqual(t, Sentinel, CRC32(m, 0, m.Size(), ModeWord))
}

func TestSumIndependentOfChunking(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 3, 4, 5, 1023, 4096} {
		data := make([]byte, n)
		rnd.Read(data)

		var plain uint32
		for _, b := range data {
			plain += uint32(b)
		}
		require.Equal(t, plain, Sum(data), "length %d", n)
	}
}

func TestSimpleSumErasedFirmware(t *testing.T) {
	m := newMem(t)
	require.Equal(t, uint32(0x00679404), SimpleSum(m, 0x1800, 0x7FFC))
	require.Equal(t, uint32(0), SimpleSum(m, 0x10, 0x10))
}

func TestSumWrapsAt32Bits(t *testing.T) {
	// 0x1010102 * 0xFF overflows a uint32
	data := bytes.Repeat([]byte{0xFF}, 0x1010102)
	require.Equal(t, uint32(uint64(0xFF*0x1010102)&0xFFFFFFFF), Sum(data))
}
