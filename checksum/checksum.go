// Package checksum implements the integrity checks the motor drive
// bootloader and application run over their own flash.
package checksum

// Memory is the part of the virtual ROM the checksum engines need.
type Memory interface {
	Size() int
	ReadRange(start, end int) []byte
	WriteAt(p []byte, off int64) (int, error)
}

// Sentinel is returned when a region lies outside the memory.
const Sentinel uint32 = 0xFFFFFFFF

const (
	CRC32InitValue uint32 = 0xFFFFFFFF

	wordSize   = 4
	eraseValue = 0xFF
)

// Polynomial 0x04C11DB7, one entry per nibble.
// https://www.iar.com/support/tech-notes/general/checksum-generation/
var nibbleTable = [16]uint32{
	0x00000000, 0x04C11DB7, 0x09823B6E, 0x0D4326D9, 0x130476DC, 0x17C56B6B, 0x1A864DB2, 0x1E475005,
	0x2608EDB8, 0x22C9F00F, 0x2F8AD6D6, 0x2B4BCB61, 0x350C9B64, 0x31CD86D3, 0x3C8EA00A, 0x384FBDBD,
}

type Mode int

const (
	// ModeWord consumes little endian 32-bit words, like the processor's CRC unit.
	ModeWord Mode = iota
	// ModeByte consumes single bytes, high nibble first.
	ModeByte
)

func inBounds(mem Memory, start, end int) bool {
	return start >= 0 && end <= mem.Size()
}

// Sum adds every byte of data into a 32-bit total, four bytes at a time.
// The chunking never resets the total, so the result equals a plain sum.
func Sum(data []byte) uint32 {
	var total, chunk uint32
	for i, b := range data {
		chunk += uint32(b)
		if i%wordSize == wordSize-1 {
			total += chunk
			chunk = 0
		}
	}
	return total + chunk
}

// SimpleSum returns Sum over [start, end) of mem.
func SimpleSum(mem Memory, start, end int) uint32 {
	if !inBounds(mem, start, end) {
		return Sentinel
	}
	if end <= start {
		return 0
	}
	return Sum(mem.ReadRange(start, end))
}

func crcNibble(crc uint32, index uint32) uint32 {
	return ((crc << 4) ^ nibbleTable[index&0x0F]) & 0xFFFFFFFF
}

// UpdateWords feeds data into crc one little endian word at a time. A short
// final word is padded with the erase value.
func UpdateWords(crc uint32, data []byte) uint32 {
	for i := 0; i < len(data); i += wordSize {
		var word uint32
		for j := 0; j < wordSize; j++ {
			b := byte(eraseValue)
			if i+j < len(data) {
				b = data[i+j]
			}
			word |= uint32(b) << (8 * j)
		}

		crc = (crc ^ word) & 0xFFFFFFFF
		for n := 0; n < 2*wordSize; n++ {
			crc = crcNibble(crc, crc>>28)
		}
	}
	return crc
}

// UpdateBytes feeds data into crc one byte at a time.
func UpdateBytes(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = crcNibble(crc, (crc>>28)^uint32(b>>4))
		crc = crcNibble(crc, (crc>>28)^uint32(b&0x0F))
	}
	return crc
}

// CRC32 computes the table driven CRC over [start, end) of mem. In word
// mode an end that is not word aligned still consumes the whole last word,
// reading past end the way the firmware does.
func CRC32(mem Memory, start, end int, mode Mode) uint32 {
	if !inBounds(mem, start, end) {
		return Sentinel
	}
	if end <= start {
		return CRC32InitValue
	}

	if mode == ModeByte {
		return UpdateBytes(CRC32InitValue, mem.ReadRange(start, end))
	}

	wordEnd := start + (end-start+wordSize-1)/wordSize*wordSize
	return UpdateWords(CRC32InitValue, mem.ReadRange(start, min(wordEnd, mem.Size())))
}
