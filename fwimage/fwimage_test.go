package fwimage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anupcshan/romcheck/diag"
	"github.com/anupcshan/romcheck/intelhex"
	"github.com/anupcshan/romcheck/membuf"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newMem(t *testing.T) *membuf.MemBuffer {
	t.Helper()
	m, err := membuf.NewMemBuffer(membuf.DefaultSize, membuf.DefaultPageSize)
	require.NoError(t, err)
	return m
}

func writeFile(t *testing.T, name string, data string) string {
	t.Helper()
	fName := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(fName, []byte(data), 0644))
	return fName
}

func TestImportHex(t *testing.T) {
	m := newMem(t)
	rec := &diag.Recorder{}
	fName := writeFile(t, "fw.hex", strings.Join([]string{
		":020000040800F2",
		":0400000001020304F2",
		":0400100001020304E2",
		":00000001FF",
	}, "\n"))

	res, err := NewImporter(m, rec).Import(context.Background(), fName)
	require.NoError(t, err)
	require.Equal(t, FormatHex, res.Format)
	require.Equal(t, 4, res.Lines)
	require.Equal(t, 2, res.Records[intelhex.RecordData])
	require.Equal(t, 1, res.Records[intelhex.RecordExtendedLinearAddress])
	require.Equal(t, 1, res.Records[intelhex.RecordEOF])
	require.True(t, res.SawEOF)
	require.Equal(t, 8, res.BytesWritten)
	require.Zero(t, res.Skipped)
	require.False(t, res.HasFailures())

	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0, 4))
	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0x10, 0x14))
	require.Equal(t, []int{0}, m.ModifiedPages())

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "program linear address (extended): 0800", msgs[0].Text)
	require.Equal(t, "end of file at line 4", msgs[1].Text)
}

func TestImportStartLinearAddress(t *testing.T) {
	rec := &diag.Recorder{}
	fName := writeFile(t, "fw.hex", ":040000050800019955\n")

	res, err := NewImporter(newMem(t), rec).Import(context.Background(), fName)
	require.NoError(t, err)
	require.Equal(t, 1, res.Records[intelhex.RecordStartLinearAddress])
	require.Zero(t, res.ChecksumWarnings)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "program linear address: 08000199", msgs[0].Text)
}

func TestImportSkipsOverlongLine(t *testing.T) {
	m := newMem(t)
	rec := &diag.Recorder{}
	fName := writeFile(t, "fw.hex", ":0400000001020304F2\n"+
		":"+strings.Repeat("0", intelhex.MaxLineLength+10)+"\n"+
		":0400100001020304E2\n")

	res, err := NewImporter(m, rec).Import(context.Background(), fName)
	require.NoError(t, err)
	require.Equal(t, 3, res.Lines)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 1, res.LineErrors["too-long"])
	require.Equal(t, 2, res.Records[intelhex.RecordData])
	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0, 4))
	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0x10, 0x14))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Text, "line 2: ")
	require.Contains(t, msgs[0].Text, "line skipped")
}

func TestImportCorruptChecksumStillApplies(t *testing.T) {
	m := newMem(t)
	rec := &diag.Recorder{}
	fName := writeFile(t, "fw.hex", ":04001000DEADBEEF00\n")

	res, err := NewImporter(m, rec).Import(context.Background(), fName)
	require.NoError(t, err)
	require.Equal(t, 1, res.ChecksumWarnings)
	require.Equal(t, 1, res.LineErrors[ChecksumErrorKind])
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, m.ReadRange(0x10, 0x14))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Text, "checksum failure")
	require.Contains(t, msgs[0].Text, "expected B4")
}

func TestImportSkipsBadLines(t *testing.T) {
	m := newMem(t)
	rec := &diag.Recorder{}
	fName := writeFile(t, "fw.hex", strings.Join([]string{
		"garbage",
		":0400",
		":0400000001020304F",
		":04000000010203ZZF2",
		":0400000001020304F2",
	}, "\n"))

	res, err := NewImporter(m, rec).Import(context.Background(), fName)
	require.NoError(t, err)
	require.Equal(t, 4, res.Skipped)
	require.Equal(t, map[string]int{"no-marker": 1, "too-short": 1, "odd-length": 1, "invalid-hex": 1}, res.LineErrors)
	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0, 4))
	require.Len(t, rec.Messages(), 4)
}

func TestImportSegmentAddress(t *testing.T) {
	m := newMem(t)
	fName := writeFile(t, "fw.hex", ":020000020010EA\n:0400000001020304F2\n")

	_, err := NewImporter(m, nil).Import(context.Background(), fName)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0x100, 0x104))
}

func TestImportResetsStateBetweenCalls(t *testing.T) {
	m := newMem(t)
	imp := NewImporter(m, nil)

	first := writeFile(t, "first.hex", ":020000020010EA\n:0400000001020304F2\n")
	second := writeFile(t, "second.hex", ":0400000001020304F2\n")

	_, err := imp.Import(context.Background(), first)
	require.NoError(t, err)
	_, err = imp.Import(context.Background(), second)
	require.NoError(t, err)

	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0, 4))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, m.ReadRange(0x100, 0x104))
}

func TestImportOverwrite(t *testing.T) {
	m := newMem(t)
	imp := NewImporter(m, nil)

	boot := writeFile(t, "boot.hex", ":0400000001020304F2\n")
	app := writeFile(t, "app.bin", "\xAA\xBB")

	_, err := imp.Import(context.Background(), boot)
	require.NoError(t, err)
	_, err = imp.Import(context.Background(), app, WithBinaryOffset(0x1800), WithOverwrite())
	require.NoError(t, err)

	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0, 4))
	require.Equal(t, []byte{0xAA, 0xBB}, m.ReadRange(0x1800, 0x1802))
	require.Equal(t, []int{0, 3}, m.ModifiedPages())
}

func TestImportBinaryOffset(t *testing.T) {
	m := newMem(t)
	fName := writeFile(t, "app.bin", "\x01\x02\x03\x04")

	res, err := NewImporter(m, nil).Import(context.Background(), fName, WithBinaryOffset(0x1800))
	require.NoError(t, err)
	require.Equal(t, FormatBinary, res.Format)
	require.Equal(t, 4, res.BytesWritten)
	require.Equal(t, []byte{1, 2, 3, 4}, m.ReadRange(0x1800, 0x1804))
	require.Equal(t, []int{3}, m.ModifiedPages())
}

func TestImportRejectsNegativeBinaryOffset(t *testing.T) {
	m := newMem(t)
	require.NoError(t, m.SetByte(0, 0x42))
	rec := &diag.Recorder{}
	fName := writeFile(t, "app.bin", "\x01\x02\x03\x04")

	res, err := NewImporter(m, rec).Import(context.Background(), fName, WithBinaryOffset(-2))
	require.True(t, errors.Is(err, ErrInvalidOffset), "err = %v", err)
	require.Zero(t, res.BytesWritten)
	require.False(t, res.HasFailures())
	require.Empty(t, rec.Messages())

	b, err := m.Byte(0)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), b)
}

func TestImportAggregatesWriteFailures(t *testing.T) {
	t.Run("hex", func(t *testing.T) {
		m := newMem(t)
		rec := &diag.Recorder{}
		fName := writeFile(t, "fw.hex", ":020000021000EC\n:0400000001020304F2\n:0400100001020304E2\n")

		res, err := NewImporter(m, rec).Import(context.Background(), fName)
		require.NoError(t, err)
		require.Equal(t, 8, res.FailedWrites)
		require.Equal(t, 0x10000, res.FailureMin)
		require.Equal(t, 0x10013, res.FailureMax)
		require.Zero(t, res.BytesWritten)

		msgs := rec.Messages()
		require.Len(t, msgs, 1)
		require.Contains(t, msgs[0].Text, "0x10000 - 0x10013")
	})

	t.Run("binary", func(t *testing.T) {
		m := newMem(t)
		fName := writeFile(t, "fw.bin", strings.Repeat("\x00", 16))

		res, err := NewImporter(m, nil).Import(context.Background(), fName, WithBinaryOffset(0xFFF8))
		require.NoError(t, err)
		require.Equal(t, 8, res.BytesWritten)
		require.Equal(t, 8, res.FailedWrites)
		require.Equal(t, 0x10000, res.FailureMin)
		require.Equal(t, 0x10007, res.FailureMax)
		require.Equal(t, make([]byte, 8), m.ReadRange(0xFFF8, 0x10000))
	})
}

func TestImportOpenFailureLeavesBuffer(t *testing.T) {
	m := newMem(t)
	require.NoError(t, m.SetByte(0x20, 0x42))

	_, err := NewImporter(m, nil).Import(context.Background(), filepath.Join(t.TempDir(), "missing.hex"))
	require.True(t, errors.Is(err, ErrOpenInput), "err = %v", err)

	b, err := m.Byte(0x20)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), b)
}

func TestImportCancelled(t *testing.T) {
	m := newMem(t)
	fName := writeFile(t, "fw.hex", ":0400000001020304F2\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewImporter(m, nil).Import(ctx, fName)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, m.ModifiedPages())
}

func TestWritePagesRoundTrip(t *testing.T) {
	src := newMem(t)
	for addr := 0x1800; addr < 0x3000; addr++ {
		require.NoError(t, src.SetByte(addr, (addr*7)&0xFF))
	}

	out := filepath.Join(t.TempDir(), "out.hex")
	require.NoError(t, WritePages(out, src, 3, 5))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Equal(t, HeaderLine, lines[0])
	require.Equal(t, FooterLine, lines[len(lines)-1])
	require.Len(t, lines, 2+3*0x800/16)
	require.Equal(t, ":10180000", lines[1][:9])

	dst := newMem(t)
	res, err := NewImporter(dst, nil).Import(context.Background(), out)
	require.NoError(t, err)
	require.Zero(t, res.ChecksumWarnings)
	require.Zero(t, res.Skipped)
	require.Equal(t, src.ReadRange(0x1800, 0x3000), dst.ReadRange(0x1800, 0x3000))
	require.Equal(t, []int{3, 4, 5}, dst.ModifiedPages())
}

func TestWritePagesAboveSegment(t *testing.T) {
	src, err := membuf.NewMemBuffer(0x20000, 0x800)
	require.NoError(t, err)
	_, err = src.WriteAt([]byte{0xCA, 0xFE}, 0xFFFF)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.hex")
	require.NoError(t, WritePages(out, src, 31, 32))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(data), ":020000021000EC\n")

	dst, err := membuf.NewMemBuffer(0x20000, 0x800)
	require.NoError(t, err)
	_, err = NewImporter(dst, nil).Import(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, src.ReadRange(0xF800, 0x10800), dst.ReadRange(0xF800, 0x10800))
}

func TestWritePagesErrors(t *testing.T) {
	m := newMem(t)
	dir := t.TempDir()

	err := WritePages(filepath.Join(dir, "erased.hex"), m, 0, 3)
	require.True(t, errors.Is(err, ErrNoData), "err = %v", err)

	err = WritePages(filepath.Join(dir, "range.hex"), m, 5, 2)
	require.True(t, errors.Is(err, ErrNoData), "err = %v", err)

	err = WritePages(filepath.Join(dir, "range.hex"), m, 0, m.PageCount())
	require.True(t, errors.Is(err, ErrNoData), "err = %v", err)

	require.NoError(t, m.SetByte(0, 0))
	err = WritePages(filepath.Join(dir, "missing", "out.hex"), m, 0, 0)
	require.True(t, errors.Is(err, ErrOpenOutput), "err = %v", err)

	require.NoError(t, WritePages(filepath.Join(dir, "empty.hex"), newMem(t), 0, 0, WithEmptyRange()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "leftover %s", e.Name())
	}
}
