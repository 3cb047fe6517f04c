// Package session ties one memory image to the importer, profile and
// diagnostics that work on it.
package session

import (
	"context"
	"fmt"
	"os"

	"github.com/anupcshan/romcheck/checksum"
	"github.com/anupcshan/romcheck/diag"
	"github.com/anupcshan/romcheck/fwimage"
	"github.com/anupcshan/romcheck/membuf"
	"github.com/anupcshan/romcheck/metrics"
	"github.com/anupcshan/romcheck/profile"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrUnknownRegion = errors.New("unknown checksum region")
	ErrNotLoaded     = errors.New("no image loaded")
)

// Session owns a single memory image. It is not safe for concurrent use;
// run one session per image instead.
type Session struct {
	ID      uuid.UUID
	Profile *profile.Profile

	mem      *membuf.MemBuffer
	importer *fwimage.Importer
	recorder *diag.Recorder
	sink     diag.Sink
	metrics  *metrics.Collector

	source    string
	result    *fwimage.Result
	checksums []checksum.Result
}

type options struct {
	sink    diag.Sink
	metrics *metrics.Collector
}

type Option func(*options)

// WithSink forwards diagnostics to s as well as to the session's recorder.
func WithSink(s diag.Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func New(p *profile.Profile, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	mem, err := p.NewMemBuffer()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	recorder := &diag.Recorder{}
	sink := diag.Tee(recorder, o.sink)

	return &Session{
		ID:       id,
		Profile:  p,
		mem:      mem,
		importer: fwimage.NewImporter(mem, sink),
		recorder: recorder,
		sink:     sink,
		metrics:  o.metrics,
	}, nil
}

func (s *Session) Memory() *membuf.MemBuffer {
	return s.mem
}

func (s *Session) ImportResult() *fwimage.Result {
	return s.result
}

// Load imports fName, placing binary images at the profile's binary
// offset unless opts say otherwise. A binary image the size of the whole
// ROM is loaded at 0.
func (s *Session) Load(ctx context.Context, fName string, opts ...fwimage.Option) (*fwimage.Result, error) {
	offset := s.Profile.BinaryOffset
	if fwimage.FormatOf(fName) == fwimage.FormatBinary {
		if fi, err := os.Stat(fName); err == nil {
			offset = s.Profile.BinaryOffsetFor(fi.Size())
		}
	}
	opts = append([]fwimage.Option{fwimage.WithBinaryOffset(offset)}, opts...)

	res, err := s.importer.Import(ctx, fName, opts...)
	if err != nil {
		return res, errors.Wrapf(err, "loading %s", fName)
	}

	s.source = fName
	s.result = res
	s.checksums = nil
	s.metrics.ObserveImport(res)
	return res, nil
}

func (s *Session) regions(names []string) ([]checksum.Region, error) {
	if len(names) == 0 {
		return s.Profile.Regions, nil
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := s.Profile.Region(name); !ok {
			return nil, errors.Wrapf(ErrUnknownRegion, "%q in profile %s", name, s.Profile.Name)
		}
		want[name] = true
	}

	// Profile order, not argument order: a region may cover the stored
	// checksum of one listed before it.
	var out []checksum.Region
	for _, r := range s.Profile.Regions {
		if want[r.Name] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Session) record(results []checksum.Result) {
	for _, res := range results {
		diag.Printf(s.sink, "%s", res)
	}
	s.checksums = results
	s.metrics.ObserveChecksums(results)
}

// Verify checks every region of the profile.
func (s *Session) Verify() ([]checksum.Result, error) {
	if s.result == nil {
		return nil, ErrNotLoaded
	}

	var results []checksum.Result
	for _, r := range s.Profile.Regions {
		res, err := checksum.Verify(s.mem, r)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	s.record(results)
	return results, nil
}

// Fix rewrites the stored checksum of the named regions, or of every region
// when no names are given.
func (s *Session) Fix(names ...string) ([]checksum.Result, error) {
	if s.result == nil {
		return nil, ErrNotLoaded
	}

	regions, err := s.regions(names)
	if err != nil {
		return nil, err
	}

	var results []checksum.Result
	for _, r := range regions {
		before, err := checksum.Verify(s.mem, r)
		if err != nil {
			return results, err
		}
		res, err := checksum.Fix(s.mem, r)
		if err != nil {
			return results, err
		}
		if !before.Match {
			diag.Printf(s.sink, "%s: checksum 0x%08x replaced with 0x%08x", r.Name, before.Stored, res.Stored)
		}
		results = append(results, res)
	}

	s.record(results)
	return results, nil
}

// SeedUserSettings copies the default settings page over the user settings
// page.
func (s *Session) SeedUserSettings() error {
	if s.result == nil {
		return ErrNotLoaded
	}

	if err := s.mem.CopyPage(s.Profile.DefaultSettingsPage, s.Profile.UserSettingsPage); err != nil {
		return errors.Wrap(err, "seeding user settings")
	}
	diag.Printf(s.sink, "copied settings page %d to page %d", s.Profile.DefaultSettingsPage, s.Profile.UserSettingsPage)
	return nil
}

// Save writes pages [first, last] as Intel HEX.
func (s *Session) Save(fName string, first, last int, opts ...fwimage.WriteOption) error {
	if err := fwimage.WritePages(fName, s.mem, first, last, opts...); err != nil {
		return err
	}
	diag.Printf(s.sink, "wrote pages %d-%d to %s", first, last, fName)
	return nil
}

// ModifiedRange returns the first and last modified page.
func (s *Session) ModifiedRange() (int, int, bool) {
	pages := s.mem.ModifiedPages()
	if len(pages) == 0 {
		return 0, 0, false
	}
	return pages[0], pages[len(pages)-1], true
}

func (s *Session) String() string {
	return fmt.Sprintf("%s %s (%s)", s.ID, s.source, s.Profile.Name)
}
