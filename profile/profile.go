// Package profile describes the flash layout of a product: how big its ROM
// is, where binary images are loaded and which regions carry checksums.
package profile

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/anupcshan/romcheck/checksum"
	"github.com/anupcshan/romcheck/membuf"
	"github.com/pkg/errors"
)

var ErrInvalid = errors.New("invalid profile")

type Profile struct {
	Name         string
	Processor    string
	ROMSize      int
	PageSize     int
	BinaryOffset int

	DefaultSettingsPage int
	UserSettingsPage    int

	Regions []checksum.Region
}

const (
	p21FlashPageFirmwareStart = 3
	p21FlashPageFirmwareEnd   = 19 // exclusive
	p21PageDefaultSettings    = 26
	p21PageUserSettings       = 27
	p21PageSize               = 0x800
)

// P21ODP is the P21 ODP motor drive: a 64 KiB STM32F301 whose application
// images are packaged without the bootloader's first 0x1800 bytes.
var P21ODP = Profile{
	Name:         "p21odp",
	Processor:    "STM32F301",
	ROMSize:      0x10000,
	PageSize:     p21PageSize,
	BinaryOffset: 0x1800,

	DefaultSettingsPage: p21PageDefaultSettings,
	UserSettingsPage:    p21PageUserSettings,

	Regions: []checksum.Region{
		{Name: "bootloader", Algorithm: checksum.AlgorithmCRC32, Start: 0x0000, End: 0x1800, IgnoreLastFour: true},
		{Name: "firmware", Algorithm: checksum.AlgorithmSum, Start: 0x1800, End: 0x7FFC},
		{
			Name:           "safety",
			Algorithm:      checksum.AlgorithmCRC32,
			Start:          p21FlashPageFirmwareStart * p21PageSize,
			End:            p21FlashPageFirmwareEnd * p21PageSize,
			IgnoreLastFour: true,
		},
		{
			Name:           "default-settings",
			Algorithm:      checksum.AlgorithmCRC32Byte,
			Start:          p21PageDefaultSettings * p21PageSize,
			End:            (p21PageDefaultSettings + 1) * p21PageSize,
			IgnoreLastFour: true,
		},
		{
			Name:           "user-settings",
			Algorithm:      checksum.AlgorithmCRC32Byte,
			Start:          p21PageUserSettings * p21PageSize,
			End:            (p21PageUserSettings + 1) * p21PageSize,
			IgnoreLastFour: true,
		},
	},
}

func (p *Profile) Validate() error {
	if p.ROMSize <= 0 || p.PageSize <= 0 || p.ROMSize%p.PageSize != 0 {
		return errors.Wrapf(ErrInvalid, "%s: page size %#x does not divide ROM size %#x", p.Name, p.PageSize, p.ROMSize)
	}
	if p.BinaryOffset < 0 || p.BinaryOffset >= p.ROMSize {
		return errors.Wrapf(ErrInvalid, "%s: binary offset %#x outside ROM", p.Name, p.BinaryOffset)
	}

	pages := p.ROMSize / p.PageSize
	for _, page := range []int{p.DefaultSettingsPage, p.UserSettingsPage} {
		if page < 0 || page >= pages {
			return errors.Wrapf(ErrInvalid, "%s: settings page %d outside %d pages", p.Name, page, pages)
		}
	}

	seen := make(map[string]struct{}, len(p.Regions))
	for _, r := range p.Regions {
		if _, ok := seen[r.Name]; ok {
			return errors.Wrapf(ErrInvalid, "%s: duplicate region %q", p.Name, r.Name)
		}
		seen[r.Name] = struct{}{}

		if err := r.Validate(p.ROMSize); err != nil {
			return errors.Wrapf(ErrInvalid, "%s: %v", p.Name, err)
		}
	}
	return nil
}

func (p *Profile) Region(name string) (checksum.Region, bool) {
	for _, r := range p.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return checksum.Region{}, false
}

// BinaryOffsetFor returns the load address of a raw binary image of size
// bytes. A full-ROM image, as written by hex2bin, starts at 0; anything
// else is an application image loaded at BinaryOffset.
func (p *Profile) BinaryOffsetFor(size int64) int {
	if size == int64(p.ROMSize) {
		return 0
	}
	return p.BinaryOffset
}

func (p *Profile) NewMemBuffer() (*membuf.MemBuffer, error) {
	return membuf.NewMemBuffer(p.ROMSize, p.PageSize)
}

// Address accepts JSON numbers as well as strings such as "0x1800".
type Address int

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.Wrapf(err, "address %s", b)
		}
		*a = Address(n)
		return nil
	}

	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return errors.Wrapf(err, "address %q", s)
	}
	*a = Address(n)
	return nil
}

type regionConfig struct {
	Name           string             `json:"name"`
	Algorithm      checksum.Algorithm `json:"algorithm"`
	Start          Address            `json:"start"`
	End            Address            `json:"end"`
	IgnoreLastFour bool               `json:"ignore_last_four"`
}

type profileConfig struct {
	Name                string         `json:"name"`
	Processor           string         `json:"processor"`
	ROMSize             Address        `json:"rom_size"`
	PageSize            Address        `json:"page_size"`
	BinaryOffset        Address        `json:"binary_offset"`
	DefaultSettingsPage int            `json:"default_settings_page"`
	UserSettingsPage    int            `json:"user_settings_page"`
	Regions             []regionConfig `json:"regions"`
}

func Parse(b []byte) (*Profile, error) {
	var cfg profileConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding profile")
	}

	p := &Profile{
		Name:                cfg.Name,
		Processor:           cfg.Processor,
		ROMSize:             int(cfg.ROMSize),
		PageSize:            int(cfg.PageSize),
		BinaryOffset:        int(cfg.BinaryOffset),
		DefaultSettingsPage: cfg.DefaultSettingsPage,
		UserSettingsPage:    cfg.UserSettingsPage,
	}
	for _, rc := range cfg.Regions {
		p.Regions = append(p.Regions, checksum.Region{
			Name:           rc.Name,
			Algorithm:      rc.Algorithm,
			Start:          int(rc.Start),
			End:            int(rc.End),
			IgnoreLastFour: rc.IgnoreLastFour,
		})
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a JSON profile. An empty path selects P21ODP.
func Load(fName string) (*Profile, error) {
	if fName == "" {
		p := P21ODP
		return &p, nil
	}

	b, err := os.ReadFile(fName)
	if err != nil {
		return nil, errors.Wrapf(err, "reading profile %s", fName)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "profile %s", fName)
	}
	return p, nil
}
