package session

import (
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/anupcshan/romcheck/diag"
	"github.com/anupcshan/romcheck/profile"
	"github.com/pkg/errors"
)

// Patch replaces the bytes at Address. Data is hex encoded in JSON.
type Patch struct {
	Name    string          `json:"name"`
	Address profile.Address `json:"address"`
	Data    HexBytes        `json:"data"`
}

type HexBytes []byte

func (h *HexBytes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "hex data %q", s)
	}
	*h = decoded
	return nil
}

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func DecodePatches(r io.Reader) ([]Patch, error) {
	var patches []Patch
	if err := json.NewDecoder(r).Decode(&patches); err != nil {
		return nil, errors.Wrap(err, "decoding patches")
	}
	return patches, nil
}

// ApplyPatches writes every patch byte by byte. It stops at the first
// patch that does not fit the memory; earlier patches stay applied.
func (s *Session) ApplyPatches(patches []Patch) error {
	if s.result == nil {
		return ErrNotLoaded
	}

	for _, p := range patches {
		for i, b := range p.Data {
			if err := s.mem.SetByte(int(p.Address)+i, int(b)); err != nil {
				return errors.Wrapf(err, "patch %s", p.Name)
			}
		}
		diag.Printf(s.sink, "patched %d bytes at 0x%X (%s)", len(p.Data), int(p.Address), p.Name)
	}
	return nil
}
