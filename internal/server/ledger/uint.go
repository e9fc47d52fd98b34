package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
)

// Uint is a ledger number that decodes from any of the shapes the ledger
// and its clients produce: a JSON number, a decimal string or a 0x-prefixed
// hex string. It always encodes as a JSON number.
type Uint uint64

func (u *Uint) UnmarshalJSON(b []byte) error {
	v, err := DecodeUint(b)
	if err != nil {
		return err
	}
	*u = Uint(v)
	return nil
}

func (u Uint) Uint64() uint64 { return uint64(u) }

// DecodeUint converts one raw JSON value into a uint64. null decodes as 0.
func DecodeUint(raw []byte) (uint64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: empty number", common.ErrValidation)
	}
	if string(raw) == "null" {
		return 0, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		return ParseUint(s)
	}

	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: number %s: %v", common.ErrValidation, raw, err)
	}
	return v, nil
}

// ParseUint parses a decimal or 0x-prefixed hex string.
func ParseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	base := 10
	if h, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = h, 16
	}
	if s == "" {
		return 0, fmt.Errorf("%w: empty number", common.ErrValidation)
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: number %q: %v", common.ErrValidation, s, err)
	}
	return v, nil
}
