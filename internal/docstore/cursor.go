package docstore

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursor marks the last document of a page: its ordering value, its path, and
// how many documents preceded it across all pages.
type Cursor struct {
	Offset int
	Value  float64
	Path   Path
}

// EncodeCursor serialises the cursor to an opaque token.
func EncodeCursor(c *Cursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%d|%s|%s", c.Offset, strconv.FormatFloat(c.Value, 'g', -1, 64), c.Path)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(decoded), "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid cursor format")
	}
	offset, err := strconv.Atoi(parts[0])
	if err != nil || offset < 0 {
		return nil, fmt.Errorf("invalid cursor offset")
	}
	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, err
	}
	if parts[2] == "" {
		return nil, fmt.Errorf("invalid cursor path")
	}
	return &Cursor{Offset: offset, Value: value, Path: Path(parts[2])}, nil
}
