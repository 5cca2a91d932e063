package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ============================================================================
// Instrument text encoding
// ============================================================================
//
// Refractors write single-byte Windows-1252 text: the axis degree sign is the
// lone byte 0xB0, which is not valid UTF-8. Files re-saved by other tools may
// already be UTF-8, sometimes with a BOM.

const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingLatin1      = "iso-8859-1"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeInstrumentText returns content as a Go string, decoding it from
// Windows-1252 when it is not valid UTF-8.
func DecodeInstrumentText(content []byte) string {
	content = bytes.TrimPrefix(content, utf8BOM)
	if utf8.Valid(content) {
		return string(content)
	}
	decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), content)
	if err != nil {
		// Windows1252 maps every byte; keep the raw text if that ever changes.
		return string(content)
	}
	return string(decoded)
}

// DecodeWithLabel decodes content using a charset label such as
// "windows-1252", "latin1" or "utf-8". An empty label auto-detects.
func DecodeWithLabel(content []byte, label string) (string, error) {
	if strings.TrimSpace(label) == "" {
		return DecodeInstrumentText(content), nil
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("unsupported encoding %q: %w", label, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", label, err)
	}
	return string(bytes.TrimPrefix(out, utf8BOM)), nil
}

// EncodeInstrumentText encodes s for writing. UTF-8 (or an empty label) is
// returned unchanged; single-byte encodings reject characters they cannot hold.
func EncodeInstrumentText(s, label string) ([]byte, error) {
	var cm *charmap.Charmap
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", EncodingUTF8, "utf8":
		return []byte(s), nil
	case EncodingWindows1252, "cp1252":
		cm = charmap.Windows1252
	case EncodingLatin1, "latin1", "iso8859-1":
		cm = charmap.ISO8859_1
	default:
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}
	out, _, err := transform.Bytes(cm.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", label, err)
	}
	return out, nil
}
