package parser

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Layout line layout of a .dat file.
type Layout string

const (
	LayoutAuto   Layout = "auto"   // detect from content
	LayoutStrict Layout = "strict" // fixed line indexes, blank lines kept
	LayoutLegacy Layout = "legacy" // sequential tokens, blank and "..." lines dropped
)

// LayoutInfo describes a supported layout.
type LayoutInfo struct {
	Code        Layout `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GetSupportedLayouts lists the layouts the parser understands.
func GetSupportedLayouts() []LayoutInfo {
	return []LayoutInfo{
		{
			Code:        LayoutAuto,
			Name:        "Automatic",
			Description: "Legacy when the file contains \"...\" placeholder lines, strict otherwise",
		},
		{
			Code:        LayoutStrict,
			Name:        "Strict",
			Description: "One field per fixed line index; blank lines keep their position",
		},
		{
			Code:        LayoutLegacy,
			Name:        "Legacy",
			Description: "Older firmware: blank and \"...\" lines skipped, fields read in order",
		},
	}
}

// GetLayoutName returns the display name of a layout.
func GetLayoutName(layout Layout) string {
	for _, info := range GetSupportedLayouts() {
		if info.Code == layout {
			return info.Name
		}
	}
	return string(layout)
}

// ParseLayout maps a user supplied name to a Layout; unknown names mean auto.
func ParseLayout(s string) Layout {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case LayoutStrict:
		return LayoutStrict
	case LayoutLegacy:
		return LayoutLegacy
	default:
		return LayoutAuto
	}
}

// ============================================================================
// Import results
// ============================================================================

// DatRecord one parsed file.
type DatRecord struct {
	Filename   string          `json:"filename"`
	Digest     string          `json:"digest"` // hex BLAKE2b-256 of the raw bytes
	Layout     Layout          `json:"layout"`
	Refraction *AutoRefraction `json:"refraction"`
}

// DatImportResult outcome of importing one or more .dat files. Unreadable
// sources are reported in Errors; they never abort the batch.
type DatImportResult struct {
	BatchID  string      `json:"batch_id"`
	Success  bool        `json:"success"`
	Layout   Layout      `json:"layout"`
	Total    int         `json:"total"`
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Errors   []string    `json:"errors,omitempty"`
	Records  []DatRecord `json:"records,omitempty"`
}

// DatSource a named reader to import.
type DatSource struct {
	Filename string
	Reader   io.Reader
}

// ============================================================================
// Dispatch
// ============================================================================

// ParseDatFileByLayout parses one file with the given layout using the
// default parser. The only error is a failure to read r.
func ParseDatFileByLayout(r io.Reader, filename string, layout Layout) (*DatImportResult, error) {
	return defaultParser.ParseFile(r, filename, layout)
}

// ParseDatFileAuto parses one file, detecting its layout.
func ParseDatFileAuto(r io.Reader, filename string) (*DatImportResult, error) {
	return defaultParser.ParseFile(r, filename, LayoutAuto)
}

// ImportDatBatch imports several files with the default parser.
func ImportDatBatch(sources []DatSource, layout Layout) *DatImportResult {
	return defaultParser.ImportBatch(sources, layout)
}

// ParseFile reads r, decodes the instrument text and parses it.
func (p *Parser) ParseFile(r io.Reader, filename string, layout Layout) (*DatImportResult, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	result := newImportResult(layout)
	result.Total = 1
	result.Records = append(result.Records, p.parseBytes(content, filename, layout))
	result.Imported = 1
	result.Success = true
	return result, nil
}

// ImportBatch imports several sources. Files whose bytes were already seen in
// this batch are skipped.
func (p *Parser) ImportBatch(sources []DatSource, layout Layout) *DatImportResult {
	result := newImportResult(layout)
	seen := make(map[string]string)

	for i, src := range sources {
		result.Total++
		name := src.Filename
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		if src.Reader == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: no content", name))
			result.Failed++
			continue
		}

		content, err := io.ReadAll(src.Reader)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			result.Failed++
			continue
		}

		rec := p.parseBytes(content, name, layout)
		if first, dup := seen[rec.Digest]; dup {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: same content as %s, skipped", name, first))
			result.Skipped++
			continue
		}
		seen[rec.Digest] = name

		result.Records = append(result.Records, rec)
		result.Imported++
	}

	result.Success = result.Failed == 0
	return result
}

func (p *Parser) parseBytes(content []byte, filename string, layout Layout) DatRecord {
	text := DecodeInstrumentText(content)
	if layout == LayoutAuto || layout == "" {
		layout = detectLayout(text)
	}

	var ref *AutoRefraction
	if layout == LayoutLegacy {
		ref = p.ParseLegacy(text)
	} else {
		layout = LayoutStrict
		ref = p.Parse(text)
	}

	return DatRecord{
		Filename:   filename,
		Digest:     Digest(content),
		Layout:     layout,
		Refraction: ref,
	}
}

func newImportResult(layout Layout) *DatImportResult {
	if layout == "" {
		layout = LayoutAuto
	}
	return &DatImportResult{
		BatchID: uuid.NewString(),
		Layout:  layout,
	}
}

// detectLayout picks legacy when the firmware wrote "..." placeholders.
func detectLayout(text string) Layout {
	for _, l := range splitLines(text) {
		if l == legacyPlaceholder {
			return LayoutLegacy
		}
	}
	return LayoutStrict
}

// Digest returns the hex BLAKE2b-256 of content.
func Digest(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SortNewestFirst orders records by measurement date, newest first. Records
// without a date go last; the sort is stable.
func SortNewestFirst(records []DatRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return fechaOf(records[i]) > fechaOf(records[j])
	})
}

func fechaOf(r DatRecord) string {
	if r.Refraction == nil {
		return ""
	}
	return deref(r.Refraction.Fecha)
}
