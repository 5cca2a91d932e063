package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ============================================================================
// Layout constants
// ============================================================================

// Strict layout, one field per line (0-based, blank lines count):
//
//	0 fecha          4-7   OD S, C, A, SE      12-20 OD kerato H, V, AVE x (D, MM, A)
//	1 hora           8-11  OI S, C, A, SE      21    cyl.OD
//	2-3 PD / VD (order not fixed)              22-30 OI kerato, 31 cyl.OI
//
// followed by the device line and the work id as the last two non-blank lines.

// refractionFields is the number of fields before keratometry.
const refractionFields = 12

// legacyPlaceholder is the filler some firmware prints for an unmeasured value.
const legacyPlaceholder = "..."

// PlausibleRanges PD / VD windows used to tell the two values apart.
type PlausibleRanges struct {
	PDMin float64 `json:"pd_min" yaml:"pd_min" mapstructure:"pd_min"`
	PDMax float64 `json:"pd_max" yaml:"pd_max" mapstructure:"pd_max"`
	VDMin float64 `json:"vd_min" yaml:"vd_min" mapstructure:"vd_min"`
	VDMax float64 `json:"vd_max" yaml:"vd_max" mapstructure:"vd_max"`
}

// DefaultRanges PD 50–75 mm, VD 8–18 mm.
var DefaultRanges = PlausibleRanges{PDMin: 50, PDMax: 75, VDMin: 8, VDMax: 18}

func (pr PlausibleRanges) pdLikely(n float64) bool { return n >= pr.PDMin && n <= pr.PDMax }
func (pr PlausibleRanges) vdLikely(n float64) bool { return n >= pr.VDMin && n <= pr.VDMax }

// resolvePDVD assigns the two candidate values found on the PD/VD lines.
//
//	both set, one per range      -> by range
//	both set, ambiguous          -> first PD, second VD
//	one set                      -> PD-like: PD, VD-like: VD, neither: PD
//	none                         -> nil, nil
func (pr PlausibleRanges) resolvePDVD(first, second *float64) (pd, vd *float64) {
	switch {
	case first != nil && second != nil:
		if pr.pdLikely(*first) && pr.vdLikely(*second) {
			return first, second
		}
		if pr.vdLikely(*first) && pr.pdLikely(*second) {
			return second, first
		}
		return first, second

	case first != nil || second != nil:
		v := first
		if v == nil {
			v = second
		}
		if !pr.pdLikely(*v) && pr.vdLikely(*v) {
			return nil, v
		}
		return v, nil
	}
	return nil, nil
}

// ============================================================================
// Tail (device line + work id)
// ============================================================================

// Tail device identification found at the end of a file. Empty fields are absent.
type Tail struct {
	Model  string
	FW     string
	WorkID string
}

// TailExtractor finds the device line and work id in the trimmed lines of a file.
type TailExtractor func(lines []string) Tail

// PositionalTail takes the last two non-blank lines: "<model> <fw>" then the work id.
func PositionalTail(lines []string) Tail {
	nb := nonBlank(lines)
	if len(nb) < 2 {
		return Tail{}
	}
	t := deviceFields(nb[len(nb)-2])
	t.WorkID = nb[len(nb)-1]
	return t
}

// DefaultModelPattern matches instrument model tokens such as KR-8900, RM8000, ARK1S.
var DefaultModelPattern = regexp.MustCompile(`^[A-Z]{1,4}-?[0-9]{1,5}[A-Z]{0,2}$`)

// ModelPrefixTail only accepts a device line whose first token matches re.
// A work id is taken only when it follows a matched device line; a matched
// device line in last position yields a device without work id.
func ModelPrefixTail(re *regexp.Regexp) TailExtractor {
	if re == nil {
		re = DefaultModelPattern
	}
	matches := func(line string) bool {
		f := strings.Fields(line)
		return len(f) > 0 && re.MatchString(f[0])
	}
	return func(lines []string) Tail {
		nb := nonBlank(lines)
		switch {
		case len(nb) >= 2 && matches(nb[len(nb)-2]):
			t := deviceFields(nb[len(nb)-2])
			t.WorkID = nb[len(nb)-1]
			return t
		case len(nb) >= 1 && matches(nb[len(nb)-1]):
			return deviceFields(nb[len(nb)-1])
		}
		return Tail{}
	}
}

func deviceFields(line string) Tail {
	var t Tail
	parts := strings.Fields(line)
	if len(parts) >= 1 {
		t.Model = parts[0]
	}
	if len(parts) >= 2 {
		t.FW = parts[1]
	}
	return t
}

func nonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ============================================================================
// Parser
// ============================================================================

// Parser decodes .dat content. The zero value is not usable; use NewParser.
// A Parser holds no mutable state and may be shared between goroutines.
type Parser struct {
	Ranges PlausibleRanges
	Tail   TailExtractor
}

// NewParser returns a parser with DefaultRanges and PositionalTail.
func NewParser() *Parser {
	return &Parser{Ranges: DefaultRanges, Tail: PositionalTail}
}

var defaultParser = NewParser()

// ParseDat parses the strict fixed-index layout with default settings.
func ParseDat(content string) *AutoRefraction {
	return defaultParser.Parse(content)
}

// ParseDatLegacy parses the older sequential layout with default settings.
func ParseDatLegacy(content string) *AutoRefraction {
	return defaultParser.ParseLegacy(content)
}

// Parse decodes the strict layout: every field sits on a fixed line index and
// blank lines are kept so positions do not shift. Never fails; missing or
// unreadable fields come back nil.
func (p *Parser) Parse(content string) *AutoRefraction {
	lines := splitLines(content)
	return p.decode(newLineQueue(lines), p.tail(lines))
}

// ParseLegacy decodes the legacy layout: blank and "..." lines are dropped and
// fields are consumed in order. With more than 12 tokens the last two are
// reserved for the device line and work id.
func (p *Parser) ParseLegacy(content string) *AutoRefraction {
	var tokens []string
	for _, l := range splitLines(content) {
		if l == "" || l == legacyPlaceholder {
			continue
		}
		tokens = append(tokens, l)
	}

	body := tokens
	if len(tokens) > refractionFields {
		body = tokens[:len(tokens)-2]
	}
	return p.decode(newLineQueue(body), p.tail(tokens))
}

func (p *Parser) tail(lines []string) Tail {
	if p.Tail == nil {
		return PositionalTail(lines)
	}
	return p.Tail(lines)
}

// decode reads the 32 body fields in layout order from q.
func (p *Parser) decode(q *lineQueue, t Tail) *AutoRefraction {
	r := &AutoRefraction{}

	r.Fecha = strPtr(q.next())
	r.Hora = strPtr(q.next())

	first, second := ToNum(q.next()), ToNum(q.next())
	r.PD, r.VD = p.Ranges.resolvePDVD(first, second)

	r.OD = EyeValue{S: strPtr(q.next()), C: strPtr(q.next()), A: strPtr(q.next())}
	r.SE.OD = strPtr(q.next())
	r.OI = EyeValue{S: strPtr(q.next()), C: strPtr(q.next()), A: strPtr(q.next())}
	r.SE.OI = strPtr(q.next())

	var k Kerato
	k.OD = readKeratoEye(q)
	r.Cyl.OD = strPtr(q.next())
	k.OI = readKeratoEye(q)
	r.Cyl.OI = strPtr(q.next())
	if k.HasKerato() {
		r.Kerato = &k
	}

	if t.Model != "" {
		r.Device = &Device{
			Model:   t.Model,
			FW:      t.FW,
			RawTail: strings.TrimSpace(t.Model + " " + t.FW),
		}
		r.Host = strPtr(t.Model)
	}
	r.WorkID = strPtr(t.WorkID)

	return r
}

func readKeratoEye(q *lineQueue) KeratoEye {
	var e KeratoEye
	for _, kv := range []*KValue{&e.H, &e.V, &e.AVE} {
		kv.D = ToNum(q.next())
		kv.MM = ToNum(q.next())
		kv.A = ToNum(q.next())
	}
	return e
}

// lineQueue hands out lines in order; reads past the end yield "".
type lineQueue struct {
	lines []string
	pos   int
}

func newLineQueue(lines []string) *lineQueue {
	return &lineQueue{lines: lines}
}

func (q *lineQueue) next() string {
	if q.pos >= len(q.lines) {
		return ""
	}
	s := q.lines[q.pos]
	q.pos++
	return s
}

// ============================================================================
// Helpers
// ============================================================================

var newlineNormalizer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// splitLines splits on any newline style and trims every line. Blank lines stay.
func splitLines(content string) []string {
	lines := strings.Split(newlineNormalizer.Replace(content), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}

// ToNum converts an instrument number ("43,25", " 7.85 ") to float64.
// The first comma is read as the decimal separator and whitespace is removed.
// Empty, unparsable or non-finite input yields nil.
func ToNum(s string) *float64 {
	s = strings.Replace(s, ",", ".", 1)
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return &n
}
