package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// ============================================================================
// Serializer
// ============================================================================

// SerializeDat writes r back in the strict layout. Nil fields become empty
// lines so every value keeps its line index. Keratometry and the final
// cylinders are written only when r carries keratometry.
func SerializeDat(r *AutoRefraction) string {
	if r == nil {
		r = &AutoRefraction{}
	}

	lines := make([]string, 0, 36)
	lines = append(lines,
		deref(r.Fecha),
		deref(r.Hora),
		formatNum(r.PD),
		formatNum(r.VD),
		deref(r.OD.S), deref(r.OD.C), deref(r.OD.A), deref(r.SE.OD),
		deref(r.OI.S), deref(r.OI.C), deref(r.OI.A), deref(r.SE.OI),
	)

	if r.Kerato != nil {
		lines = appendKeratoEye(lines, r.Kerato.OD)
		lines = append(lines, deref(r.Cyl.OD))
		lines = appendKeratoEye(lines, r.Kerato.OI)
		lines = append(lines, deref(r.Cyl.OI))
	}

	if r.Device != nil {
		lines = append(lines, strings.TrimSpace(r.Device.Model+"   "+r.Device.FW))
	}
	lines = append(lines, deref(r.WorkID))

	return strings.Join(lines, "\n")
}

func appendKeratoEye(lines []string, e KeratoEye) []string {
	for _, kv := range []KValue{e.H, e.V, e.AVE} {
		lines = append(lines, formatNum(kv.D), formatNum(kv.MM), formatNum(kv.A))
	}
	return lines
}

// formatNum prints the shortest form that parses back to the same value.
func formatNum(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// ============================================================================
// Patient context
// ============================================================================

// Patient the admitted patient a measurement belongs to.
type Patient struct {
	Name      string `json:"nombre" yaml:"nombre"`
	Surname   string `json:"apellido" yaml:"apellido"` // "GATTO, Marta" style allowed
	HistoryID string `json:"hc" yaml:"hc"`
}

// PatientContext what the caller knows about the patient when saving a file.
type PatientContext struct {
	Selected    *Patient `json:"selected,omitempty"`    // patient picked in the list
	Active      *Patient `json:"active,omitempty"`      // patient currently in the consulting room
	HistoryID   string   `json:"historyId,omitempty"`   // history id typed in this session, wins over the patient's
	CurrentName string   `json:"currentName,omitempty"` // freeform name field
}

// Patient returns the selected patient, else the active one.
func (c PatientContext) Patient() *Patient {
	if c.Selected != nil {
		return c.Selected
	}
	return c.Active
}

// ============================================================================
// Filename
// ============================================================================

const (
	placeholder4 = "----"
	placeholder2 = "--"
)

var horaPattern = regexp.MustCompile(`(?i)(AM|PM)?\s*(\d{2}):(\d{2})`)

// BuildDatFilename builds
//
//	<model>-<workId>-<year>-<month>-<day>-<hour>-<minute>-<historyId>-<surname4>.dat
//
// Unknown parts are filled with "----" or "--".
func BuildDatFilename(r *AutoRefraction, ctx PatientContext) string {
	if r == nil {
		r = &AutoRefraction{}
	}

	model := placeholder4
	if r.Device != nil && r.Device.Model != "" {
		model = r.Device.Model
	}
	workID := placeholder4
	if r.WorkID != nil {
		workID = *r.WorkID
	}

	year, month, day := placeholder4, placeholder2, placeholder2
	if r.Fecha != nil {
		if f := strings.Split(*r.Fecha, "_"); len(f) == 3 {
			year, month, day = f[0], f[1], f[2]
		}
	}

	hour, minute := placeholder2, placeholder2
	if r.Hora != nil {
		if m := horaPattern.FindStringSubmatch(*r.Hora); m != nil {
			hour, minute = m[2], m[3]
		}
	}

	patient := ctx.Patient()
	history := placeholder4
	if patient != nil && patient.HistoryID != "" {
		history = patient.HistoryID
	}
	if h := strings.TrimSpace(ctx.HistoryID); h != "" {
		history = strings.ToUpper(h)
	}

	surname := placeholder4
	switch {
	case patient != nil && patient.Surname != "":
		first, _, _ := strings.Cut(patient.Surname, ",")
		surname = surname4(first)
	case strings.TrimSpace(ctx.CurrentName) != "":
		surname = surname4(ctx.CurrentName)
	}

	return strings.Join([]string{
		model, workID, year, month, day, hour, minute, history, surname,
	}, "-") + ".dat"
}

// surname4 uppercases s and pads or cuts it to exactly four characters.
func surname4(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s)) + placeholder4
	out := make([]rune, 0, 4)
	for _, r := range s {
		if len(out) == 4 {
			break
		}
		out = append(out, r)
	}
	return string(out)
}

// FilenameInfo parts recovered from a name built by BuildDatFilename.
// Placeholder parts are returned as empty strings.
type FilenameInfo struct {
	Model     string `json:"model"`
	WorkID    string `json:"workId"`
	Year      string `json:"year"`
	Month     string `json:"month"`
	Day       string `json:"day"`
	Hour      string `json:"hour"`
	Minute    string `json:"minute"`
	HistoryID string `json:"historyId"`
	Surname   string `json:"surname"`
}

var filenamePattern = regexp.MustCompile(
	`^(.+)-([^-]+|----)-(\d{4}|----)-(\d{2}|--)-(\d{2}|--)-(\d{2}|--)-(\d{2}|--)-([^-]+|----)-(.{4})\.(?i:dat)$`)

// ParseFilename splits a name produced by BuildDatFilename. Model names may
// contain dashes (KR-8900); the fixed-width parts are matched from the right.
func ParseFilename(name string) (FilenameInfo, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return FilenameInfo{}, false
	}
	clean := func(s string) string {
		if s == placeholder4 || s == placeholder2 {
			return ""
		}
		return s
	}
	return FilenameInfo{
		Model:     clean(m[1]),
		WorkID:    clean(m[2]),
		Year:      clean(m[3]),
		Month:     clean(m[4]),
		Day:       clean(m[5]),
		Hour:      clean(m[6]),
		Minute:    clean(m[7]),
		HistoryID: clean(m[8]),
		Surname:   strings.TrimRight(m[9], "-"),
	}, true
}
