// Package parser auto-refractor / keratometer (.dat) file parser.
// Decodes the line-oriented text files written by auto-refractor / keratometer
// instruments (KR-8900 family) into AutoRefraction records, and writes them back.
package parser

// ============================================================================
// Record types
// ============================================================================

// EyeValue sphere / cylinder / axis of one eye, kept exactly as the instrument
// printed them ("+0.25", "-0.50", "167°").
type EyeValue struct {
	S *string `json:"S" yaml:"S"` // sphere
	C *string `json:"C" yaml:"C"` // cylinder
	A *string `json:"A" yaml:"A"` // axis
}

// KValue keratometry reading: power, radius and axis.
type KValue struct {
	D  *float64 `json:"D" yaml:"D"`   // diopters
	MM *float64 `json:"MM" yaml:"MM"` // radius in millimeters
	A  *float64 `json:"A" yaml:"A"`   // axis in degrees
}

// KeratoEye horizontal, vertical and average meridians of one eye.
type KeratoEye struct {
	H   KValue `json:"H" yaml:"H"`
	V   KValue `json:"V" yaml:"V"`
	AVE KValue `json:"AVE" yaml:"AVE"`
}

// Kerato keratometry of both eyes.
type Kerato struct {
	OD KeratoEye `json:"OD" yaml:"OD"`
	OI KeratoEye `json:"OI" yaml:"OI"`
}

// EyePair one string value per eye (spherical equivalent, final cylinder).
type EyePair struct {
	OD *string `json:"OD" yaml:"OD"`
	OI *string `json:"OI" yaml:"OI"`
}

// Device instrument identification taken from the file tail.
type Device struct {
	Model   string `json:"model" yaml:"model"`
	FW      string `json:"fw,omitempty" yaml:"fw,omitempty"`
	RawTail string `json:"rawTail" yaml:"rawTail"`
}

// AutoRefraction one measurement as written by the instrument.
// Records returned by the parser are never modified afterwards.
type AutoRefraction struct {
	Fecha  *string  `json:"fecha" yaml:"fecha"` // date token, e.g. 2025_07_01
	Hora   *string  `json:"hora" yaml:"hora"`   // time token, e.g. "AM 01:32"
	PD     *float64 `json:"PD" yaml:"PD"`       // pupillary distance
	VD     *float64 `json:"VD" yaml:"VD"`       // vertex distance
	OD     EyeValue `json:"OD" yaml:"OD"`
	OI     EyeValue `json:"OI" yaml:"OI"`
	SE     EyePair  `json:"se" yaml:"se"`
	Cyl    EyePair  `json:"cyl" yaml:"cyl"`
	Kerato *Kerato  `json:"kerato,omitempty" yaml:"kerato,omitempty"`
	Device *Device  `json:"device,omitempty" yaml:"device,omitempty"`
	Host   *string  `json:"host" yaml:"host"`
	WorkID *string  `json:"workId" yaml:"workId"`
}

// HasKerato reports whether any of the six keratometry power values is set.
// The parser only builds the Kerato group when this holds.
func (k *Kerato) HasKerato() bool {
	if k == nil {
		return false
	}
	for _, d := range []*float64{
		k.OD.H.D, k.OD.V.D, k.OD.AVE.D,
		k.OI.H.D, k.OI.V.D, k.OI.AVE.D,
	} {
		if d != nil {
			return true
		}
	}
	return false
}

// HasKerato reports whether the record carries keratometry.
func (r *AutoRefraction) HasKerato() bool {
	return r != nil && r.Kerato.HasKerato()
}

// strPtr returns nil for an empty string.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
