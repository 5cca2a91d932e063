package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleDat is a full KR-8900 record in the strict layout.
var sampleDat = strings.Join([]string{
	"2025_07_01",
	"AM 01:32",
	"62",
	"12",
	"+0.25", "-0.50", "167°", "+0.00",
	"-1.00", "-0.75", "5°", "-1.25",
	"43.25", "7.80", "180", "44.00", "7.67", "90", "43.62", "7.74", "",
	"-0.75",
	"43,50", "7,76", "175", "44.25", "7.63", "85", "43.87", "7.70", "",
	"-0.75",
	"KR-8900   1.07",
	"0895",
}, "\n")

func f64(v float64) *float64 { return &v }
func str(s string) *string    { return &s }

func TestParseDat_StrictSample(t *testing.T) {
	r := ParseDat(sampleDat)

	assert.Equal(t, str("2025_07_01"), r.Fecha)
	assert.Equal(t, str("AM 01:32"), r.Hora)
	assert.Equal(t, f64(62), r.PD)
	assert.Equal(t, f64(12), r.VD)

	assert.Equal(t, EyeValue{S: str("+0.25"), C: str("-0.50"), A: str("167°")}, r.OD)
	assert.Equal(t, EyeValue{S: str("-1.00"), C: str("-0.75"), A: str("5°")}, r.OI)
	assert.Equal(t, EyePair{OD: str("+0.00"), OI: str("-1.25")}, r.SE)
	assert.Equal(t, EyePair{OD: str("-0.75"), OI: str("-0.75")}, r.Cyl)

	require.NotNil(t, r.Kerato)
	assert.Equal(t, KValue{D: f64(43.25), MM: f64(7.80), A: f64(180)}, r.Kerato.OD.H)
	assert.Equal(t, KValue{D: f64(44.00), MM: f64(7.67), A: f64(90)}, r.Kerato.OD.V)
	assert.Equal(t, KValue{D: f64(43.62), MM: f64(7.74)}, r.Kerato.OD.AVE)
	assert.Equal(t, KValue{D: f64(43.5), MM: f64(7.76), A: f64(175)}, r.Kerato.OI.H)
	assert.Nil(t, r.Kerato.OI.AVE.A)

	require.NotNil(t, r.Device)
	assert.Equal(t, Device{Model: "KR-8900", FW: "1.07", RawTail: "KR-8900 1.07"}, *r.Device)
	assert.Equal(t, str("KR-8900"), r.Host)
	assert.Equal(t, str("0895"), r.WorkID)
}

func TestParseDat_LineEndings(t *testing.T) {
	want := ParseDat(sampleDat)
	for name, sep := range map[string]string{"crlf": "\r\n", "cr": "\r"} {
		t.Run(name, func(t *testing.T) {
			got := ParseDat(strings.ReplaceAll(sampleDat, "\n", sep))
			assert.Equal(t, want, got)
		})
	}
}

func TestParseDat_BlankLinesKeepPositions(t *testing.T) {
	// OD sphere missing: the cylinder must stay on line 5.
	content := strings.Join([]string{"2025_07_01", "", "", "", "", "-0.50", "10°", "-0.25"}, "\n")
	r := ParseDat(content)

	assert.Nil(t, r.Hora)
	assert.Nil(t, r.PD)
	assert.Nil(t, r.VD)
	assert.Nil(t, r.OD.S)
	assert.Equal(t, str("-0.50"), r.OD.C)
	assert.Equal(t, str("10°"), r.OD.A)
	assert.Equal(t, str("-0.25"), r.SE.OD)
}

func TestParseDat_PDVD(t *testing.T) {
	tests := []struct {
		name         string
		line2, line3 string
		pd, vd       *float64
	}{
		{"pd then vd", "62", "12", f64(62), f64(12)},
		{"vd then pd", "12", "62", f64(62), f64(12)},
		{"both pd-like keeps order", "60", "61", f64(60), f64(61)},
		{"both out of range keeps order", "100", "2", f64(100), f64(2)},
		{"decimal comma", "63,5", "13,5", f64(63.5), f64(13.5)},
		{"only first pd-like", "64", "", f64(64), nil},
		{"only first vd-like", "13", "", nil, f64(13)},
		{"only first unknown", "30", "", f64(30), nil},
		{"only second vd-like", "", "14", nil, f64(14)},
		{"only second pd-like", "", "58", f64(58), nil},
		{"only second unknown", "", "30", f64(30), nil},
		{"garbage is absent", "abc", "12", nil, f64(12)},
		{"none", "", "", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseDat(strings.Join([]string{"", "", tt.line2, tt.line3}, "\n"))
			assert.Equal(t, tt.pd, r.PD)
			assert.Equal(t, tt.vd, r.VD)
		})
	}
}

func TestParseDat_CustomRanges(t *testing.T) {
	p := NewParser()
	p.Ranges = PlausibleRanges{PDMin: 40, PDMax: 50, VDMin: 10, VDMax: 14}

	r := p.Parse("\n\n12\n45")
	assert.Equal(t, f64(45), r.PD)
	assert.Equal(t, f64(12), r.VD)
}

func TestParseDat_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "\n\n\n", "   "} {
		r := ParseDat(in)
		assert.Equal(t, &AutoRefraction{}, r, "input %q", in)
	}
}

func TestParseDat_Garbage(t *testing.T) {
	assert.NotPanics(t, func() {
		r := ParseDat("\x00\x01\n\xff\xfe\n∞\nNaN\nInf\n" + strings.Repeat("x\n", 100))
		assert.Nil(t, r.PD)
		assert.Nil(t, r.VD)
		assert.Nil(t, r.Kerato)
	})
}

func TestParseDat_Deterministic(t *testing.T) {
	assert.Equal(t, ParseDat(sampleDat), ParseDat(sampleDat))
}

// Kerato is present exactly when one of the six D values parses.
func TestParseDat_KeratoPresence(t *testing.T) {
	dLines := []int{12, 15, 18, 22, 25, 28}

	for mask := 0; mask < 1<<len(dLines); mask++ {
		lines := make([]string, 32)
		// MM and axis values alone never make kerato present.
		for _, i := range dLines {
			lines[i+1] = "7.80"
			lines[i+2] = "90"
		}
		for bit, i := range dLines {
			if mask&(1<<bit) != 0 {
				lines[i] = "43.25"
			} else {
				lines[i] = "n/a"
			}
		}

		r := ParseDat(strings.Join(lines, "\n"))
		if mask == 0 {
			assert.Nil(t, r.Kerato, "mask %06b", mask)
			assert.False(t, r.HasKerato())
			continue
		}
		require.NotNil(t, r.Kerato, "mask %06b", mask)
		assert.True(t, r.HasKerato())
	}
}

func TestToNum(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"43.25", f64(43.25)},
		{"43,25", f64(43.25)},
		{" 7 . 80 ", f64(7.8)},
		{"+0.50", f64(0.5)},
		{"-12", f64(-12)},
		{"1,5,0", nil},
		{"", nil},
		{"   ", nil},
		{"abc", nil},
		{"NaN", nil},
		{"Inf", nil},
		{"-Infinity", nil},
		{"1e400", nil},
		{"167°", nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ToNum(tt.in))
		})
	}
}

func TestPositionalTail(t *testing.T) {
	t.Run("model and firmware", func(t *testing.T) {
		got := PositionalTail([]string{"x", "KR-8900 1.07", "", "0895", ""})
		assert.Equal(t, Tail{Model: "KR-8900", FW: "1.07", WorkID: "0895"}, got)
	})
	t.Run("model only", func(t *testing.T) {
		got := PositionalTail([]string{"KR-8900", "0895"})
		assert.Equal(t, Tail{Model: "KR-8900", WorkID: "0895"}, got)
	})
	t.Run("single line", func(t *testing.T) {
		assert.Equal(t, Tail{}, PositionalTail([]string{"", "0895"}))
	})
}

func TestModelPrefixTail(t *testing.T) {
	tail := ModelPrefixTail(nil)

	assert.Equal(t, Tail{Model: "KR-8900", FW: "1.07", WorkID: "0895"},
		tail([]string{"-0.75", "KR-8900 1.07", "0895"}))
	assert.Equal(t, Tail{Model: "ARK1S"},
		tail([]string{"-0.75", "ARK1S"}), "device without work id")
	assert.Equal(t, Tail{}, tail([]string{"-1.25", "-0.75"}), "refraction values are not a device")
}

func TestParser_ModelPrefixTailOnShortFile(t *testing.T) {
	// Twelve refraction lines, no tail: the positional rule would read se.OI as work id.
	content := strings.Join([]string{
		"2025_07_01", "PM 10:05", "61", "11",
		"+0.25", "-0.50", "167°", "+0.00",
		"-1.00", "-0.75", "5°", "-1.25",
	}, "\n")

	positional := ParseDat(content)
	assert.Equal(t, str("-1.25"), positional.WorkID)

	p := NewParser()
	p.Tail = ModelPrefixTail(nil)
	strict := p.Parse(content)
	assert.Nil(t, strict.WorkID)
	assert.Nil(t, strict.Device)
	assert.Nil(t, strict.Host)
}

func TestParseDatLegacy(t *testing.T) {
	content := strings.Join([]string{
		"2025_07_01",
		"",
		"AM 01:32",
		"12",
		"62",
		"...",
		"+0.25", "-0.50", "167°", "+0.00",
		"",
		"-1.00", "-0.75", "5°", "-1.25",
		"43.25", "7.80", "180", "44.00", "7.67", "90", "43.62", "7.74", "0",
		"-0.75",
		"KR-8900 1.07",
		"0895",
	}, "\n")

	r := ParseDatLegacy(content)
	assert.Equal(t, str("2025_07_01"), r.Fecha)
	assert.Equal(t, str("AM 01:32"), r.Hora)
	assert.Equal(t, f64(62), r.PD)
	assert.Equal(t, f64(12), r.VD)
	assert.Equal(t, str("-0.75"), r.OI.C)
	assert.Equal(t, str("-1.25"), r.SE.OI)
	require.NotNil(t, r.Kerato)
	assert.Equal(t, f64(43.62), r.Kerato.OD.AVE.D)
	assert.Equal(t, str("-0.75"), r.Cyl.OD)
	// OI keratometry missing; the tail is not consumed as body fields.
	assert.Nil(t, r.Kerato.OI.H.D)
	assert.Nil(t, r.Cyl.OI)
	require.NotNil(t, r.Device)
	assert.Equal(t, "KR-8900", r.Device.Model)
	assert.Equal(t, str("0895"), r.WorkID)
}

func TestParseDatLegacy_Short(t *testing.T) {
	r := ParseDatLegacy("2025_07_01\n\nAM 01:32\n")
	assert.Equal(t, str("2025_07_01"), r.Fecha)
	assert.Equal(t, str("AM 01:32"), r.Hora)
	assert.Nil(t, r.PD)
	assert.Nil(t, r.Kerato)
	// Two tokens: positional tail reads them as device + work id.
	assert.Equal(t, str("AM 01:32"), r.WorkID)
}

func TestParser_ConcurrentUse(t *testing.T) {
	p := NewParser()
	want := p.Parse(sampleDat)

	done := make(chan *AutoRefraction)
	for i := 0; i < 8; i++ {
		go func() { done <- p.Parse(sampleDat) }()
	}
	for i := 0; i < 8; i++ {
		assert.Equal(t, want, <-done)
	}
}
