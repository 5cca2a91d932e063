package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInstrumentText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"windows-1252 degree sign", []byte("167\xb0"), "167°"},
		{"utf-8 passes through", []byte("167°"), "167°"},
		{"bom stripped", []byte("\xef\xbb\xbf2025_07_01"), "2025_07_01"},
		{"ascii", []byte("KR-8900"), "KR-8900"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeInstrumentText(tt.in))
		})
	}
}

func TestDecodeWithLabel(t *testing.T) {
	got, err := DecodeWithLabel([]byte("5\xb0"), "latin1")
	require.NoError(t, err)
	assert.Equal(t, "5°", got)

	got, err = DecodeWithLabel([]byte("5\xb0"), "")
	require.NoError(t, err)
	assert.Equal(t, "5°", got)

	_, err = DecodeWithLabel([]byte("x"), "klingon-8")
	assert.Error(t, err)
}

func TestEncodeInstrumentText(t *testing.T) {
	out, err := EncodeInstrumentText("167°", EncodingWindows1252)
	require.NoError(t, err)
	assert.Equal(t, []byte("167\xb0"), out)

	out, err = EncodeInstrumentText("167°", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("167°"), out)

	_, err = EncodeInstrumentText("€", EncodingLatin1)
	assert.Error(t, err, "euro sign does not exist in latin1")

	_, err = EncodeInstrumentText("x", "ebcdic")
	assert.Error(t, err)
}

func TestEncodeDecode_FileRoundTrip(t *testing.T) {
	text := SerializeDat(ParseDat(sampleDat))
	raw, err := EncodeInstrumentText(text, EncodingWindows1252)
	require.NoError(t, err)

	assert.Equal(t, ParseDat(sampleDat), ParseDat(DecodeInstrumentText(raw)))
}
