//go:build js && wasm

package main

import (
	"encoding/json"
	"strings"
	"syscall/js"

	parser "github.com/ojos-clinic/go-autoref-parser"
)

func failure(msg string) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   msg,
	}
}

// parseDat(content, [layout]) parses .dat text and returns the record as JSON.
func parseDat(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return failure("no content given")
	}

	layout := parser.LayoutAuto
	if len(args) >= 2 {
		layout = parser.ParseLayout(args[1].String())
	}

	result, err := parser.ParseDatFileByLayout(strings.NewReader(args[0].String()), "input.dat", layout)
	if err != nil {
		return failure(err.Error())
	}
	rec := result.Records[0]

	jsonBytes, err := json.Marshal(rec.Refraction)
	if err != nil {
		return failure("JSON encoding failed: " + err.Error())
	}

	return map[string]interface{}{
		"success": true,
		"data":    string(jsonBytes),
		"summary": map[string]interface{}{
			"layout":    string(rec.Layout),
			"hasKerato": rec.Refraction.HasKerato(),
			"digest":    rec.Digest,
		},
	}
}

// serializeDat(recordJSON) returns the .dat text of a record.
func serializeDat(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return failure("no record given")
	}
	var r parser.AutoRefraction
	if err := json.Unmarshal([]byte(args[0].String()), &r); err != nil {
		return failure("invalid record: " + err.Error())
	}
	return map[string]interface{}{
		"success": true,
		"data":    parser.SerializeDat(&r),
	}
}

// buildDatFilename(recordJSON, patientContextJSON) returns the file name to save under.
func buildDatFilename(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return failure("no record given")
	}
	var r parser.AutoRefraction
	if err := json.Unmarshal([]byte(args[0].String()), &r); err != nil {
		return failure("invalid record: " + err.Error())
	}
	var ctx parser.PatientContext
	if len(args) >= 2 && args[1].Type() == js.TypeString && args[1].String() != "" {
		if err := json.Unmarshal([]byte(args[1].String()), &ctx); err != nil {
			return failure("invalid patient: " + err.Error())
		}
	}
	return map[string]interface{}{
		"success": true,
		"data":    parser.BuildDatFilename(&r, ctx),
	}
}

func getSupportedLayouts(this js.Value, args []js.Value) interface{} {
	jsonBytes, _ := json.Marshal(parser.GetSupportedLayouts())
	return string(jsonBytes)
}

func main() {
	c := make(chan struct{})

	js.Global().Set("parseDat", js.FuncOf(parseDat))
	js.Global().Set("serializeDat", js.FuncOf(serializeDat))
	js.Global().Set("buildDatFilename", js.FuncOf(buildDatFilename))
	js.Global().Set("getSupportedLayouts", js.FuncOf(getSupportedLayouts))

	js.Global().Set("wasmReady", true)

	println("autoref parser WASM module loaded")

	<-c
}
