package utaformatix

import (
	"fmt"
	"strings"
)

// Format identifies a project file format the library can read or write.
type Format string

const (
	StandardMid  Format = "standardMid"
	MusicXML     Format = "musicXml"
	Ccs          Format = "ccs"
	Dv           Format = "dv"
	Ustx         Format = "ustx"
	Ppsf         Format = "ppsf"
	S5p          Format = "s5p"
	Svp          Format = "svp"
	Tssln        Format = "tssln"
	UfDataFormat Format = "ufData"
	Ust          Format = "ust"
	VocaloidMid  Format = "vocaloidMid"
	Vsq          Format = "vsq"
	Vsqx         Format = "vsqx"
	Vpr          Format = "vpr"
)

type formatInfo struct {
	suffix      string // export name suffix: parse<suffix>, generate<suffix>
	ext         string
	description string
	multiInput  bool // parse takes one file per track
	multiOutput bool // generate returns one file per track
}

var formatTable = map[Format]formatInfo{
	StandardMid:  {suffix: "StandardMid", ext: "mid", description: "Standard MIDI"},
	MusicXML:     {suffix: "MusicXml", ext: "musicxml", description: "MusicXML", multiOutput: true},
	Ccs:          {suffix: "Ccs", ext: "ccs", description: "CeVIO's project"},
	Dv:           {suffix: "Dv", ext: "dv", description: "DeepVocal's project"},
	Ustx:         {suffix: "Ustx", ext: "ustx", description: "OpenUtau's project"},
	Ppsf:         {suffix: "Ppsf", ext: "ppsf", description: "Piapro Studio's project"},
	S5p:          {suffix: "S5p", ext: "s5p", description: "Old Synthesizer V's project"},
	Svp:          {suffix: "Svp", ext: "svp", description: "Synthesizer V's project"},
	Tssln:        {suffix: "Tssln", ext: "tssln", description: "VoiSona's project"},
	UfDataFormat: {suffix: "UfData", ext: "ufdata", description: "UtaFormatix data"},
	Ust:          {suffix: "Ust", ext: "ust", description: "UTAU's project", multiInput: true, multiOutput: true},
	VocaloidMid:  {suffix: "VocaloidMid", ext: "mid", description: "VOCALOID 1's project"},
	Vsq:          {suffix: "Vsq", ext: "vsq", description: "VOCALOID 2's project"},
	Vsqx:         {suffix: "Vsqx", ext: "vsqx", description: "VOCALOID 3/4's project"},
	Vpr:          {suffix: "Vpr", ext: "vpr", description: "VOCALOID 5's project"},
}

// AllFormats lists every known format in display order.
var AllFormats = []Format{
	StandardMid, MusicXML, Ccs, Dv, Ustx, Ppsf, S5p, Svp, Tssln,
	UfDataFormat, Ust, VocaloidMid, Vsq, Vsqx, Vpr,
}

// ParseFormat resolves a format identifier, case-insensitively. File
// extensions with or without the leading dot are accepted too; ".mid"
// resolves to StandardMid.
func ParseFormat(s string) (Format, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	for _, f := range AllFormats {
		if strings.ToLower(string(f)) == name {
			return f, nil
		}
	}
	for _, f := range AllFormats {
		if formatTable[f].ext == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) String() string { return string(f) }

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	_, ok := formatTable[f]
	return ok
}

// Extension is the usual file extension, without the dot.
func (f Format) Extension() string { return formatTable[f].ext }

// Description is a human readable name.
func (f Format) Description() string { return formatTable[f].description }

// MultiFileInput reports whether parsing takes one file per track.
func (f Format) MultiFileInput() bool { return formatTable[f].multiInput }

// MultiFileOutput reports whether generating yields one file per track.
func (f Format) MultiFileOutput() bool { return formatTable[f].multiOutput }

func (f Format) parseExport() string    { return "parse" + formatTable[f].suffix }
func (f Format) generateExport() string { return "generate" + formatTable[f].suffix }

// Capabilities describes what the loaded library can do with a format.
type Capabilities struct {
	Format      Format
	CanParse    bool
	CanGenerate bool
}
