package utaformatix

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"gopkg.in/yaml.v3"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/evaluator"
)

// DetectFormat works out which format data is in. Cheap signature checks
// produce candidates, and each candidate is confirmed by actually parsing
// data with it. The first candidate that parses wins.
//
// Library errors while confirming a candidate only rule that candidate out.
// Evaluator faults abort detection.
func (u *UtaFormatix) DetectFormat(ctx context.Context, data []byte) (Format, error) {
	candidates := sniff(data)
	if len(candidates) == 0 {
		return "", ErrFormatNotRecognized
	}
	var found Format
	err := u.call(ctx, "detectFormat", func(h *evaluator.Host) error {
		defaults := Options{}.withDefaults(DefaultParseOptions().Options())
		for _, f := range candidates {
			if !h.HasExport(f.parseExport()) {
				continue
			}
			arg, err := parseArg(f, [][]byte{data})
			if err != nil {
				continue
			}
			_, err = h.Invoke(f.parseExport(), arg, defaults.arg())
			var convErr *ConversionError
			switch {
			case err == nil:
				found = f
				return nil
			case errors.As(err, &convErr):
				u.logger.Debug("candidate rejected", "format", f, "error", err)
			default:
				return err
			}
		}
		return ErrFormatNotRecognized
	})
	return found, err
}

// sniff returns the formats data could plausibly be in, most likely first.
func sniff(data []byte) []Format {
	switch {
	case len(data) == 0:
		return nil
	case bytes.HasPrefix(data, []byte("MThd")):
		if bytes.Contains(data, []byte("[Common]")) {
			return []Format{Vsq, VocaloidMid, StandardMid}
		}
		return []Format{StandardMid, Vsq, VocaloidMid}
	case bytes.HasPrefix(data, []byte("PK")):
		return sniffZip(data)
	case bytes.HasPrefix(data, []byte("SHARPKEY")):
		return []Format{Dv}
	}

	text := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF")), " \t\r\n")
	switch {
	case bytes.HasPrefix(text, []byte("<")):
		return sniffXML(text)
	case bytes.HasPrefix(text, []byte("{")):
		return sniffJSON(text)
	case bytes.Contains(data, []byte("[#SETTING]")),
		bytes.Contains(data, []byte("[#VERSION]")),
		bytes.Contains(data, []byte("[#0000]")):
		return []Format{Ust}
	}
	if f, ok := sniffYAML(text); ok {
		return []Format{f}
	}
	if !utf8.Valid(data) {
		return []Format{Tssln}
	}
	return nil
}

func sniffZip(data []byte) []Format {
	zr, err := openZip(data)
	if err != nil {
		return nil
	}
	exts := map[string]int{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == "Project/sequence.json" {
			return []Format{Vpr}
		}
		exts[strings.ToLower(path.Ext(f.Name))]++
	}
	switch {
	case exts[".ppsf"] > 0:
		return []Format{Ppsf}
	case exts[".ust"] > 0:
		return []Format{Ust}
	case exts[".musicxml"] > 0, exts[".xml"] > 0:
		return []Format{MusicXML}
	}
	return []Format{Vpr, Ppsf}
}

// sniffXML looks at the root element only.
func sniffXML(data []byte) []Format {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "vsq3", "vsq4":
			return []Format{Vsqx}
		case "score-partwise", "score-timewise":
			return []Format{MusicXML}
		case "Scenario":
			return []Format{Ccs}
		}
		return nil
	}
}

// sniffJSON inspects the top-level keys. Some editors pad their files with
// trailing NUL bytes.
func sniffJSON(data []byte) []Format {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimRight(data, "\x00"), &top); err != nil {
		return nil
	}
	has := func(key string) bool {
		_, ok := top[key]
		return ok
	}
	switch {
	case has("formatVersion") && has("project"):
		return []Format{UfDataFormat}
	case has("library") || has("renderConfig"):
		return []Format{Svp}
	case has("mixer") || has("meter"):
		return []Format{S5p}
	case has("ppsf"):
		return []Format{Ppsf}
	case has("tracks"):
		return []Format{Svp, S5p}
	}
	return nil
}

// sniffYAML recognizes OpenUtau projects.
func sniffYAML(data []byte) (Format, bool) {
	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return "", false
	}
	if _, ok := top["ustx_version"]; ok {
		return Ustx, true
	}
	return "", false
}
