package utaformatix

import (
	"encoding/json"
	"fmt"
)

// UfData is the UtaFormatix data document every parser produces and every
// generator consumes. See https://github.com/sdercolin/utaformatix-data.
type UfData struct {
	FormatVersion int     `json:"formatVersion"`
	Project       Project `json:"project"`
}

// Project is the root project object.
type Project struct {
	Name           string          `json:"name"`
	Tracks         []Track         `json:"tracks"`
	TimeSignatures []TimeSignature `json:"timeSignatures"`
	Tempos         []Tempo         `json:"tempos"`
	// MeasurePrefix counts leading measures that cannot hold notes.
	MeasurePrefix int `json:"measurePrefix"`
}

type Track struct {
	Name  string `json:"name"`
	Notes []Note `json:"notes"`
	Pitch *Pitch `json:"pitch"`
}

type Note struct {
	Key     int     `json:"key"` // semitone, center C = 60
	TickOn  int64   `json:"tickOn"`
	TickOff int64   `json:"tickOff"`
	Lyric   string  `json:"lyric"`
	Phoneme *string `json:"phoneme"`
}

// Pitch holds a pitch curve. When IsAbsolute is set, nil values mean "use
// the default pitch".
type Pitch struct {
	Ticks      []int64    `json:"ticks"`
	Values     []*float64 `json:"values"`
	IsAbsolute bool       `json:"isAbsolute"`
}

type TimeSignature struct {
	MeasurePosition int `json:"measurePosition"`
	Numerator       int `json:"numerator"`
	Denominator     int `json:"denominator"`
}

type Tempo struct {
	TickPosition int64   `json:"tickPosition"`
	Bpm          float64 `json:"bpm"`
}

// MarshalJSON writes nil lists as [] since the library iterates them
// without null checks.
func (p Project) MarshalJSON() ([]byte, error) {
	type plain Project
	out := plain(p)
	out.Tracks = orEmpty(out.Tracks)
	out.TimeSignatures = orEmpty(out.TimeSignatures)
	out.Tempos = orEmpty(out.Tempos)
	return json.Marshal(out)
}

func (t Track) MarshalJSON() ([]byte, error) {
	type plain Track
	out := plain(t)
	out.Notes = orEmpty(out.Notes)
	return json.Marshal(out)
}

func (p Pitch) MarshalJSON() ([]byte, error) {
	type plain Pitch
	out := plain(p)
	out.Ticks = orEmpty(out.Ticks)
	out.Values = orEmpty(out.Values)
	return json.Marshal(out)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func decodeUfData(raw []byte) (*UfData, error) {
	var data UfData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding project: %w", err)
	}
	return &data, nil
}

// JapaneseLyricsType is the writing system and phonetic style of a
// project's lyrics.
type JapaneseLyricsType string

const (
	LyricsUnknown   JapaneseLyricsType = "Unknown"
	LyricsRomajiCv  JapaneseLyricsType = "RomajiCv"
	LyricsRomajiVcv JapaneseLyricsType = "RomajiVcv"
	LyricsKanaCv    JapaneseLyricsType = "KanaCv"
	LyricsKanaVcv   JapaneseLyricsType = "KanaVcv"
)

// Valid reports whether t is one of the known, determined types.
func (t JapaneseLyricsType) Valid() bool {
	switch t {
	case LyricsRomajiCv, LyricsRomajiVcv, LyricsKanaCv, LyricsKanaVcv:
		return true
	}
	return false
}
