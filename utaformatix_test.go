package utaformatix

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/bundle"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/evaluator"
)

const sampleUfData = `{
  "formatVersion": 1,
  "project": {
    "name": "sample",
    "tracks": [
      {"name": "Lead", "notes": [
        {"key": 60, "tickOn": 0, "tickOff": 480, "lyric": "か", "phoneme": null},
        {"key": 62, "tickOn": 480, "tickOff": 960, "lyric": "", "phoneme": null}
      ], "pitch": null},
      {"name": "Harmony", "notes": [
        {"key": 64, "tickOn": 960, "tickOff": 1440, "lyric": "ら", "phoneme": null}
      ], "pitch": null}
    ],
    "timeSignatures": [{"measurePosition": 0, "numerator": 4, "denominator": 4}],
    "tempos": [{"tickPosition": 0, "bpm": 150}],
    "measurePrefix": 0
  }
}`

func fakeLib(t *testing.T) string {
	t.Helper()
	src, err := os.ReadFile("testdata/fakelib.js")
	require.NoError(t, err)
	return string(src)
}

func newTestInstance(t *testing.T, opts ...Option) *UtaFormatix {
	t.Helper()
	u, err := New(append([]Option{WithBundle(fakeLib(t))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = u.Close() })
	return u
}

func TestNew_Errors(t *testing.T) {
	t.Run("bad bundle", func(t *testing.T) {
		_, err := New(WithBundle("throw new Error('boom')"))
		require.ErrorIs(t, err, ErrInitialization)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := New(WithBundleFile("testdata/does-not-exist.js"))
		require.Error(t, err)
	})
	t.Run("no bundle", func(t *testing.T) {
		if _, err := bundle.Default(); err == nil {
			t.Skip("a bundle is embedded")
		}
		_, err := New()
		require.ErrorIs(t, err, ErrNoBundle)
		assert.Contains(t, err.Error(), "WithBundle")
	})
	t.Run("wrong global", func(t *testing.T) {
		_, err := New(WithBundle(fakeLib(t)), WithGlobalName("somethingElse"))
		require.ErrorIs(t, err, ErrInitialization)
	})
}

func TestWithBundleFile(t *testing.T) {
	u, err := New(WithBundleFile("testdata/fakelib.js"))
	require.NoError(t, err)
	defer u.Close()
	assert.NotEmpty(t, u.Engine())
}

func TestListSupportedFormats(t *testing.T) {
	u := newTestInstance(t)
	formats, err := u.ListSupportedFormats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Format{StandardMid, UfDataFormat, Ust, Vsqx}, formats)

	caps, err := u.Capabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, caps, 4)
	assert.Equal(t, Capabilities{Format: Vsqx, CanParse: true}, caps[3])
	assert.Equal(t, Capabilities{Format: Ust, CanParse: true, CanGenerate: true}, caps[2])
}

func TestParse_AppliesDefaultOptions(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	data, err := u.Parse(ctx, UfDataFormat, nil, []byte(sampleUfData))
	require.NoError(t, err)
	assert.Equal(t, "sample", data.Project.Name)
	require.Len(t, data.Project.Tracks, 2)
	assert.Equal(t, "あ", data.Project.Tracks[0].Notes[1].Lyric)
	assert.InDelta(t, 150, data.Project.Tempos[0].Bpm, 0)

	data, err = u.Parse(ctx, UfDataFormat, ParseOptions{DefaultLyric: "ら"}.Options(), []byte(sampleUfData))
	require.NoError(t, err)
	assert.Equal(t, "ら", data.Project.Tracks[0].Notes[1].Lyric)
}

func TestParse_ArgumentErrors(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	_, err := u.Parse(ctx, "nope", nil, []byte("x"))
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = u.Parse(ctx, UfDataFormat, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = u.Parse(ctx, UfDataFormat, nil, []byte("a"), []byte("b"))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = u.Parse(ctx, Ust, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = u.Parse(ctx, Svp, nil, []byte("{}"))
	require.ErrorIs(t, err, ErrNoSuchExport)
}

func TestConvert_SingleFile(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	mid, err := u.Convert(ctx, []byte(sampleUfData), UfDataFormat, StandardMid, nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(mid), "MThd"))

	format, err := u.DetectFormat(ctx, mid)
	require.NoError(t, err)
	assert.Equal(t, StandardMid, format)

	back, err := u.Parse(ctx, StandardMid, nil, mid)
	require.NoError(t, err)
	assert.Equal(t, "sample", back.Project.Name)
	assert.Equal(t, "あ", back.Project.Tracks[0].Notes[1].Lyric)
}

func TestConvert_MultiFileOutput(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	files, err := u.ConvertAll(ctx, []byte(sampleUfData), UfDataFormat, Ust, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Contains(t, string(files[0]), "Lyric=か")
	assert.Contains(t, string(files[1]), "Lyric=ら")

	archive, err := u.Convert(ctx, []byte(sampleUfData), UfDataFormat, Ust, nil)
	require.NoError(t, err)
	unpacked, ok := unpackFiles(archive)
	require.True(t, ok)
	assert.Equal(t, files, unpacked)

	// the archive parses back as one project with a track per file
	data, err := u.Parse(ctx, Ust, nil, archive)
	require.NoError(t, err)
	assert.Len(t, data.Project.Tracks, 2)
	assert.Equal(t, "sample", data.Project.Name)

	format, err := u.DetectFormat(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, Ust, format)
}

func TestConvert_ShiftJISUst(t *testing.T) {
	u := newTestInstance(t)
	// "Lyric=あ" with あ in Shift_JIS
	ust := []byte("[#SETTING]\r\nTempo=100\r\n[#0000]\r\nLength=480\r\nLyric=\x82\xa0\r\nNoteNum=65\r\n[#TRACKEND]\r\n")

	format, err := u.DetectFormat(context.Background(), ust)
	require.NoError(t, err)
	require.Equal(t, Ust, format)

	data, err := u.Parse(context.Background(), Ust, nil, ust)
	require.NoError(t, err)
	require.Len(t, data.Project.Tracks, 1)
	note := data.Project.Tracks[0].Notes[0]
	assert.Equal(t, "あ", note.Lyric)
	assert.Equal(t, 65, note.Key)
	assert.InDelta(t, 100, data.Project.Tempos[0].Bpm, 0)
}

func TestConvert_ConversionErrors(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	_, err := u.Convert(ctx, []byte("MThd garbage"), StandardMid, UfDataFormat, nil)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, KindIllegalFile, convErr.Kind)
	assert.Equal(t, "IllegalMidiFile", convErr.IllegalFileKind)
	assert.Equal(t, "Illegal MIDI file.", convErr.Error())
	assert.ErrorIs(t, err, ErrConversion)

	empty := strings.Replace(sampleUfData, `"tracks": [`, `"tracks": [], "unused": [`, 1)
	_, err = u.Convert(ctx, []byte(empty), UfDataFormat, StandardMid, nil)
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, KindEmptyProject, convErr.Kind)

	_, err = u.Convert(ctx, []byte("<vsq4/>"), Vsqx, UfDataFormat, nil)
	require.ErrorIs(t, err, ErrConversion)
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	// the instance is still usable after library errors
	_, err = u.Convert(ctx, []byte(sampleUfData), UfDataFormat, StandardMid, nil)
	require.NoError(t, err)
}

func TestDetectFormat(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	format, err := u.DetectFormat(ctx, []byte(sampleUfData))
	require.NoError(t, err)
	assert.Equal(t, UfDataFormat, format)

	for _, junk := range [][]byte{
		nil,
		[]byte("just some words"),
		[]byte(`{"formatVersion": 1, "project": {"tracks": []}}`),
		[]byte("MThd\x00\x00\x00\x06"),
		[]byte(`<?xml version="1.0"?><html/>`),
	} {
		_, err := u.DetectFormat(ctx, junk)
		assert.ErrorIs(t, err, ErrFormatNotRecognized, "input %q", junk)
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []Format
	}{
		{"vsqx declared shift_jis", "<?xml version=\"1.0\" encoding=\"Shift_JIS\"?>\n<vsq4><vender>\x83\x4e</vender></vsq4>", []Format{Vsqx}},
		{"vsqx with bom", "\xEF\xBB\xBF  <vsq3/>", []Format{Vsqx}},
		{"undeclared charset", "<?xml version=\"1.0\" encoding=\"klingon-8\"?><vsq4/>", nil},
		{"musicxml", "<?xml version=\"1.0\"?><!DOCTYPE score-partwise><score-partwise/>", []Format{MusicXML}},
		{"cevio", "<Scenario Code=\"7251BC4B\"/>", []Format{Ccs}},
		{"ustx", "name: song\nustx_version: \"0.6\"\n", []Format{Ustx}},
		{"ust", "[#VERSION]\nUST Version1.2\n[#SETTING]\n", []Format{Ust}},
		{"svp", `{"version":153,"library":[],"tracks":[]}`, []Format{Svp}},
		{"svp with nul padding", "{\"renderConfig\":{}}\x00", []Format{Svp}},
		{"tracks only", `{"tracks":[]}`, []Format{Svp, S5p}},
		{"vsq midi", "MThd\x00\x00\x00\x06DM:0000:[Common]", []Format{Vsq, VocaloidMid, StandardMid}},
		{"deepvocal", "SHARPKEY\x00\x00", []Format{Dv}},
		{"binary", "\x00\x80\xfe", []Format{Tssln}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sniff([]byte(tt.data)))
		})
	}
}

func TestGenerate_GoLiteralWithNilLists(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	project := &UfData{
		FormatVersion: 1,
		Project: Project{
			Name: "literal",
			Tracks: []Track{
				{Name: "Lead", Notes: []Note{{Key: 60, TickOn: 0, TickOff: 480, Lyric: "か"}}},
				{Name: "Empty", Pitch: &Pitch{IsAbsolute: true}},
			},
		},
	}

	files, err := u.Generate(ctx, UfDataFormat, project, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	out := string(files[0])
	assert.Contains(t, out, `"timeSignatures":[]`)
	assert.Contains(t, out, `"tempos":[]`)
	assert.Contains(t, out, `"notes":[]`)
	assert.Contains(t, out, `"ticks":[],"values":[]`)

	typ, err := u.AnalyzeJapaneseLyricsType(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, LyricsKanaCv, typ)

	romaji, err := u.ConvertJapaneseLyrics(ctx, project, LyricsKanaCv, LyricsRomajiCv, nil)
	require.NoError(t, err)
	assert.Equal(t, "ka", romaji.Project.Tracks[0].Notes[0].Lyric)
	assert.Empty(t, romaji.Project.Tracks[1].Notes)
}

func TestAnalyzeAndConvertJapaneseLyrics(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	data, err := u.Parse(ctx, UfDataFormat, nil, []byte(sampleUfData))
	require.NoError(t, err)

	typ, err := u.AnalyzeJapaneseLyricsType(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, LyricsKanaCv, typ)

	romaji, err := u.ConvertJapaneseLyrics(ctx, data, "", LyricsRomajiCv, nil)
	require.NoError(t, err)
	assert.Equal(t, "ka", romaji.Project.Tracks[0].Notes[0].Lyric)
	assert.Equal(t, "a", romaji.Project.Tracks[0].Notes[1].Lyric)
	assert.Equal(t, "ra", romaji.Project.Tracks[1].Notes[0].Lyric)

	kana, err := u.ConvertJapaneseLyrics(ctx, romaji, LyricsRomajiCv, LyricsKanaCv, nil)
	require.NoError(t, err)
	assert.Equal(t, data, kana)

	_, err = u.ConvertJapaneseLyrics(ctx, data, "", "Hiragana", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConvertJapaneseLyrics_UnknownLeavesDataAlone(t *testing.T) {
	u := newTestInstance(t)
	ctx := context.Background()

	data, err := u.Parse(ctx, UfDataFormat, nil, []byte(sampleUfData))
	require.NoError(t, err)
	data.Project.Tracks[0].Notes[0].Lyric = "ka"

	typ, err := u.AnalyzeJapaneseLyricsType(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, LyricsUnknown, typ)

	out, err := u.ConvertJapaneseLyrics(ctx, data, "", LyricsKanaCv, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

// spinningLib hangs in parseUfData when the input starts with 's'.
const spinningLib = `globalThis.utaformatix = {
  parseUfData: function(bytes) {
    if (bytes[0] === 0x73) { for (;;) {} }
    return {formatVersion: 1, project: {name: 'ok', tracks: [], timeSignatures: [], tempos: [], measurePrefix: 0}};
  },
};`

func TestTimeout_RecreatesEvaluator(t *testing.T) {
	u, err := New(WithBundle(spinningLib))
	require.NoError(t, err)
	defer u.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = u.Parse(ctx, UfDataFormat, nil, []byte("spin"))
	require.ErrorIs(t, err, ErrEvaluatorFault)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	data, err := u.Parse(context.Background(), UfDataFormat, nil, []byte("fine"))
	require.NoError(t, err)
	assert.Equal(t, "ok", data.Project.Name)
}

func TestTimeout_WithoutRecreate(t *testing.T) {
	u, err := New(WithBundle(spinningLib), WithRecreateOnFault(false))
	require.NoError(t, err)
	defer u.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = u.Parse(ctx, UfDataFormat, nil, []byte("spin"))
	require.ErrorIs(t, err, ErrEvaluatorFault)

	_, err = u.Parse(context.Background(), UfDataFormat, nil, []byte("fine"))
	require.ErrorIs(t, err, ErrNotReady)
}

func TestCanceledContext(t *testing.T) {
	u := newTestInstance(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := u.Convert(ctx, []byte(sampleUfData), UfDataFormat, StandardMid, nil)
	require.ErrorIs(t, err, context.Canceled)
	_, err = u.ListSupportedFormats(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// cancelOnPickup cancels itself the second time Err is consulted, which is
// when the evaluator goroutine has accepted the request but not yet run it.
type cancelOnPickup struct {
	context.Context
	cancel context.CancelFunc
	checks atomic.Int32
}

func (c *cancelOnPickup) Err() error {
	if c.checks.Add(1) == 2 {
		c.cancel()
	}
	return c.Context.Err()
}

func TestCanceledAfterPickupIsNotAFault(t *testing.T) {
	u := newTestInstance(t)
	inner, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx := &cancelOnPickup{Context: inner, cancel: cancel}

	err := u.call(ctx, "test", func(*evaluator.Host) error {
		t.Error("request ran after its context ended")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrEvaluatorFault)
	assert.NotErrorIs(t, err, ErrInterrupted)

	// the evaluator was never touched and still serves
	_, err = u.Parse(context.Background(), UfDataFormat, nil, []byte(sampleUfData))
	require.NoError(t, err)
}

func TestClose(t *testing.T) {
	u, err := New(WithBundle(fakeLib(t)))
	require.NoError(t, err)
	require.NoError(t, u.Close())
	require.NoError(t, u.Close())

	_, err = u.Convert(context.Background(), []byte(sampleUfData), UfDataFormat, StandardMid, nil)
	require.ErrorIs(t, err, ErrClosed)
	_, err = u.ListSupportedFormats(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, u.Engine())
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	u := newTestInstance(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := u.Convert(context.Background(), []byte(sampleUfData), UfDataFormat, StandardMid, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestPool(t *testing.T) {
	_, err := NewPool(0, WithBundle(fakeLib(t)))
	require.ErrorIs(t, err, ErrInvalidArgument)

	p, err := NewPool(3, WithBundle(fakeLib(t)))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())

	ctx := context.Background()
	formats, err := p.ListSupportedFormats(ctx)
	require.NoError(t, err)
	assert.Contains(t, formats, Ust)

	var wg sync.WaitGroup
	results := make([][]byte, 12)
	errs := make([]error, 12)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.Convert(ctx, []byte(sampleUfData), UfDataFormat, StandardMid, nil)
		}()
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}

	format, err := p.DetectFormat(ctx, results[0])
	require.NoError(t, err)
	assert.Equal(t, StandardMid, format)

	data, err := p.Parse(ctx, StandardMid, nil, results[0])
	require.NoError(t, err)
	files, err := p.Generate(ctx, Ust, data, nil)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	all, err := p.ConvertAll(ctx, results[0], StandardMid, Ust, nil)
	require.NoError(t, err)
	assert.Equal(t, files, all)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err = p.Convert(ctx, []byte(sampleUfData), UfDataFormat, StandardMid, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestPool_GetHonorsContext(t *testing.T) {
	p, err := NewPool(1, WithBundle(fakeLib(t)))
	require.NoError(t, err)
	defer p.Close()

	u, err := p.get(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	p.put(u)
}
