package utaformatix

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
)

// packFiles stores one generated file per track in a ZIP archive, named
// track-01.<ext>, track-02.<ext>, ...
func packFiles(format Format, files [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, data := range files {
		w, err := zw.Create(fmt.Sprintf("track-%02d.%s", i+1, format.Extension()))
		if err != nil {
			return nil, fmt.Errorf("packing track %d: %w", i+1, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("packing track %d: %w", i+1, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("packing tracks: %w", err)
	}
	return buf.Bytes(), nil
}

// unpackFiles returns the regular files of a ZIP archive sorted by name.
// ok is false when data is not an archive.
func unpackFiles(data []byte) (files [][]byte, ok bool) {
	zr, err := openZip(data)
	if err != nil {
		return nil, false
	}
	entries := slices.DeleteFunc(slices.Clone(zr.File), func(f *zip.File) bool {
		return f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/")
	})
	slices.SortFunc(entries, func(a, b *zip.File) int { return strings.Compare(a.Name, b.Name) })
	for _, f := range entries {
		data, err := readZipFile(f)
		if err != nil {
			return nil, false
		}
		files = append(files, data)
	}
	return files, len(files) > 0
}

func openZip(data []byte) (*zip.Reader, error) {
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) && !bytes.HasPrefix(data, []byte("PK\x05\x06")) {
		return nil, zip.ErrFormat
	}
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
