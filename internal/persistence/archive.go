package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/lucylow/quaternion/internal/engine"
)

// ArchiveHeader is the first line of an archive, readable without
// decoding the whole state.
type ArchiveHeader struct {
	Version int    `json:"version"`
	Tick    uint64 `json:"tick"`
}

// WriteArchive writes st as a zstd-compressed header line followed by
// the state JSON.
func WriteArchive(w io.Writer, st engine.State) error {
	data, err := engine.EncodeState(st)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(ArchiveHeader{Version: st.Version, Tick: st.Tick})
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(data); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadArchive decodes an archive written by WriteArchive. The state is
// schema-validated.
func ReadArchive(r io.Reader) (ArchiveHeader, engine.State, error) {
	var hdr ArchiveHeader
	dec, err := zstd.NewReader(r)
	if err != nil {
		return hdr, engine.State{}, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, engine.State{}, fmt.Errorf("read archive header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, engine.State{}, fmt.Errorf("decode archive header: %w", err)
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return hdr, engine.State{}, fmt.Errorf("read archive: %w", err)
	}
	st, err := engine.DecodeState(data)
	return hdr, st, err
}

// SaveArchive writes an archive file, creating parent directories.
func SaveArchive(path string, st engine.State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := WriteArchive(f, st); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadArchive reads an archive file.
func LoadArchive(path string) (engine.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.State{}, err
	}
	defer f.Close()

	_, st, err := ReadArchive(f)
	return st, err
}
