package encoder

import (
	"bytes"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/mewkiz/flac"

	"vokey/audio"
)

func sine(n, rate int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(12000 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return out
}

func decodeAll(t *testing.T, data []byte) ([]int16, uint32) {
	t.Helper()
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parsing flac: %v", err)
	}
	defer stream.Close()
	var out []int16
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("frame: %v", err)
		}
		for _, s := range f.Subframes[0].Samples {
			out = append(out, int16(s))
		}
	}
	return out, stream.Info.SampleRate
}

func TestEncodeRoundTrip(t *testing.T) {
	in := sine(10000, 48000)
	res, err := Encode(in, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Data[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}
	if res.Samples != uint64(len(in)) || res.RawBytes != 20000 || res.Format != "flac" {
		t.Errorf("result = %+v", res)
	}

	out, rate := decodeAll(t, res.Data)
	if rate != 48000 {
		t.Errorf("rate = %d", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("sample %d: %d != %d", i, out[i], in[i])
		}
	}
}

func TestEncodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.wav")
	w, err := audio.CreateWriter(path, 16000)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(sine(5000, 16000))
	if _, err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	res, err := EncodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.SampleRate != 16000 || res.Samples != 5000 {
		t.Errorf("result = %+v", res)
	}
	if _, err := EncodeFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestEncodeEmpty(t *testing.T) {
	res, err := Encode(nil, 16000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.Samples != 0 {
		t.Errorf("Samples = %d, want 0", res.Samples)
	}
	if len(res.Data) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestEncodePartialBlock(t *testing.T) {
	partial := make([]int16, BlockSize+BlockSize/4)
	for i := range partial {
		partial[i] = int16(i % 1000)
	}
	res, err := Encode(partial, 24000)
	if err != nil {
		t.Fatal(err)
	}
	out, _ := decodeAll(t, res.Data)
	if len(out) != len(partial) {
		t.Errorf("decoded %d samples, want %d", len(out), len(partial))
	}

	stream, err := flac.New(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	if stream.Info.NSamples != uint64(len(partial)) {
		t.Errorf("STREAMINFO NSamples = %d, want %d", stream.Info.NSamples, len(partial))
	}
}

func TestEncodeRejectsBadRate(t *testing.T) {
	if _, err := Encode(sine(10, 16000), 0); err == nil {
		t.Error("rate 0 accepted")
	}
}

func TestWriteBlockTooLarge(t *testing.T) {
	s, err := newFlacStream(io.Discard, 16000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.writeBlock(make([]int16, BlockSize+1)); err == nil {
		t.Error("oversized block accepted")
	}
}
