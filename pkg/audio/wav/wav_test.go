package wav_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/kindred/pkg/audio"
	"github.com/MrWong99/kindred/pkg/audio/wav"
)

func TestHeader_Sizes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 2, 4800, 9600, 1 << 20} {
		h := wav.Header(n, audio.DefaultFormat)
		if len(h) != 44 {
			t.Fatalf("n=%d: header length = %d, want 44", n, len(h))
		}
		if got := binary.LittleEndian.Uint32(h[4:8]); got != uint32(36+n) {
			t.Errorf("n=%d: RIFF size = %d, want %d", n, got, 36+n)
		}
		if got := binary.LittleEndian.Uint32(h[40:44]); got != uint32(n) {
			t.Errorf("n=%d: data size = %d, want %d", n, got, n)
		}
	}
}

func TestHeader_Fields(t *testing.T) {
	t.Parallel()

	h := wav.Header(100, audio.DefaultFormat)
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"format tag", uint32(binary.LittleEndian.Uint16(h[20:22])), 1},
		{"channels", uint32(binary.LittleEndian.Uint16(h[22:24])), 1},
		{"sample rate", binary.LittleEndian.Uint32(h[24:28]), 24000},
		{"byte rate", binary.LittleEndian.Uint32(h[28:32]), 48000},
		{"block align", uint32(binary.LittleEndian.Uint16(h[32:34])), 2},
		{"bits per sample", uint32(binary.LittleEndian.Uint16(h[34:36])), 16},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if string(h[0:4]) != "RIFF" || string(h[8:16]) != "WAVEfmt " || string(h[36:40]) != "data" {
		t.Errorf("unexpected magic bytes: %q", h)
	}
}

func TestStrip_RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4, 5, 6}
	got, f, err := wav.Strip(wav.Wrap(pcm, audio.DefaultFormat))
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("payload = %v, want %v", got, pcm)
	}
	if f != audio.DefaultFormat {
		t.Errorf("format = %+v, want %+v", f, audio.DefaultFormat)
	}
}

func TestStrip_SkipsExtraChunks(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}
	h := wav.Header(4, f)

	// Insert an odd-sized LIST chunk (padded to a word boundary) between fmt and data.
	var buf bytes.Buffer
	buf.Write(h[:36])
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{'a', 'b', 'c', 0})
	buf.Write(h[36:])
	buf.Write([]byte{9, 8, 7, 6})

	pcm, got, err := wav.Strip(buf.Bytes())
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if !bytes.Equal(pcm, []byte{9, 8, 7, 6}) {
		t.Errorf("payload = %v", pcm)
	}
	if got != f {
		t.Errorf("format = %+v, want %+v", got, f)
	}
}

func TestStrip_ClampsPlaceholderSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size uint32
	}{
		{name: "oversized", size: 0xFFFFFFFF},
		{name: "zero", size: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := wav.Wrap([]byte{1, 2, 3, 4}, audio.DefaultFormat)
			binary.LittleEndian.PutUint32(data[40:44], tt.size)

			pcm, _, err := wav.Strip(data)
			if err != nil {
				t.Fatalf("Strip: %v", err)
			}
			if len(pcm) != 4 {
				t.Errorf("payload length = %d, want 4", len(pcm))
			}
		})
	}
}

func TestStrip_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := wav.Strip([]byte("short")); !errors.Is(err, wav.ErrNotWAV) {
		t.Errorf("short input: err = %v, want ErrNotWAV", err)
	}
	notWav := make([]byte, 64)
	copy(notWav, "RIFX")
	if _, _, err := wav.Strip(notWav); !errors.Is(err, wav.ErrNotWAV) {
		t.Errorf("bad magic: err = %v, want ErrNotWAV", err)
	}
	noData := wav.Header(0, audio.DefaultFormat)
	copy(noData[36:40], "junk")
	if _, _, err := wav.Strip(noData); err == nil {
		t.Error("expected error for container without data chunk")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	inputs := [][]byte{nil, {}, {0}, {0xff, 0x00, 0x7f}}
	for range 50 {
		b := make([]byte, rng.IntN(4096))
		for i := range b {
			b[i] = byte(rng.UintN(256))
		}
		inputs = append(inputs, b)
	}

	for _, in := range inputs {
		out, err := wav.Decode(wav.Encode(in))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("round trip mismatch for %d bytes", len(in))
		}
	}
}

func TestDecode_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := wav.Decode("not base64!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
