// Package wav builds and parses the minimal RIFF/WAVE container that wraps raw
// 16-bit PCM on both sides of a call: recorders hand back WAV segments that
// must be stripped before streaming, and playback units must be wrapped before
// they can be written to disk and played.
//
// It also provides the base64 transcoding used to carry PCM over the
// transport's JSON channel.
package wav

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/kindred/pkg/audio"
)

// HeaderSize is the length of the canonical PCM WAV header written by [Header].
const HeaderSize = 44

// formatPCM is the WAVE_FORMAT_PCM tag.
const formatPCM = 1

// ErrNotWAV is returned by [Strip] when the input is not a RIFF/WAVE container.
var ErrNotWAV = errors.New("wav: not a RIFF/WAVE container")

// Header returns the 44-byte canonical header for a PCM payload of dataLen
// bytes in format f. The RIFF chunk size is 36+dataLen and the data chunk size
// is dataLen.
func Header(dataLen int, f audio.Format) []byte {
	blockAlign := f.Channels * f.BitsPerSample / 8

	h := make([]byte, HeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// Wrap returns pcm prefixed with a header describing it in format f.
func Wrap(pcm []byte, f audio.Format) []byte {
	out := make([]byte, 0, HeaderSize+len(pcm))
	out = append(out, Header(len(pcm), f)...)
	return append(out, pcm...)
}

// Strip parses a WAV container and returns its raw PCM payload together with
// the format declared in the fmt chunk. Chunks other than fmt and data (LIST,
// fact, …) are skipped. A data chunk size of zero or one larger than the
// remaining bytes is a streaming placeholder and is clamped to what follows.
//
// The returned slice aliases data.
func Strip(data []byte) ([]byte, audio.Format, error) {
	if len(data) < HeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, audio.Format{}, ErrNotWAV
	}

	var (
		f       audio.Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, audio.Format{}, fmt.Errorf("wav: truncated fmt chunk")
			}
			f = audio.Format{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, audio.Format{}, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			end := body + size
			if size <= 0 || end > len(data) {
				end = len(data)
			}
			return data[body:end], f, nil
		}

		// Chunks are word-aligned.
		next := body + size + size%2
		if size < 0 || next <= pos {
			break
		}
		pos = next
	}
	return nil, audio.Format{}, fmt.Errorf("wav: no data chunk")
}

// Encode transcodes binary audio to text for transport over a JSON channel.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode reverses [Encode]. Decode(Encode(b)) equals b for every b.
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("wav: decode base64: %w", err)
	}
	return b, nil
}
