package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the 44-byte RIFF/WAVE header for PCM-16 audio.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV packs mono PCM-16 samples into a WAV container.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("capture: encode wav: no samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("capture: encode wav: invalid sample rate %d", sampleRate)
	}

	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("capture: encode wav header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("capture: encode wav data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV unpacks a WAV container back into mono PCM-16 samples and the
// sample rate.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 44 {
		return nil, 0, fmt.Errorf("capture: decode wav: data too short (%d bytes)", len(data))
	}

	r := bytes.NewReader(data)
	var header wavHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("capture: decode wav header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("capture: decode wav: not a RIFF/WAVE stream")
	}
	if header.AudioFormat != 1 || header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("capture: decode wav: unsupported format (fmt=%d bits=%d)",
			header.AudioFormat, header.BitsPerSample)
	}

	n := int(header.Subchunk2Size) / 2
	if n > (len(data)-44)/2 {
		n = (len(data) - 44) / 2
	}
	samples := make([]int16, n)
	if err := binary.Read(r, binary.LittleEndian, &samples); err != nil {
		return nil, 0, fmt.Errorf("capture: decode wav data: %w", err)
	}
	return samples, int(header.SampleRate), nil
}
