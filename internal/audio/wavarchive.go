package audio

import (
	"fmt"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter archives a session's PCM stream to a WAV file for replay and
// debugging. It is fed from the encoder pump, never from the capture callback.
type WAVWriter struct {
	file *os.File
	enc  *wav.Encoder
	fmt  *gaudio.Format
}

// NewWAVWriter creates dir if needed and opens a 16-bit PCM WAV file.
func NewWAVWriter(dir, name string, sampleRate, channels int) (*WAVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(dir, name+".wav")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive file: %w", err)
	}
	return &WAVWriter{
		file: file,
		enc:  wav.NewEncoder(file, sampleRate, 16, channels, 1),
		fmt:  &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

// WriteSamples appends PCM samples to the archive.
func (w *WAVWriter) WriteSamples(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &gaudio.IntBuffer{Format: w.fmt, Data: data, SourceBitDepth: 16}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}

// Path returns the archive file path.
func (w *WAVWriter) Path() string {
	return w.file.Name()
}

// Close finalizes the WAV header and closes the file.
func (w *WAVWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return w.file.Close()
}
