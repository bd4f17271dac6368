package noisesuppressionstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
)

var testEncoding = audio.EncodingPCM{
	PCMFormat:  audio.PCMFormatS16LE,
	SampleRate: 48000,
}

// inverter flips every byte and reports a fixed probability.
type inverter struct {
	noisesuppression.Dummy
	chunkSize uint
	err       error
}

func (s *inverter) ChunkSize() uint {
	return s.chunkSize
}

func (s *inverter) SuppressNoise(_ context.Context, input []byte, output []byte) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	if uint(len(input)) != s.chunkSize {
		return 0, fmt.Errorf("unexpected input size %d", len(input))
	}
	for i, b := range input {
		output[i] = ^b
	}
	return 0.25, nil
}

func randomBytes(n int) []byte {
	rng := rand.New(rand.NewPCG(uint64(n), 1))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.UintN(256))
	}
	return b
}

func TestStreamPassthrough(t *testing.T) {
	input := randomBytes(10_001)
	ns := noisesuppression.NewDummy(testEncoding, 1)
	s, err := NewNoiseSuppressionStream(context.Background(), bytes.NewReader(input), ns, 0)
	require.NoError(t, err)
	defer s.Close()

	output, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Equal(t, input, output)
	require.Equal(t, 1.0, s.VoiceProbability())
	require.Equal(t, uint64(11), s.Chunks()) // 960-byte chunks
}

func TestStreamTransformsAndTrims(t *testing.T) {
	input := randomBytes(100)
	ns := &inverter{chunkSize: 16}
	s, err := NewNoiseSuppressionStream(context.Background(), bytes.NewReader(input), ns, 0)
	require.NoError(t, err)
	defer s.Close()

	var output []byte
	buf := make([]byte, 7)
	for {
		n, err := s.Read(buf)
		output = append(output, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Len(t, output, len(input))
	for i := range input {
		require.Equal(t, ^input[i], output[i], "byte %d", i)
	}
	require.Equal(t, 0.25, s.VoiceProbability())
}

func TestStreamPropagatesErrors(t *testing.T) {
	ns := &inverter{chunkSize: 16, err: fmt.Errorf("boom")}
	s, err := NewNoiseSuppressionStream(context.Background(), bytes.NewReader(randomBytes(64)), ns, 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = io.ReadAll(s)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestStreamClose(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s, err := NewNoiseSuppressionStream(context.Background(), pr, &inverter{chunkSize: 16}, 0)
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 16))
		readErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())
	select {
	case err := <-readErr:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Read was not unblocked by Close")
	}
}
