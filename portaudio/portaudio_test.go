//go:build portaudio
// +build portaudio

package portaudio_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/portaudio"
)

func TestStream(t *testing.T) {
	var calls int64
	stream, err := portaudio.Opener{}.Open(midisynth.DefaultFormat(midisynth.DefaultSampleRate), func(out []float32) {
		atomic.AddInt64(&calls, 1)
		midisynth.Silence(out)
	})
	assert.Nil(t, err)

	assert.Nil(t, stream.Start())
	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, stream.Stop())
	assert.Nil(t, stream.Close())
	assert.True(t, atomic.LoadInt64(&calls) > 0)
}
