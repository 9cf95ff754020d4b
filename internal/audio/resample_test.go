package audio_test

import (
	"testing"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/audio"
	"github.com/stretchr/testify/assert"
)

func TestDownsampleConstantInput(t *testing.T) {
	in := make([]int16, 30)
	for i := range in {
		in[i] = 7
	}

	out := audio.DownsampleTo8k(in)
	assert.Len(t, out, 10)
	for _, s := range out {
		assert.Equal(t, int16(7), s)
	}
}

func TestDownsampleAverages(t *testing.T) {
	assert.Equal(t, []int16{6}, audio.DownsampleTo8k([]int16{3, 6, 9}))
	assert.Equal(t, []int16{-6}, audio.DownsampleTo8k([]int16{-3, -6, -9}))
	assert.Equal(t, []int16{2, 5}, audio.DownsampleTo8k([]int16{1, 2, 3, 4, 5, 6}))
}

func TestDownsamplePartialTail(t *testing.T) {
	// The trailing group averages over the samples it actually has.
	assert.Equal(t, []int16{2, 4}, audio.DownsampleTo8k([]int16{1, 2, 3, 4}))
	assert.Equal(t, []int16{15}, audio.DownsampleTo8k([]int16{10, 20}))
	assert.Nil(t, audio.DownsampleTo8k(nil))
}

func TestDecodePCM16LE(t *testing.T) {
	samples := audio.DecodePCM16LE([]byte{0x34, 0x12, 0xFF, 0xFF, 0x01})
	assert.Equal(t, []int16{0x1234, -1}, samples)
}
