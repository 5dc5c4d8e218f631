package isotp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingleFrameRoundTrip(t *testing.T) {
	data := []byte{0x22, 0xDD, 0x01}
	frame := packSingleFrame(data, 0x00)
	assert.Len(t, frame, 8)

	kind, err := kindOf(frame[0])
	assert.NoError(t, err)
	assert.Equal(t, singleFrame, kind)

	got, err := unpackSingleFrame(frame)
	assert.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSingleFrameRejectsZeroLength(t *testing.T) {
	_, err := unpackSingleFrame([]byte{0x00})
	assert.Error(t, err)
}

func TestFirstAndConsecutiveFrameRoundTrip(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}

	first, consumed := packFirstFrame(data, 0xCC)
	assert.Len(t, first, 8)
	kind, err := kindOf(first[0])
	assert.NoError(t, err)
	assert.Equal(t, firstFrame, kind)

	total, got, err := unpackFirstFrame(first)
	assert.NoError(t, err)
	assert.Equal(t, len(data), total)
	assert.Equal(t, data[:consumed], got)

	remaining := data[consumed:]
	seq := 1
	for len(remaining) > 0 {
		frame, n := packConsecutiveFrame(seq, remaining, 0xCC)
		k, err := kindOf(frame[0])
		assert.NoError(t, err)
		assert.Equal(t, consecutiveFrame, k)

		gotSeq, chunk, err := unpackConsecutiveFrame(frame)
		assert.NoError(t, err)
		assert.Equal(t, seq, gotSeq)
		assert.Equal(t, remaining[:n], chunk[:n])

		got = append(got, chunk[:n]...)
		remaining = remaining[n:]
		seq = (seq + 1) & 0x0F
	}
	assert.Equal(t, data, got)
}

func TestFlowControlRoundTrip(t *testing.T) {
	frame := packFlowControl(fcContinue, 8, 10)
	fc, err := unpackFlowControl(frame)
	assert.NoError(t, err)
	assert.Equal(t, fcContinue, fc.status)
	assert.Equal(t, uint8(8), fc.blockSize)
	assert.Equal(t, uint8(10), fc.stMin)
}

func TestFlowControlRejectsUnknownStatus(t *testing.T) {
	_, err := unpackFlowControl([]byte{0x3F, 0, 0})
	assert.Error(t, err)
}

func TestSTMinDuration(t *testing.T) {
	assert.Equal(t, int64(10e6), int64(stMinDuration(10)))
	assert.Equal(t, int64(300e3), int64(stMinDuration(0xF3)))
	assert.Equal(t, int64(0), int64(stMinDuration(0x80)))
}
