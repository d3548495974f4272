package hl7

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	payload := []byte("MSH|^~\\&|APP|FAC|||20240101||ADT^A01|1|P|2.4\r")
	framed := Wrap(payload)

	assert.Equal(t, byte(0x0B), framed[0])
	assert.Equal(t, byte(0x1C), framed[len(framed)-2])
	assert.Equal(t, byte(0x0D), framed[len(framed)-1])

	unwrapped, err := Unwrap(framed)
	require.NoError(t, err)
	assert.Equal(t, payload, unwrapped)
}

func TestUnwrap_RejectsMissingStartByte(t *testing.T) {
	_, err := Unwrap([]byte("no-start\x1c\x0d"))
	assert.Error(t, err)
}

func TestUnwrap_RejectsMissingTrailer(t *testing.T) {
	_, err := Unwrap([]byte{0x0B, 'a', 'b'})
	assert.Error(t, err)
}

func TestReadFrame_ReadsOneFrame(t *testing.T) {
	payload := []byte("MSH|^~\\&|")
	r := bufio.NewReader(bytes.NewReader(Wrap(payload)))

	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrame_CleanEOFBetweenFrames(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader(nil))
	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadFrame_EOFMidFrameIsFrameError(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0x0B, 'a', 'b'}))
	_, err := ReadFrame(r)
	assert.Error(t, err)
}

func TestReadFrame_MultipleFramesSequentially(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Wrap([]byte("one")))
	buf.Write(Wrap([]byte("two")))
	r := bufio.NewReader(&buf)

	first, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))

	second, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "two", string(second))
}

func TestReadFrame_LoneEndBlock1NotFollowedByEndBlock2IsPayload(t *testing.T) {
	inner := []byte{0x1C, 'x'}
	framed := append([]byte{0x0B}, inner...)
	framed = append(framed, 0x1C, 0x0D)
	r := bufio.NewReader(bytes.NewReader(framed))

	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, inner, got)
}
