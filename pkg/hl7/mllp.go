// Package hl7 implements the MLLP wire framing, a lazy parsed view over
// raw HL7 ER7 bytes, and the ACK-generation helpers the outbound HL7
// state machine relies on.
package hl7

import (
	"bufio"
	"io"

	"ionbridge/pkg/apperror"
)

const (
	startBlock = 0x0B
	endBlock1  = 0x1C
	endBlock2  = 0x0D
)

// Wrap frames an HL7 payload for MLLP transport: 0x0B, the payload, then
// the 0x1C 0x0D trailer.
func Wrap(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+3)
	out = append(out, startBlock)
	out = append(out, payload...)
	out = append(out, endBlock1, endBlock2)
	return out
}

// Unwrap strips the MLLP framing from a complete frame held in memory.
// unwrap(wrap(b)) == b for any payload not itself containing the
// end-of-block sequence (L-mllp-roundtrip).
func Unwrap(framed []byte) ([]byte, error) {
	if len(framed) < 3 || framed[0] != startBlock {
		return nil, apperror.New(apperror.FrameError, "frame did not begin with start-of-block")
	}
	if framed[len(framed)-2] != endBlock1 || framed[len(framed)-1] != endBlock2 {
		return nil, apperror.New(apperror.FrameError, "frame did not end with end-of-block trailer")
	}
	return framed[1 : len(framed)-2], nil
}

// ReadFrame reads one MLLP frame from r, returning the unwrapped payload
// bytes (without the start byte or trailer). It returns a FrameError if
// EOF is hit mid-frame and a ConnectionError on any other read fault.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	sb, err := r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, nil // clean close between frames, not a FrameError
		}
		return nil, apperror.Wrap(apperror.ConnectionError, err, "reading MLLP start byte")
	}
	if sb != startBlock {
		return nil, apperror.New(apperror.FrameError, "frame did not begin with start-of-block")
	}

	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, apperror.New(apperror.FrameError, "EOF mid-frame")
			}
			return nil, apperror.Wrap(apperror.ConnectionError, err, "reading MLLP frame body")
		}
		if b == endBlock1 {
			trailer, err := r.ReadByte()
			if err != nil {
				if err == io.EOF {
					return nil, apperror.New(apperror.FrameError, "EOF mid-frame")
				}
				return nil, apperror.Wrap(apperror.ConnectionError, err, "reading MLLP trailer")
			}
			if trailer == endBlock2 {
				return buf, nil
			}
			// 0x1C not followed by 0x0D: treat as ordinary payload byte.
			buf = append(buf, b, trailer)
			continue
		}
		buf = append(buf, b)
	}
}
