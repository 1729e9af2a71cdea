package meshtastic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	pb "github.com/meshtastic/go/generated"
	"google.golang.org/protobuf/proto"
)

// Stream API framing: START1 START2 <len MSB> <len LSB> <protobuf>.
const (
	start1        = 0x94
	start2        = 0xC3
	headerLen     = 4
	maxPacketSize = 512
)

// errReadTimeout is returned when no complete frame arrived before the deadline.
var errReadTimeout = errors.New("timed out waiting for radio")

// encodeFrame marshals a ToRadio message and prefixes the stream header.
func encodeFrame(msg *pb.ToRadio) ([]byte, error) {
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal to-radio: %w", err)
	}
	if len(data) > maxPacketSize {
		return nil, fmt.Errorf("to-radio message is %d bytes, limit %d", len(data), maxPacketSize)
	}
	frame := make([]byte, headerLen+len(data))
	frame[0] = start1
	frame[1] = start2
	binary.BigEndian.PutUint16(frame[2:headerLen], uint16(len(data)))
	copy(frame[headerLen:], data)
	return frame, nil
}

// frameReader extracts protobuf payloads from the serial byte stream. Bytes
// outside a frame are the firmware's debug console; complete console lines
// are handed to onConsole.
type frameReader struct {
	r         io.Reader
	clock     clockwork.Clock
	onConsole func(line string)
	console   []byte
	b         [1]byte
}

func newFrameReader(r io.Reader, clock clockwork.Clock, onConsole func(string)) *frameReader {
	return &frameReader{r: r, clock: clock, onConsole: onConsole}
}

// next returns the payload of the next valid frame. Oversized length fields
// mean the reader locked onto noise; it drops the header and resynchronizes.
func (fr *frameReader) next(ctx context.Context, deadline time.Time) ([]byte, error) {
	for {
		c, err := fr.readByte(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if c != start1 {
			fr.consoleByte(c)
			continue
		}

		c, err = fr.readByte(ctx, deadline)
		if err != nil {
			return nil, err
		}
		for c == start1 {
			if c, err = fr.readByte(ctx, deadline); err != nil {
				return nil, err
			}
		}
		if c != start2 {
			fr.consoleByte(c)
			continue
		}

		var hdr [2]byte
		for i := range hdr {
			if hdr[i], err = fr.readByte(ctx, deadline); err != nil {
				return nil, err
			}
		}
		n := int(binary.BigEndian.Uint16(hdr[:]))
		if n > maxPacketSize {
			continue
		}

		payload := make([]byte, n)
		for i := range payload {
			if payload[i], err = fr.readByte(ctx, deadline); err != nil {
				return nil, err
			}
		}
		return payload, nil
	}
}

// readByte reads one byte. Serial ports opened with a read timeout return
// (0, nil) when idle, so the loop polls until the deadline.
func (fr *frameReader) readByte(ctx context.Context, deadline time.Time) (byte, error) {
	for {
		n, err := fr.r.Read(fr.b[:])
		if n == 1 {
			return fr.b[0], nil
		}
		if err != nil {
			return 0, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if !fr.clock.Now().Before(deadline) {
			return 0, errReadTimeout
		}
	}
}

func (fr *frameReader) consoleByte(c byte) {
	if c == '\n' {
		if fr.onConsole != nil && len(fr.console) > 0 {
			fr.onConsole(string(fr.console))
		}
		fr.console = fr.console[:0]
		return
	}
	if c != '\r' && len(fr.console) < maxPacketSize {
		fr.console = append(fr.console, c)
	}
}

// decodeFromRadio parses a frame payload.
func decodeFromRadio(payload []byte) (*pb.FromRadio, error) {
	var msg pb.FromRadio
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal from-radio: %w", err)
	}
	return &msg, nil
}
