package meshtastic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	pb "github.com/meshtastic/go/generated"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
)

const (
	// BroadcastAddr addresses every node on the mesh.
	BroadcastAddr = 0xFFFFFFFF

	// MaxTextPayload is the firmware's Data.payload limit in bytes.
	MaxTextPayload = domain.MaxPayloadBytes

	baudRate        = 115200
	pollInterval    = 100 * time.Millisecond
	wakeDelay       = 100 * time.Millisecond
	queueStatusWait = 2 * time.Second
)

// Options configures the serial connection.
type Options struct {
	// Port is the serial device path; empty means auto-detect.
	Port     string
	Channel  uint32
	HopLimit uint32
	// Timeout bounds the config handshake and each read wait.
	Timeout time.Duration
	Clock   clockwork.Clock
}

// Opener implements domain.DeviceOpener over a USB serial link.
type Opener struct {
	opts      Options
	logger    *slog.Logger
	listPorts PortLister
	openPort  func(name string) (io.ReadWriteCloser, error)
	nonce     func() uint32
}

// NewOpener creates an Opener that talks to real serial hardware.
func NewOpener(opts Options, logger *slog.Logger) *Opener {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Opener{
		opts:      opts,
		logger:    logger,
		listPorts: enumerator.GetDetailedPortsList,
		openPort:  openSerial,
		nonce:     randomID,
	}
}

func openSerial(name string) (io.ReadWriteCloser, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Open locates the radio, opens its port and completes the config handshake.
// On any failure the port is closed before returning.
func (o *Opener) Open(ctx context.Context) (domain.Broadcaster, error) {
	name := o.opts.Port
	if name == "" {
		detected, err := DetectPort(o.listPorts)
		if err != nil {
			return nil, err
		}
		o.logger.Info("meshtastic device detected", "port", detected)
		name = detected
	}

	port, err := o.openPort(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrDevice, name, err)
	}

	d := &Device{
		port:     port,
		name:     name,
		channel:  o.opts.Channel,
		hopLimit: o.opts.HopLimit,
		timeout:  o.opts.Timeout,
		clock:    o.opts.Clock,
		logger:   o.logger.With("port", name),
		nonce:    o.nonce,
	}
	d.frames = newFrameReader(port, d.clock, func(line string) {
		d.logger.Debug("device console", "line", line)
	})

	if err := d.handshake(ctx); err != nil {
		_ = port.Close()
		return nil, err
	}
	return d, nil
}

// Device is an open connection to a Meshtastic radio.
type Device struct {
	port     io.ReadWriteCloser
	frames   *frameReader
	name     string
	channel  uint32
	hopLimit uint32
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	nonce    func() uint32

	nodeNum uint32
	closed  bool
}

// NodeNum is the local node number reported during the handshake.
func (d *Device) NodeNum() uint32 {
	return d.nodeNum
}

// handshake wakes the radio and requests its config; the radio streams its
// node info and settings and terminates with config_complete_id = nonce.
func (d *Device) handshake(ctx context.Context) error {
	if _, err := d.port.Write(bytes.Repeat([]byte{start2}, 32)); err != nil {
		return fmt.Errorf("%w: wake %s: %v", domain.ErrDevice, d.name, err)
	}
	d.clock.Sleep(wakeDelay)

	id := d.nonce()
	if err := d.send(&pb.ToRadio{PayloadVariant: &pb.ToRadio_WantConfigId{WantConfigId: id}}); err != nil {
		return fmt.Errorf("%w: request config: %v", domain.ErrDevice, err)
	}

	deadline := d.clock.Now().Add(d.timeout)
	for {
		payload, err := d.frames.next(ctx, deadline)
		if errors.Is(err, errReadTimeout) {
			return fmt.Errorf("%w: %s did not answer within %s", domain.ErrDevice, d.name, d.timeout)
		}
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", domain.ErrDevice, d.name, err)
		}

		msg, err := decodeFromRadio(payload)
		if err != nil {
			d.logger.Debug("skipping undecodable frame", "error", err)
			continue
		}
		switch v := msg.GetPayloadVariant().(type) {
		case *pb.FromRadio_MyInfo:
			d.nodeNum = v.MyInfo.GetMyNodeNum()
		case *pb.FromRadio_ConfigCompleteId:
			if v.ConfigCompleteId == id {
				d.logger.Info("meshtastic device connected", "node_num", fmt.Sprintf("!%08x", d.nodeNum))
				return nil
			}
		}
	}
}

// Broadcast sends text to all nodes on the configured channel. The radio
// acknowledges queued packets with a QueueStatus; a non-zero result is a
// rejection. Firmware that never reports queue status is tolerated.
func (d *Device) Broadcast(ctx context.Context, text string) error {
	if d.closed {
		return fmt.Errorf("%w: device is closed", domain.ErrTransmit)
	}
	payload := []byte(text)
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty message", domain.ErrTransmit)
	}
	if len(payload) > MaxTextPayload {
		return fmt.Errorf("%w: message is %d bytes, limit %d", domain.ErrTransmit, len(payload), MaxTextPayload)
	}

	id := d.nonce()
	packet := &pb.MeshPacket{
		To:       BroadcastAddr,
		Channel:  d.channel,
		Id:       id,
		HopLimit: d.hopLimit,
		PayloadVariant: &pb.MeshPacket_Decoded{Decoded: &pb.Data{
			Portnum: pb.PortNum_TEXT_MESSAGE_APP,
			Payload: payload,
		}},
	}
	if err := d.send(&pb.ToRadio{PayloadVariant: &pb.ToRadio_Packet{Packet: packet}}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransmit, err)
	}

	return d.awaitQueueStatus(ctx, id)
}

func (d *Device) awaitQueueStatus(ctx context.Context, id uint32) error {
	wait := min(queueStatusWait, d.timeout)
	deadline := d.clock.Now().Add(wait)
	for {
		payload, err := d.frames.next(ctx, deadline)
		if errors.Is(err, errReadTimeout) {
			d.logger.Debug("no queue status from radio", "packet_id", id, "waited", wait)
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", domain.ErrTransmit, d.name, err)
		}

		msg, err := decodeFromRadio(payload)
		if err != nil {
			continue
		}
		qs := msg.GetQueueStatus()
		if qs == nil || qs.GetMeshPacketId() != id {
			continue
		}
		if qs.GetRes() != 0 {
			return fmt.Errorf("%w: radio rejected packet %d (result %d)", domain.ErrTransmit, id, qs.GetRes())
		}
		d.logger.Debug("packet queued", "packet_id", id, "free", qs.GetFree(), "maxlen", qs.GetMaxlen())
		return nil
	}
}

// Close tells the radio the client is leaving and releases the port. It is
// safe to call more than once.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.send(&pb.ToRadio{PayloadVariant: &pb.ToRadio_Disconnect{Disconnect: true}}); err != nil {
		d.logger.Debug("disconnect not sent", "error", err)
	}
	if err := d.port.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrDevice, d.name, err)
	}
	return nil
}

func (d *Device) send(msg *pb.ToRadio) error {
	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}
	if _, err := d.port.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", d.name, err)
	}
	return nil
}

// randomID returns a non-zero packet or config id; zero means "unset" to the firmware.
func randomID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}
