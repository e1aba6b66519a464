// Package session joins an OD4 conference over UDP multicast and merges
// every envelope it receives into the recording, byte for byte.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/chalmers-revere/cloudrec/internal/envelope"
	"github.com/chalmers-revere/cloudrec/internal/events"
	"github.com/chalmers-revere/cloudrec/internal/sink"
)

// conferencePort is the UDP port shared by every OD4 conference; the
// conference id selects the multicast group 225.0.0.<cid>.
const conferencePort = 12175

// maxDatagram is sized for the largest UDP payload a conference peer
// can send.
const maxDatagram = 65507

// ErrBadCID is returned for conference ids outside 1..254.
var ErrBadCID = errors.New("conference id must be in 1..254")

// Stats is a snapshot of the subscriber counters.
type Stats struct {
	Datagrams uint64
	Records   uint64
	Malformed uint64
}

// Subscriber is the dedicated receive worker for one conference. It
// splits incoming datagrams into envelope records and forwards each one
// unmodified to the sink.
type Subscriber struct {
	cid  uint8
	sink *sink.Sink
	bus  *events.Bus
	log  *slog.Logger

	mu   sync.Mutex
	conn net.PacketConn
	pc   *ipv4.PacketConn
	wg   sync.WaitGroup

	datagrams atomic.Uint64
	records   atomic.Uint64
	malformed atomic.Uint64
}

// New validates the conference id and prepares a subscriber writing
// into snk.
func New(cid uint32, snk *sink.Sink, bus *events.Bus, log *slog.Logger) (*Subscriber, error) {
	if cid < 1 || cid > 254 {
		return nil, fmt.Errorf("%w, got %d", ErrBadCID, cid)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{
		cid:  uint8(cid),
		sink: snk,
		bus:  bus,
		log:  log.With("component", "session"),
	}, nil
}

// Group returns the conference multicast group address.
func (s *Subscriber) Group() net.IP {
	return net.IPv4(225, 0, 0, s.cid)
}

// Start binds the conference group, joins it on every multicast-capable
// interface, and launches the receive worker. The worker stops when ctx
// is cancelled or Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("session already started")
	}

	group := s.Group()
	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("%s:%d", group, conferencePort))
	if err != nil {
		return fmt.Errorf("bind conference %d: %w", s.cid, err)
	}

	pc := ipv4.NewPacketConn(conn)
	joined := 0
	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return fmt.Errorf("list interfaces: %w", err)
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
			s.log.Debug("Join failed", "interface", ifi.Name, "error", err)
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return fmt.Errorf("conference %d: no multicast-capable interface joined %s", s.cid, group)
	}

	s.conn = conn
	s.pc = pc
	s.log.Info("Joined conference",
		"cid", s.cid,
		"group", fmt.Sprintf("%s:%d", group, conferencePort),
		"interfaces", joined)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	s.wg.Add(1)
	go func() {
		defer stop()
		s.run(ctx)
	}()
	return nil
}

// Stop closes the socket and waits for the worker to drain.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
}

// Stats returns a snapshot of the receive counters.
func (s *Subscriber) Stats() Stats {
	return Stats{
		Datagrams: s.datagrams.Load(),
		Records:   s.records.Load(),
		Malformed: s.malformed.Load(),
	}
}

// run reads datagrams until the socket is closed.
func (s *Subscriber) run(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, _, _, err := s.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.log.Warn("Conference read failed", "error", err)
			continue
		}
		s.process(ctx, buf[:n])
	}
}

// process splits one datagram into records and appends each to the
// sink. Malformed data ends the datagram; records already split out
// stay merged.
func (s *Subscriber) process(ctx context.Context, datagram []byte) {
	s.datagrams.Add(1)
	r := envelope.NewReader(bytes.NewReader(datagram))
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.malformed.Add(1)
			s.log.Debug("Discarding malformed conference data", "error", err, "bytes", len(datagram))
			if s.bus != nil {
				s.bus.Publish(events.RecordDroppedEvent{
					RecordBytes: len(datagram),
					Reason:      "malformed",
				})
			}
			return
		}

		env, err := envelope.Unmarshal(rec)
		if err != nil {
			s.malformed.Add(1)
			s.log.Debug("Discarding undecodable envelope", "error", err)
			return
		}

		if err := s.sink.Append(ctx, rec); err != nil {
			if errors.Is(err, sink.ErrDropped) {
				s.log.Warn("Conference record dropped by write error policy",
					"data_type", env.DataType)
				continue
			}
			s.log.Error("Cannot merge conference record", "error", err)
			return
		}
		s.records.Add(1)
		if s.bus != nil {
			s.bus.Publish(events.SessionRecordEvent{
				RecordBytes: len(rec),
				DataType:    env.DataType,
				SenderStamp: env.SenderStamp,
			})
		}
		s.log.Debug("Merged conference record",
			"data_type", env.DataType,
			"sender", env.SenderStamp,
			"bytes", len(rec))
	}
}

// reuseAddr lets several recorders share the conference port on one
// host, matching how OD4 peers bind their sockets.
func reuseAddr(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
