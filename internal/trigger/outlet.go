package trigger

import (
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// Marker is one trial event, stamped with the time taken before the sinks
// fired.
type Marker struct {
	Trial int
	Value int
	Time  time.Time
}

// Outlet broadcasts markers to the recording host.
type Outlet interface {
	Push(m Marker) error
}

// UDPOutlet sends each marker as one line protocol datagram:
// "<stream> value=<v> <t_ns>".
type UDPOutlet struct {
	conn   io.WriteCloser
	stream string
	logger *zap.Logger
}

func NewUDPOutlet(addr, stream string, logger *zap.Logger) (*UDPOutlet, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("[outlet] resolving %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("[outlet] dialing %s: %w", addr, err)
	}
	return &UDPOutlet{
		conn:   conn,
		stream: stream,
		logger: logger,
	}, nil
}

// Line formats a marker the way Push sends it.
func (o *UDPOutlet) Line(m Marker) string {
	return fmt.Sprintf("%s value=%d %d", o.stream, m.Value, m.Time.UnixNano())
}

func (o *UDPOutlet) Push(m Marker) error {
	line := []byte(o.Line(m))
	n, err := o.conn.Write(line)
	if err != nil {
		return fmt.Errorf("[outlet] sending marker %d: %w", m.Trial, err)
	}
	if n != len(line) {
		return fmt.Errorf("[outlet] sent %d of %d bytes of marker %d", n, len(line), m.Trial)
	}
	o.logger.Debug("[outlet] pushed marker", zap.String("line", string(line)))
	return nil
}

func (o *UDPOutlet) Close() error {
	return o.conn.Close()
}
