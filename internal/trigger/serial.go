package trigger

import (
	"fmt"
	"io"

	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// port is the part of serial.Port the sinks use.
type port interface {
	io.Writer
	ResetInputBuffer() error
	SetDTR(dtr bool) error
	Close() error
}

type ShortWriteError struct {
	Port    string
	Written int
	Payload []byte
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("[serial] wrote %d of %d trigger bytes to %s", e.Written, len(e.Payload), e.Port)
}

func openPort(portName string, baudrate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
	}
	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("[serial] opening %s: %w", portName, err)
	}
	return p, nil
}

// SerialSink writes a payload to a serial device, which turns it into a
// trigger on its output line.
type SerialSink struct {
	port     port
	portName string
	payload  []byte
	logger   *zap.Logger
}

// OpenSerialSink opens portName and discards anything the device sent before.
func OpenSerialSink(portName string, baudrate int, payload []byte, logger *zap.Logger) (*SerialSink, error) {
	p, err := openPort(portName, baudrate)
	if err != nil {
		return nil, err
	}
	s := newSerialSink(p, portName, payload, logger)
	if err := s.Reset(); err != nil {
		return nil, multierr.Append(err, p.Close())
	}
	return s, nil
}

func newSerialSink(p port, portName string, payload []byte, logger *zap.Logger) *SerialSink {
	return &SerialSink{
		port:     p,
		portName: portName,
		payload:  append([]byte(nil), payload...),
		logger:   logger,
	}
}

func (s *SerialSink) Fire() error {
	total := 0
	for total < len(s.payload) {
		n, err := s.port.Write(s.payload[total:])
		if err != nil {
			return fmt.Errorf("[serial] writing to %s: %w", s.portName, err)
		}
		if n == 0 {
			return &ShortWriteError{Port: s.portName, Written: total, Payload: s.payload}
		}
		total += n
	}
	return nil
}

// Reset discards pending input from the device.
func (s *SerialSink) Reset() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		s.logger.Warn("[serial] error resetting input buffer", zap.Error(err), zap.String("portName", s.portName))
		return err
	}
	return nil
}

func (s *SerialSink) Close() error {
	return s.port.Close()
}

// PinSink raises the DTR line of a serial adapter on Fire and lowers it on
// Release, producing a TTL pulse like a parallel port data pin.
type PinSink struct {
	port     port
	portName string
}

func OpenPinSink(portName string, baudrate int) (*PinSink, error) {
	p, err := openPort(portName, baudrate)
	if err != nil {
		return nil, err
	}
	s := &PinSink{port: p, portName: portName}
	if err := s.Release(); err != nil {
		return nil, multierr.Append(err, p.Close())
	}
	return s, nil
}

func (s *PinSink) Fire() error {
	if err := s.port.SetDTR(true); err != nil {
		return fmt.Errorf("[serial] raising DTR on %s: %w", s.portName, err)
	}
	return nil
}

func (s *PinSink) Release() error {
	if err := s.port.SetDTR(false); err != nil {
		return fmt.Errorf("[serial] lowering DTR on %s: %w", s.portName, err)
	}
	return nil
}

func (s *PinSink) Close() error {
	return s.port.Close()
}
