package trigger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"comtrust/latency/internal/config"
)

// MarkerValue is the value carried by every trial marker.
const MarkerValue = 1

// Loop fires one trial at a time and waits for its acknowledgement before
// firing the next.
type Loop struct {
	sink       Sink
	outlet     Outlet
	ack        io.Reader
	eventLog   string
	pulseWidth time.Duration
	count      int
	logger     *zap.Logger
	now        func() time.Time
}

// NewLoop builds a loop from cfg. ack delivers one byte per trial, typically
// the keypress the reference keyboard types into stdin.
func NewLoop(cfg config.Trigger, sink Sink, outlet Outlet, ack io.Reader, logger *zap.Logger) *Loop {
	return &Loop{
		sink:       sink,
		outlet:     outlet,
		ack:        ack,
		eventLog:   cfg.EventLog,
		pulseWidth: cfg.PulseWidth,
		count:      cfg.Count,
		logger:     logger,
		now:        time.Now,
	}
}

// Run returns the number of trials fired. It stops without error when ctx is
// cancelled, when ack reaches EOF, or after the configured count.
func (l *Loop) Run(ctx context.Context) (int, error) {
	file, err := os.OpenFile(l.eventLog, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("[trigger] opening event log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()
	if _, err := writer.WriteString("trial,t_ns\n"); err != nil {
		return 0, err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	defer l.stopAcks(done, stopped)
	acks := make(chan error)
	go func() {
		defer close(stopped)
		readAcks(l.ack, acks, done)
	}()

	fired := 0
	for l.count == 0 || fired < l.count {
		if ctx.Err() != nil {
			l.logger.Info("[trigger] received shutdown signal", zap.Int("trials", fired))
			return fired, nil
		}

		t := l.now()
		if err := l.sink.Fire(); err != nil {
			return fired, fmt.Errorf("[trigger] firing trial %d: %w", fired, err)
		}
		fired++
		l.pulse(ctx)
		if r, ok := l.sink.(Releaser); ok {
			if err := r.Release(); err != nil {
				return fired, fmt.Errorf("[trigger] releasing trial %d: %w", fired-1, err)
			}
		}

		marker := Marker{Trial: fired - 1, Value: MarkerValue, Time: t}
		if err := l.outlet.Push(marker); err != nil {
			l.logger.Warn("[trigger] error pushing marker", zap.Error(err), zap.Int("trial", marker.Trial))
		}
		if err := writeEvent(writer, marker); err != nil {
			return fired, fmt.Errorf("[trigger] writing event log: %w", err)
		}

		select {
		case err := <-acks:
			if errors.Is(err, io.EOF) {
				l.logger.Info("[trigger] acknowledgement stream closed", zap.Int("trials", fired))
				return fired, nil
			}
			if err != nil {
				return fired, fmt.Errorf("[trigger] reading acknowledgement: %w", err)
			}
		case <-ctx.Done():
			l.logger.Info("[trigger] received shutdown signal", zap.Int("trials", fired))
			return fired, nil
		}

		if r, ok := l.sink.(Resetter); ok {
			if err := r.Reset(); err != nil {
				l.logger.Warn("[trigger] error resetting sink input", zap.Error(err), zap.Int("trial", marker.Trial))
			}
		}
		l.logger.Debug("[trigger] trial acknowledged", zap.Int("trial", marker.Trial))
	}
	l.logger.Info("[trigger] fired all trials", zap.Int("trials", fired))
	return fired, nil
}

// stopAcks ends the acknowledgement reader. A reader with read deadlines, like
// a pipe or a socket, has its pending Read expired and is waited for, then
// its deadline is cleared. Any other reader keeps the goroutine blocked until
// its pending Read returns; the byte it then reads is discarded.
func (l *Loop) stopAcks(done chan struct{}, stopped <-chan struct{}) {
	close(done)
	d, ok := l.ack.(interface{ SetReadDeadline(time.Time) error })
	if !ok {
		return
	}
	if err := d.SetReadDeadline(time.Now()); err != nil {
		return
	}
	<-stopped
	if err := d.SetReadDeadline(time.Time{}); err != nil {
		l.logger.Warn("[trigger] error clearing the acknowledgement read deadline", zap.Error(err))
	}
}

// pulse holds the trigger level for the pulse width.
func (l *Loop) pulse(ctx context.Context) {
	if l.pulseWidth <= 0 {
		return
	}
	timer := time.NewTimer(l.pulseWidth)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func writeEvent(w *bufio.Writer, m Marker) error {
	w.WriteString(strconv.Itoa(m.Trial))
	w.WriteByte(',')
	w.WriteString(strconv.FormatInt(m.Time.UnixNano(), 10))
	w.WriteByte('\n')
	return w.Flush()
}

// readAcks sends nil for every byte read from r and the read error once r
// fails.
func readAcks(r io.Reader, acks chan<- error, done <-chan struct{}) {
	onebyte := make([]byte, 1)
	for {
		n, err := r.Read(onebyte)
		if n == 0 && err == nil {
			continue
		}
		if n > 0 {
			err = nil
		}
		select {
		case acks <- err:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}
