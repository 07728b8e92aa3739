package readergw

import (
	"bufio"
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/wareline-data/tagfind/internal/monitoring"
	"github.com/wareline-data/tagfind/internal/rtls"
	"github.com/wareline-data/tagfind/internal/timeutil"
)

var ErrWriteFailed = fmt.Errorf("failed to write to reader port")

// eventChanCapacity buffers bursts of reads between orchestrator drains.
const eventChanCapacity = 256

// Reader wire commands. The firmware acknowledges each command with a JSON
// status line.
const (
	cmdStartInventory = "IV1"
	cmdStopInventory  = "IV0"
	cmdPowerPrefix    = "PW="
)

// SerialGateway is a Gateway over one serial-attached reader. Tag reads
// and status records arrive interleaved as newline-delimited text; the
// monitor loop classifies and fans them out to the event channels.
type SerialGateway struct {
	readerID string
	kind     rtls.ReaderKind
	port     Porter
	clock    timeutil.Clock

	events chan TagReadEvent
	status chan ReaderStatusEvent

	commandMu sync.Mutex
	closing   bool
	closingMu sync.Mutex
}

// NewSerialGateway wraps an already-open port. Used directly by tests;
// production callers use OpenSerialGateway.
func NewSerialGateway(readerID string, kind rtls.ReaderKind, port Porter, clock timeutil.Clock) *SerialGateway {
	return &SerialGateway{
		readerID: readerID,
		kind:     kind,
		port:     port,
		clock:    clock,
		events:   make(chan TagReadEvent, eventChanCapacity),
		status:   make(chan ReaderStatusEvent, 16),
	}
}

// OpenSerialGateway opens the reader's serial port at the given path and
// wraps it in a gateway.
func OpenSerialGateway(readerID string, kind rtls.ReaderKind, path string, opts PortOptions, clock timeutil.Clock) (*SerialGateway, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open reader port %s: %w", path, err)
	}
	return NewSerialGateway(readerID, kind, port, clock), nil
}

func (g *SerialGateway) Events() <-chan TagReadEvent            { return g.events }
func (g *SerialGateway) StatusEvents() <-chan ReaderStatusEvent { return g.status }

// StartInventory begins continuous inventory rounds.
func (g *SerialGateway) StartInventory(readerID string) error {
	if err := g.checkReader(readerID); err != nil {
		return err
	}
	return g.sendCommand(cmdStartInventory)
}

// StopInventory halts inventory rounds.
func (g *SerialGateway) StopInventory(readerID string) error {
	if err := g.checkReader(readerID); err != nil {
		return err
	}
	return g.sendCommand(cmdStopInventory)
}

// SetAntennaPower adjusts the reader's transmit power.
func (g *SerialGateway) SetAntennaPower(readerID string, powerDBm float64) error {
	if err := g.checkReader(readerID); err != nil {
		return err
	}
	return g.sendCommand(fmt.Sprintf("%s%.1f", cmdPowerPrefix, powerDBm))
}

func (g *SerialGateway) checkReader(readerID string) error {
	if readerID != g.readerID {
		return fmt.Errorf("%w: %s (gateway serves %s)", rtls.ErrReaderNotFound, readerID, g.readerID)
	}
	return nil
}

// sendCommand writes one newline-terminated command to the port.
func (g *SerialGateway) sendCommand(command string) error {
	g.commandMu.Lock()
	defer g.commandMu.Unlock()
	payload := command + "\n"
	n, err := g.port.Write([]byte(payload))
	if err != nil {
		return err
	}
	if n != len(payload) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port and fans parsed events out until the
// context is cancelled or the port fails. The blocking scanner runs in its
// own goroutine so cancellation is never stuck behind a read.
func (g *SerialGateway) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(g.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			g.closingMu.Lock()
			if g.closing {
				g.closingMu.Unlock()
				return nil
			}
			g.closingMu.Unlock()

			g.dispatch(line)
		}
	}
}

// dispatch classifies one raw line and delivers the parsed event. A full
// event channel drops the event rather than stalling the port reader.
func (g *SerialGateway) dispatch(line string) {
	now := g.clock.Now()
	switch ClassifyLine(line) {
	case LineTypeRead:
		reading, err := ParseReadLine(g.readerID, line, now)
		if err != nil {
			monitoring.Logf("readergw %s: %v", g.readerID, err)
			return
		}
		eventType := EventRead
		if g.kind == rtls.ReaderGate {
			eventType = EventGatePass
		} else if g.kind == rtls.ReaderHandheld {
			eventType = EventHandheld
		}
		select {
		case g.events <- TagReadEvent{Reading: reading, Type: eventType}:
		default:
			monitoring.Logf("readergw %s: event channel full, read dropped", g.readerID)
		}
	case LineTypeStatus:
		ev, err := ParseStatusLine(g.readerID, line, now)
		if err != nil {
			monitoring.Logf("readergw %s: %v", g.readerID, err)
			return
		}
		select {
		case g.status <- ev:
		default:
		}
	default:
		// Firmware banners and echo noise; ignore.
	}
}

// Close stops the monitor loop, closes the port and the event channels.
func (g *SerialGateway) Close() error {
	g.closingMu.Lock()
	if g.closing {
		g.closingMu.Unlock()
		return nil
	}
	g.closing = true
	g.closingMu.Unlock()

	err := g.port.Close()
	close(g.events)
	close(g.status)
	return err
}
