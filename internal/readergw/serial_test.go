package readergw

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/wareline-data/tagfind/internal/rtls"
	"github.com/wareline-data/tagfind/internal/timeutil"
)

// TestPort implements Porter for gateway tests: a fixed read script plus a
// write capture buffer. Reads block after the script is exhausted until the
// port is closed, matching real serial behaviour.
type TestPort struct {
	mu        sync.Mutex
	readData  []byte
	readIndex int
	written   bytes.Buffer
	writeErr  error
	shortN    int
	closed    bool
}

func NewTestPort(data string) *TestPort {
	return &TestPort{readData: []byte(data)}
}

func (p *TestPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	if p.readIndex >= len(p.readData) {
		p.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		p.mu.Lock()
		if p.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(buf, p.readData[p.readIndex:])
	p.readIndex += n
	return n, nil
}

func (p *TestPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.shortN > 0 {
		return p.written.Write(data[:p.shortN])
	}
	return p.written.Write(data)
}

func (p *TestPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *TestPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func TestSerialGatewayMonitorDispatchesLines(t *testing.T) {
	script := "READ,E2000017,-54.5,12.0,3.1,1\n" +
		"boot banner noise\n" +
		`{"status":"online","battery_pct":88}` + "\n" +
		"READ,E2000018,-61.0,0,0,2\n"
	port := NewTestPort(script)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	g := NewSerialGateway("reader-a", rtls.ReaderFixed, port, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Monitor(ctx) }()

	waitForEvents(t, g.Events(), 2)

	first := <-g.Events()
	if first.Type != EventRead {
		t.Errorf("event type = %s, want %s", first.Type, EventRead)
	}
	if first.Reading.TagID != "E2000017" || first.Reading.RSSI != -54.5 {
		t.Errorf("reading = %+v", first.Reading)
	}
	second := <-g.Events()
	if second.Reading.TagID != "E2000018" || second.Reading.Antenna != 2 {
		t.Errorf("reading = %+v", second.Reading)
	}

	select {
	case st := <-g.StatusEvents():
		if st.Status != StatusOnline || st.BatteryPct != 88 {
			t.Errorf("status = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("status event not dispatched")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop on cancellation")
	}
}

func TestSerialGatewayGateKindMapsEventType(t *testing.T) {
	port := NewTestPort("READ,E2000017,-54.5,0,0,1\n")
	clock := timeutil.NewMockClock(time.Now())
	g := NewSerialGateway("gate-dock", rtls.ReaderGate, port, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Monitor(ctx)

	waitForEvents(t, g.Events(), 1)
	ev := <-g.Events()
	if ev.Type != EventGatePass {
		t.Errorf("event type = %s, want %s for a gate reader", ev.Type, EventGatePass)
	}
}

func TestSerialGatewayCommands(t *testing.T) {
	port := NewTestPort("")
	g := NewSerialGateway("reader-a", rtls.ReaderFixed, port, timeutil.RealClock{})

	if err := g.StartInventory("reader-a"); err != nil {
		t.Fatalf("StartInventory: %v", err)
	}
	if err := g.StopInventory("reader-a"); err != nil {
		t.Fatalf("StopInventory: %v", err)
	}
	if err := g.SetAntennaPower("reader-a", 27.5); err != nil {
		t.Fatalf("SetAntennaPower: %v", err)
	}
	if got, want := port.Written(), "IV1\nIV0\nPW=27.5\n"; got != want {
		t.Errorf("wire commands = %q, want %q", got, want)
	}

	if err := g.StartInventory("reader-z"); !errors.Is(err, rtls.ErrReaderNotFound) {
		t.Errorf("wrong reader id: err = %v, want ErrReaderNotFound", err)
	}
}

func TestSerialGatewayShortWrite(t *testing.T) {
	port := NewTestPort("")
	port.shortN = 2
	g := NewSerialGateway("reader-a", rtls.ReaderFixed, port, timeutil.RealClock{})

	if err := g.StartInventory("reader-a"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("short write: err = %v, want ErrWriteFailed", err)
	}
}

func TestSerialGatewayCloseIsIdempotent(t *testing.T) {
	port := NewTestPort("")
	g := NewSerialGateway("reader-a", rtls.ReaderFixed, port, timeutil.RealClock{})

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, open := <-g.Events(); open {
		t.Error("event channel not closed")
	}
}

func waitForEvents(t *testing.T, ch <-chan TagReadEvent, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(ch) < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events (have %d)", n, len(ch))
		case <-time.After(time.Millisecond):
		}
	}
}
