package readergw

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptionsDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if opts.BaudRate != 115200 || opts.DataBits != 8 || opts.StopBits != 1 || opts.Parity != "N" {
		t.Errorf("defaults = %+v, want 115200/8/1/N", opts)
	}
}

func TestPortOptionsParityAliases(t *testing.T) {
	for in, want := range map[string]string{
		"none": "N",
		"EVEN": "E",
		"o":    "O",
		"":     "N",
	} {
		opts, err := PortOptions{Parity: in}.Normalize()
		if err != nil {
			t.Errorf("Normalize(parity=%q): %v", in, err)
			continue
		}
		if opts.Parity != want {
			t.Errorf("parity %q normalized to %q, want %q", in, opts.Parity, want)
		}
	}
}

func TestPortOptionsRejectsInvalid(t *testing.T) {
	cases := []PortOptions{
		{DataBits: 4},
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	}
	for _, o := range cases {
		if _, err := o.Normalize(); err == nil {
			t.Errorf("Normalize(%+v) succeeded, want error", o)
		}
	}
}

func TestSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, Parity: "even", StopBits: 2}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode: %v", err)
	}
	if mode.BaudRate != 9600 || mode.DataBits != 8 {
		t.Errorf("mode = %+v", mode)
	}
	if mode.Parity != serial.EvenParity {
		t.Errorf("parity = %v, want even", mode.Parity)
	}
	if mode.StopBits != serial.StopBits(2) {
		t.Errorf("stop bits = %v, want 2", mode.StopBits)
	}

	if _, err := (PortOptions{Parity: "mark"}).SerialMode(); err == nil {
		t.Error("invalid parity accepted")
	}
}
