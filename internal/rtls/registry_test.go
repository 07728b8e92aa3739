package rtls

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewReaderRegistry()
	r.Register(ReaderDescriptor{ID: "reader-a", Kind: ReaderFixed, PowerDBm: 30, Enabled: true})

	d, err := r.Get("reader-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.PowerDBm != 30 || !d.Enabled {
		t.Errorf("descriptor = %+v, want power 30 enabled", d)
	}

	if _, err := r.Get("reader-z"); !errors.Is(err, ErrReaderNotFound) {
		t.Errorf("unknown reader: err = %v, want ErrReaderNotFound", err)
	}
}

func TestRegistryMutations(t *testing.T) {
	r := NewReaderRegistry()
	r.Register(ReaderDescriptor{ID: "reader-a", Enabled: true})
	r.Register(ReaderDescriptor{ID: "reader-b", Enabled: true})

	if err := r.SetPower("reader-a", 27.5); err != nil {
		t.Fatalf("SetPower: %v", err)
	}
	if err := r.SetEnabled("reader-b", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if err := r.SetPower("reader-z", 20); !errors.Is(err, ErrReaderNotFound) {
		t.Errorf("SetPower unknown: err = %v, want ErrReaderNotFound", err)
	}

	d, _ := r.Get("reader-a")
	if d.PowerDBm != 27.5 {
		t.Errorf("power = %.1f, want 27.5", d.PowerDBm)
	}
	total, enabled := r.Count()
	if total != 2 || enabled != 1 {
		t.Errorf("Count = %d/%d, want 2 total 1 enabled", total, enabled)
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewReaderRegistry()
	r.Register(ReaderDescriptor{ID: "reader-a", PowerDBm: 30})

	d, _ := r.Get("reader-a")
	d.PowerDBm = 5

	again, _ := r.Get("reader-a")
	if again.PowerDBm != 30 {
		t.Error("mutating a returned descriptor leaked into the registry")
	}
}
