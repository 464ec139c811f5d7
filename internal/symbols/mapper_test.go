package symbols

import (
	"errors"
	"testing"
)

func testMapper() *Mapper {
	return NewMapper([]Mapping{
		{Name: "EURUSD", MasterID: 1, SlaveID: 1},
		{Name: "XAUUSD", MasterID: 41, SlaveID: 217},
	})
}

func TestMapper_Resolve(t *testing.T) {
	m := testMapper()

	tests := []struct {
		name    string
		lookup  func() (int64, error)
		want    int64
		wantErr bool
	}{
		{"SameID", func() (int64, error) { return m.ToSlave(1) }, 1, false},
		{"DifferentID", func() (int64, error) { return m.ToSlave(41) }, 217, false},
		{"Reverse", func() (int64, error) { return m.ToMaster(217) }, 41, false},
		{"UnmappedMaster", func() (int64, error) { return m.ToSlave(99) }, 0, true},
		{"UnmappedSlave", func() (int64, error) { return m.ToMaster(99) }, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lookup()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnmapped) {
				t.Errorf("expected ErrUnmapped, got %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMapper_Name(t *testing.T) {
	m := testMapper()
	if got := m.Name(41); got != "XAUUSD" {
		t.Errorf("Name(41) = %q, want XAUUSD", got)
	}
	if got := m.Name(99); got != "SYMBOL_99" {
		t.Errorf("Name(99) = %q, want SYMBOL_99", got)
	}
}
