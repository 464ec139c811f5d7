// Package symbols resolves instrument identifiers between the master and
// slave broker catalogs. The tables are rebuilt from the venue's symbol
// lists on every session start and read concurrently after that.
package symbols

import (
	"errors"
	"fmt"
)

// ErrUnmapped is returned when a symbol id has no entry in the mapping table.
var ErrUnmapped = errors.New("symbol not mapped")

// Mapping is one config row tying a symbol name to its id on each broker.
type Mapping struct {
	Name     string
	MasterID int64
	SlaveID  int64
}

// Mapper provides bidirectional master↔slave symbol id resolution.
type Mapper struct {
	masterToSlave map[int64]int64
	slaveToMaster map[int64]int64
	names         map[int64]string // keyed by master id
}

// NewMapper builds a Mapper from config rows. Later duplicates win,
// matching how the original lookup tables were maintained by hand.
func NewMapper(mappings []Mapping) *Mapper {
	m := &Mapper{
		masterToSlave: make(map[int64]int64, len(mappings)),
		slaveToMaster: make(map[int64]int64, len(mappings)),
		names:         make(map[int64]string, len(mappings)),
	}
	for _, row := range mappings {
		m.masterToSlave[row.MasterID] = row.SlaveID
		m.slaveToMaster[row.SlaveID] = row.MasterID
		m.names[row.MasterID] = row.Name
	}
	return m
}

// ToSlave resolves a master catalog id to the slave catalog.
func (m *Mapper) ToSlave(masterSymbolID int64) (int64, error) {
	id, ok := m.masterToSlave[masterSymbolID]
	if !ok {
		return 0, fmt.Errorf("master symbol %d: %w", masterSymbolID, ErrUnmapped)
	}
	return id, nil
}

// ToMaster resolves a slave catalog id back to the master catalog.
func (m *Mapper) ToMaster(slaveSymbolID int64) (int64, error) {
	id, ok := m.slaveToMaster[slaveSymbolID]
	if !ok {
		return 0, fmt.Errorf("slave symbol %d: %w", slaveSymbolID, ErrUnmapped)
	}
	return id, nil
}

// Name returns the display name for a master symbol id, or a synthetic
// SYMBOL_<id> placeholder for unmapped instruments (log-friendly).
func (m *Mapper) Name(masterSymbolID int64) string {
	if name, ok := m.names[masterSymbolID]; ok {
		return name
	}
	return fmt.Sprintf("SYMBOL_%d", masterSymbolID)
}

// MasterIDs returns all mapped master symbol ids (subscription set).
func (m *Mapper) MasterIDs() []int64 {
	ids := make([]int64, 0, len(m.masterToSlave))
	for id := range m.masterToSlave {
		ids = append(ids, id)
	}
	return ids
}

// SlaveIDs returns all mapped slave symbol ids.
func (m *Mapper) SlaveIDs() []int64 {
	ids := make([]int64, 0, len(m.slaveToMaster))
	for id := range m.slaveToMaster {
		ids = append(ids, id)
	}
	return ids
}
