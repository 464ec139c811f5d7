package symbols

import (
	"strings"
	"sync"

	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
)

// Catalog is the live instrument store for both accounts. The session
// coordinator refreshes it on every (re)connect; the decision pipeline
// reads it concurrently. Mapping is by symbol name, with optional
// per-name aliases for brokers that label the same instrument
// differently (e.g. XAUUSD vs GOLD).
type Catalog struct {
	mu          sync.RWMutex
	masterSpecs map[int64]domain.SymbolSpec
	slaveSpecs  map[int64]domain.SymbolSpec
	mapper      *Mapper
	snapshot    *domain.AccountSnapshot

	aliases map[string]string // master name -> slave name, uppercase
}

// NewCatalog creates an empty catalog. aliases may be nil.
func NewCatalog(aliases map[string]string) *Catalog {
	up := make(map[string]string, len(aliases))
	for k, v := range aliases {
		up[strings.ToUpper(k)] = strings.ToUpper(v)
	}
	return &Catalog{
		masterSpecs: make(map[int64]domain.SymbolSpec),
		slaveSpecs:  make(map[int64]domain.SymbolSpec),
		mapper:      NewMapper(nil),
		aliases:     up,
	}
}

// Update replaces both spec tables and rebuilds the name-matched
// mapping. Master symbols with no slave counterpart stay unmapped and
// are skipped at copy time.
func (c *Catalog) Update(master, slave []domain.SymbolSpec) {
	slaveByName := make(map[string]domain.SymbolSpec, len(slave))
	for _, s := range slave {
		slaveByName[strings.ToUpper(s.Name)] = s
	}

	var mappings []Mapping
	masterSpecs := make(map[int64]domain.SymbolSpec, len(master))
	slaveSpecs := make(map[int64]domain.SymbolSpec, len(slave))
	for _, s := range slave {
		slaveSpecs[s.SymbolID] = s
	}
	for _, m := range master {
		masterSpecs[m.SymbolID] = m
		name := strings.ToUpper(m.Name)
		target := name
		if alias, ok := c.aliases[name]; ok {
			target = alias
		}
		if s, ok := slaveByName[target]; ok {
			mappings = append(mappings, Mapping{Name: m.Name, MasterID: m.SymbolID, SlaveID: s.SymbolID})
		}
	}

	c.mu.Lock()
	c.masterSpecs = masterSpecs
	c.slaveSpecs = slaveSpecs
	c.mapper = NewMapper(mappings)
	c.mu.Unlock()
}

// UpdatePrices refreshes bid/ask on a slave spec, keeping pip-value
// conversion current.
func (c *Catalog) UpdatePrices(slaveSymbolID, bidMicros, askMicros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slaveSpecs[slaveSymbolID]
	if !ok {
		return
	}
	s.BidMicros = quant.PriceMicros(bidMicros)
	s.AskMicros = quant.PriceMicros(askMicros)
	c.slaveSpecs[slaveSymbolID] = s
}

// SetSnapshot stores the latest slave account snapshot.
func (c *Catalog) SetSnapshot(snap domain.AccountSnapshot) {
	c.mu.Lock()
	c.snapshot = &snap
	c.mu.Unlock()
}

// Snapshot returns the latest slave account snapshot, or nil before
// the first trader query completes.
func (c *Catalog) Snapshot() *domain.AccountSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil
	}
	cp := *c.snapshot
	return &cp
}

// MasterSpec returns a copy of the master spec, or nil when unknown.
func (c *Catalog) MasterSpec(symbolID int64) *domain.SymbolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.masterSpecs[symbolID]; ok {
		return &s
	}
	return nil
}

// SlaveSpec returns a copy of the slave spec, or nil when unknown.
func (c *Catalog) SlaveSpec(symbolID int64) *domain.SymbolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.slaveSpecs[symbolID]; ok {
		return &s
	}
	return nil
}

// ToSlave resolves a master symbol id to the slave catalog.
func (c *Catalog) ToSlave(masterSymbolID int64) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapper.ToSlave(masterSymbolID)
}

// ToMaster resolves a slave symbol id back to the master catalog.
func (c *Catalog) ToMaster(slaveSymbolID int64) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapper.ToMaster(slaveSymbolID)
}

// Name returns the master-side display name for a symbol id.
func (c *Catalog) Name(masterSymbolID int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapper.Name(masterSymbolID)
}

// SlaveIDs returns all mapped slave symbol ids (spot subscription set).
func (c *Catalog) SlaveIDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapper.SlaveIDs()
}
