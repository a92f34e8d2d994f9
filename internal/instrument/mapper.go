// Package instrument resolves resolve(symbol, exchange) -> (code,
// lot_size) with an in-process cache, falling through to the persistent
// Instrument Code store on miss. The repository uses the column-constant
// shape common to this codebase's SQL repositories, and the cache is a
// mutex-guarded map tagged with a generation counter: Invalidate() bumps
// the generation so every entry is treated as stale on its next lookup
// without an explicit map walk, and the first populate after a bump
// replaces the map with a fresh one.
package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/replerr"
)

type cacheKey struct {
	symbol   string
	exchange string
}

// Mapper implements domain.InstrumentMapper.
type Mapper struct {
	db  *sql.DB
	log zerolog.Logger

	generation atomic.Uint64

	mu    sync.RWMutex
	cache map[cacheKey]*domain.InstrumentCode
	gen   uint64 // generation the current cache snapshot was built under
}

// New builds an Instrument Mapper over the cache database's connection.
func New(db *sql.DB, log zerolog.Logger) *Mapper {
	return &Mapper{
		db:    db,
		log:   log.With().Str("component", "instrument_mapper").Logger(),
		cache: make(map[cacheKey]*domain.InstrumentCode),
	}
}

// Resolve returns the broker-specific numeric instrument code and lot size
// for (symbol, exchange). Cache miss reads the Instrument Code store;
// absence fails with UnknownInstrumentError.
func (m *Mapper) Resolve(ctx context.Context, symbol, exchange string) (*domain.InstrumentCode, error) {
	key := cacheKey{symbol: symbol, exchange: exchange}

	if code := m.fromCache(key); code != nil {
		return code, nil
	}

	code, err := m.fromStore(ctx, symbol, exchange)
	if err != nil {
		return nil, err
	}

	m.populate(key, code)
	return code, nil
}

func (m *Mapper) fromCache(key cacheKey) *domain.InstrumentCode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// A cache built under a stale generation is never trusted; Invalidate()
	// bumps the generation and the next Resolve() reads the store and
	// populates a fresh map.
	if m.gen != m.generation.Load() {
		return nil
	}
	return m.cache[key]
}

func (m *Mapper) populate(key cacheKey, code *domain.InstrumentCode) {
	currentGen := m.generation.Load()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != currentGen {
		// A bump happened while we were reading from the store; replace
		// the whole map rather than mixing entries across generations.
		m.cache = make(map[cacheKey]*domain.InstrumentCode)
		m.gen = currentGen
	}
	m.cache[key] = code
}

func (m *Mapper) fromStore(ctx context.Context, symbol, exchange string) (*domain.InstrumentCode, error) {
	const query = `
		SELECT symbol, exchange, exchange_segment, broker_code, lot_size, active
		FROM instrument_codes
		WHERE symbol = ? AND exchange = ? AND active = 1`

	row := m.db.QueryRowContext(ctx, query, symbol, exchange)

	var code domain.InstrumentCode
	var active int
	err := row.Scan(&code.Symbol, &code.Exchange, &code.ExchangeSegment, &code.BrokerCode, &code.LotSize, &active)
	if err == sql.ErrNoRows {
		return nil, &replerr.UnknownInstrumentError{Symbol: symbol, Exchange: exchange}
	}
	if err != nil {
		return nil, fmt.Errorf("query instrument code for %s/%s: %w", symbol, exchange, err)
	}
	code.Active = active != 0
	return &code, nil
}

// Invalidate bumps the generation counter, so every cached entry is treated
// as stale on its next lookup without an explicit map walk. Updates happen
// out of band; this is the mapper's only invalidation path.
func (m *Mapper) Invalidate() {
	m.generation.Add(1)
	m.log.Debug().Uint64("generation", m.generation.Load()).Msg("instrument cache invalidated")
}
