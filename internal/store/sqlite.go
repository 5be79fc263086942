package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

// SQLiteStore implements InstrumentStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// dbError marks err as a storage failure.
func dbError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, apperrors.ErrDatabaseError, err)
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, dbError("failed to open database", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, dbError("failed to initialize schema", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Instrument master, one full catalog per provider
	CREATE TABLE IF NOT EXISTS instruments (
		provider TEXT NOT NULL,
		token TEXT NOT NULL,
		exchange TEXT NOT NULL,
		symbol TEXT NOT NULL,
		underlying TEXT NOT NULL,
		kind TEXT NOT NULL,
		instrument_type TEXT,
		expiry TEXT,
		strike REAL,
		option_type TEXT,
		lot_size INTEGER,
		tick_size REAL,
		PRIMARY KEY (provider, exchange, token)
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_instruments_underlying ON instruments(provider, underlying);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveInstruments replaces the catalog of provider in one transaction.
func (s *SQLiteStore) SaveInstruments(ctx context.Context, provider string, instruments []models.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments WHERE provider = ?`, provider); err != nil {
		return dbError("failed to clear instruments", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instruments
			(provider, token, exchange, symbol, underlying, kind, instrument_type, expiry, strike, option_type, lot_size, tick_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return dbError("failed to prepare statement", err)
	}
	defer stmt.Close()

	for _, inst := range instruments {
		expiry := ""
		if !inst.Expiry.IsZero() {
			expiry = utils.FormatExpiry(inst.Expiry)
		}
		_, err := stmt.ExecContext(ctx,
			provider, inst.Token, string(inst.Exchange), inst.Symbol, inst.Underlying, string(inst.Kind),
			inst.InstrType, expiry, inst.Strike, string(inst.OptionType), inst.LotSize, inst.TickSize,
		)
		if err != nil {
			return dbError("failed to insert instrument "+inst.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError("failed to commit transaction", err)
	}

	return nil
}

// LoadInstruments returns the stored catalog of provider.
func (s *SQLiteStore) LoadInstruments(ctx context.Context, provider string) ([]models.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, exchange, symbol, underlying, kind, instrument_type, expiry, strike, option_type, lot_size, tick_size
		FROM instruments
		WHERE provider = ?
		ORDER BY exchange, token
	`, provider)
	if err != nil {
		return nil, dbError("failed to query instruments", err)
	}
	defer rows.Close()

	var instruments []models.Instrument
	for rows.Next() {
		var (
			inst                                   models.Instrument
			exchange, kind, instrType, expiry, typ sql.NullString
			strike, tick                           sql.NullFloat64
			lot                                    sql.NullInt64
		)
		if err := rows.Scan(&inst.Token, &exchange, &inst.Symbol, &inst.Underlying, &kind,
			&instrType, &expiry, &strike, &typ, &lot, &tick); err != nil {
			return nil, dbError("failed to scan instrument", err)
		}

		inst.Exchange = models.Exchange(exchange.String)
		inst.Kind = models.InstrumentKind(kind.String)
		inst.InstrType = instrType.String
		inst.Strike = strike.Float64
		inst.OptionType = models.OptionType(typ.String)
		inst.LotSize = int(lot.Int64)
		inst.TickSize = tick.Float64
		if expiry.String != "" {
			t, err := utils.ParseExpiry(expiry.String)
			if err != nil {
				return nil, apperrors.NewDataError("instrument", inst.Symbol, "bad stored expiry", err)
			}
			inst.Expiry = t
		}
		instruments = append(instruments, inst)
	}

	return instruments, rows.Err()
}

// CountInstruments returns the number of stored instruments of provider.
func (s *SQLiteStore) CountInstruments(ctx context.Context, provider string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instruments WHERE provider = ?`, provider).Scan(&n)
	if err != nil {
		return 0, dbError("failed to count instruments", err)
	}
	return n, nil
}

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t, time.Now())
	if err != nil {
		return dbError("failed to set last sync", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}
