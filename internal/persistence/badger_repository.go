package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"mt5-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
// One database holds one record per (symbol, magic) pair, so several grids
// can share a store.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the app's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

func stateKey(symbol string, magic int64) []byte {
	return []byte(fmt.Sprintf("grid_state:%s:%d", symbol, magic))
}

// SaveState atomically saves the grid state under its (symbol, magic) key.
func (r *badgerRepository) SaveState(state *models.GridState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.Symbol, state.Magic), data)
	})
}

// LoadState loads the grid state for a symbol and magic number.
// If the key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState(symbol string, magic int64) (*models.GridState, error) {
	var state models.GridState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(symbol, magic))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // expected "no state found" case
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
