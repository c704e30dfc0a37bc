package persistence

import "mt5-grid-bot-go/internal/models"

// StateRepository defines the interface for grid state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the grid state for its symbol and magic.
	SaveState(state *models.GridState) error

	// LoadState loads the grid state for a symbol and magic number.
	// If no state is found, it should return (nil, nil).
	LoadState(symbol string, magic int64) (*models.GridState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
