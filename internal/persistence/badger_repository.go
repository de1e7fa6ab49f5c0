package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"ladder-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const keyPrefix = "ladder/state/"

// badgerRepository stores one snapshot per bot instance, keyed by BotID,
// so several instances can share a database directory.
type badgerRepository struct {
	db       *badger.DB
	botID    string
	stateKey []byte
}

// NewBadgerRepository opens (or creates) the database at dbPath.
func NewBadgerRepository(dbPath, botID string) (StateRepository, error) {
	if botID == "" {
		return nil, errors.New("persistence: bot id must not be empty")
	}
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logger is disabled; errors still surface as return values.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dbPath, err)
	}

	return &badgerRepository{
		db:       db,
		botID:    botID,
		stateKey: []byte(keyPrefix + botID),
	}, nil
}

// SaveState marshals the snapshot to JSON and writes it in a single transaction.
func (r *badgerRepository) SaveState(state *models.BotState) error {
	if state == nil {
		return errors.New("persistence: nil state")
	}
	if state.BotID != "" && state.BotID != r.botID {
		return fmt.Errorf("persistence: state for bot %s written to repository of %s", state.BotID, r.botID)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
}

// LoadState returns (nil, nil) when nothing has been saved for this bot yet.
func (r *badgerRepository) LoadState() (*models.BotState, error) {
	var state models.BotState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
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
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if state.Version > models.StateVersion {
		return nil, fmt.Errorf("persistence: state version %d is newer than supported %d", state.Version, models.StateVersion)
	}
	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
