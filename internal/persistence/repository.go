package persistence

import "ladder-bot-go/internal/models"

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically replaces the stored snapshot.
	SaveState(state *models.BotState) error

	// LoadState loads the bot state from storage.
	// If no state is found, it returns (nil, nil).
	LoadState() (*models.BotState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
