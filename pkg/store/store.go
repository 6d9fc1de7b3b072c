package store

import (
	"errors"

	"companionai/pkg/domain"
)

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("record not found")

// Store defines persistence operations for categories, companions, and chat messages.
type Store interface {
	// categories
	SeedCategories(names []string) (int, error)
	ListCategories() ([]domain.Category, error)
	GetCategory(id string) (domain.Category, bool, error)

	// companions
	CreateCompanion(domain.Companion) error
	UpdateCompanion(domain.Companion) error
	GetCompanion(id string) (domain.Companion, bool, error)
	ListCompanions(filter domain.CompanionFilter) ([]domain.Companion, error)
	DeleteCompanion(id string) error

	// chats
	AppendMessage(msg domain.Message) error
	ListMessages(companionID, userID string, limit int) ([]domain.Message, error)

	Close() error
}
