package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"companionai/internal/util"
	"companionai/pkg/ai"
	"companionai/pkg/domain"
	"companionai/pkg/storage"
	"companionai/pkg/store"
	"companionai/pkg/validation"
)

const (
	defaultHistoryWindow = 30
	defaultPresignExpiry = 7 * 24 * time.Hour
)

// DefaultCategories is the lookup list inserted by the seed command.
var DefaultCategories = []string{
	"Cartoons",
	"Animals",
	"Princesses",
	"Supherheroes",
	"Games",
	"Movies & TV",
}

// History is the rolling transcript used to prime chat prompts.
type History interface {
	SeedHistory(ctx context.Context, key, seed, delimiter string) (bool, error)
	WriteHistory(ctx context.Context, key, line string) error
	ReadLatest(ctx context.Context, key string, n int) ([]string, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store    store.Store
	Objects  storage.ObjectStore
	History  History
	Streamer ai.ChatStreamer
	Rules    validation.Rules

	PublicBaseURL  string
	PresignExpiry  time.Duration
	MaxUploadBytes int64
	HistoryWindow  int

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// App implements companion management, category seeding, uploads and chat.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	history        History
	streamer       ai.ChatStreamer
	rules          validation.Rules
	publicBaseURL  string
	presignExpiry  time.Duration
	maxUploadBytes int64
	historyWindow  int
	now            func() time.Time
}

// New constructs the application. Objects, History and Streamer are optional;
// the features that need them report an error when they are missing.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	a := &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		history:        cfg.History,
		streamer:       cfg.Streamer,
		rules:          cfg.Rules,
		publicBaseURL:  cfg.PublicBaseURL,
		presignExpiry:  cfg.PresignExpiry,
		maxUploadBytes: cfg.MaxUploadBytes,
		historyWindow:  cfg.HistoryWindow,
		now:            cfg.Now,
	}
	if a.rules.InstructionsMinLength <= 0 || a.rules.SeedMinLength <= 0 {
		defaults := validation.DefaultRules()
		if a.rules.InstructionsMinLength <= 0 {
			a.rules.InstructionsMinLength = defaults.InstructionsMinLength
		}
		if a.rules.SeedMinLength <= 0 {
			a.rules.SeedMinLength = defaults.SeedMinLength
		}
	}
	if a.presignExpiry <= 0 {
		a.presignExpiry = defaultPresignExpiry
	}
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = storage.DefaultMaxImageBytes
	}
	if a.historyWindow <= 0 {
		a.historyWindow = defaultHistoryWindow
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// Rules returns the validation thresholds in force.
func (a *App) Rules() validation.Rules {
	return a.rules
}

// MaxUploadBytes returns the image size cap.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// SeedCategories inserts the given category names, or DefaultCategories when
// names is empty, skipping those already present.
func (a *App) SeedCategories(ctx context.Context, names []string) (int, error) {
	if len(names) == 0 {
		names = DefaultCategories
	}
	n, err := a.store.SeedCategories(names)
	if err != nil {
		return 0, fmt.Errorf("seed categories: %w", err)
	}
	util.LoggerFromContext(ctx).Info("categories seeded", "inserted", n, "requested", len(names))
	return n, nil
}

// ListCategories returns all categories ordered by name.
func (a *App) ListCategories(_ context.Context) ([]domain.Category, error) {
	return a.store.ListCategories()
}

func (a *App) timestamp() time.Time {
	return a.now().UTC()
}
