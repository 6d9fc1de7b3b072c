package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"companionai/pkg/domain"
	"companionai/pkg/memory"
	"companionai/pkg/store"
)

type fakeStreamer struct {
	mu      sync.Mutex
	reply   []string
	err     error
	systems []string
	users   []string
}

func (f *fakeStreamer) StreamChat(_ context.Context, system, user string, onDelta func(string) error) (string, error) {
	f.mu.Lock()
	f.systems = append(f.systems, system)
	f.users = append(f.users, user)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	var full strings.Builder
	for _, d := range f.reply {
		full.WriteString(d)
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

func (f *fakeStreamer) Model() string { return "fake-model" }

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://minio.test/bucket/" + key + "?expires=" + expiry.String(), nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type harness struct {
	app      *App
	store    *store.GormStore
	history  *memory.History
	streamer *fakeStreamer
	objects  *fakeObjects
	category domain.Category
}

func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "companion.db") + "?_foreign_keys=on"
	s, err := store.NewGormStoreWithDialector(sqlite.Open(dsn))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	history, err := memory.New(memory.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	h := &harness{
		store:    s,
		history:  history,
		streamer: &fakeStreamer{reply: []string{"Hello", " friend"}},
		objects:  newFakeObjects(),
	}
	cfg := Config{
		Store:    s,
		Objects:  h.objects,
		History:  history,
		Streamer: h.streamer,
		Now:      steppingClock(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.app, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.app.Close() })

	_, err = h.app.SeedCategories(context.Background(), nil)
	require.NoError(t, err)
	cats, err := h.app.ListCategories(context.Background())
	require.NoError(t, err)
	for _, c := range cats {
		if c.Name == "Animals" {
			h.category = c
		}
	}
	require.NotEmpty(t, h.category.ID)
	return h
}

var (
	ada   = domain.Caller{ID: "user-ada", FirstName: "Ada"}
	grace = domain.Caller{ID: "user-grace", FirstName: "Grace"}
)

func (h *harness) miloInput() domain.CompanionInput {
	return domain.CompanionInput{
		Name:         "Milo",
		Description:  "A curious fox",
		Instructions: strings.Repeat("i", 210),
		Seed:         "Human: Hi Milo\nMilo: Hi! I love the forest.\n" + strings.Repeat("s", 200),
		Src:          "/img/milo.png",
		CategoryID:   h.category.ID,
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSeedCategoriesDefaultsAndIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	cats, err := h.app.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, cats, len(DefaultCategories))

	n, err := h.app.SeedCategories(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.app.SeedCategories(context.Background(), []string{"Anime", "Games"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateCompanionSetsOwner(t *testing.T) {
	h := newHarness(t, nil)
	c, err := h.app.CreateCompanion(context.Background(), ada, h.miloInput())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, ada.ID, c.UserID)
	assert.Equal(t, ada.FirstName, c.UserName)

	got, err := h.app.GetCompanion(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Milo", got.Name)
	assert.Equal(t, h.category.ID, got.CategoryID)
}

func TestCreateCompanionRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.app.CreateCompanion(ctx, domain.Caller{ID: "x"}, h.miloInput())
	assert.ErrorIs(t, err, ErrUnauthorized)

	in := h.miloInput()
	in.Src = ""
	_, err = h.app.CreateCompanion(ctx, ada, in)
	assert.ErrorIs(t, err, ErrMissingFields)
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"src"}, missing.Fields)

	in = h.miloInput()
	in.Seed = "too short"
	_, err = h.app.CreateCompanion(ctx, ada, in)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Seed require at least 200 characters.", verr.Fields["seed"])

	in = h.miloInput()
	in.CategoryID = "cat_missing"
	_, err = h.app.CreateCompanion(ctx, ada, in)
	assert.ErrorIs(t, err, ErrUnknownCategory)

	all, err := h.app.ListCompanions(ctx, domain.CompanionFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdateCompanionOrderOfChecks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c, err := h.app.CreateCompanion(ctx, ada, h.miloInput())
	require.NoError(t, err)

	valid := h.miloInput()
	valid.Name = "Milo the Brave"
	empty := domain.CompanionInput{}
	short := h.miloInput()
	short.Instructions = "short"

	cases := []struct {
		name   string
		caller domain.Caller
		id     string
		in     domain.CompanionInput
		want   error
	}{
		{"unauthenticated beats everything", domain.Caller{}, "", empty, ErrUnauthorized},
		{"missing fields before id", ada, "", empty, ErrMissingFields},
		{"id required", ada, "  ", valid, ErrCompanionIDRequired},
		{"lengths before existence", ada, "nope", short, nil},
		{"not found", ada, "nope", valid, ErrNotFound},
		{"forbidden for non owner", grace, c.ID, valid, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.app.UpdateCompanion(ctx, tc.caller, tc.id, tc.in)
			if tc.want == nil {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}

	unknownCat := h.miloInput()
	unknownCat.CategoryID = "cat_missing"
	_, err = h.app.UpdateCompanion(ctx, ada, c.ID, unknownCat)
	assert.ErrorIs(t, err, ErrUnknownCategory)

	got, err := h.app.GetCompanion(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Milo", got.Name)
	assert.Equal(t, ada.ID, got.UserID)
}

func TestUpdateCompanionByOwnerIsLastWriteWins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c, err := h.app.CreateCompanion(ctx, ada, h.miloInput())
	require.NoError(t, err)

	first := h.miloInput()
	first.Name = "First"
	second := h.miloInput()
	second.Name = "Second"
	_, err = h.app.UpdateCompanion(ctx, ada, c.ID, first)
	require.NoError(t, err)
	renamed := domain.Caller{ID: ada.ID, FirstName: "Ada L."}
	updated, err := h.app.UpdateCompanion(ctx, renamed, c.ID, second)
	require.NoError(t, err)
	assert.Equal(t, "Second", updated.Name)
	assert.Equal(t, "Ada L.", updated.UserName)
	assert.Equal(t, c.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(c.UpdatedAt))

	got, err := h.app.GetCompanion(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Name)
	assert.Equal(t, ada.ID, got.UserID)
}

func TestDeleteCompanion(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.PublicBaseURL = "https://cdn.test/" })
	ctx := context.Background()

	src, err := h.app.UploadImage(ctx, ada, bytes.NewReader(pngBytes(100)), 100)
	require.NoError(t, err)
	in := h.miloInput()
	in.Src = src
	c, err := h.app.CreateCompanion(ctx, ada, in)
	require.NoError(t, err)
	_, err = h.app.Chat(ctx, ada, c.ID, "hi", nil)
	require.NoError(t, err)

	_, err = h.app.DeleteCompanion(ctx, grace, c.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.app.DeleteCompanion(ctx, ada, c.ID)
	require.NoError(t, err)
	_, err = h.app.GetCompanion(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.Len(t, h.objects.deleted, 1)
	assert.True(t, strings.HasPrefix(h.objects.deleted[0], "companions/"))

	_, err = h.app.DeleteCompanion(ctx, ada, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCompanionsFilters(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.app.CreateCompanion(ctx, ada, h.miloInput())
	require.NoError(t, err)
	other := h.miloInput()
	other.Name = "Hoot"
	_, err = h.app.CreateCompanion(ctx, grace, other)
	require.NoError(t, err)

	found, err := h.app.ListCompanions(ctx, domain.CompanionFilter{Name: "mil"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Milo", found[0].Name)

	all, err := h.app.ListCompanions(ctx, domain.CompanionFilter{CategoryID: h.category.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "Hoot", all[0].Name)
}
