package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companionai/pkg/domain"
)

func TestCreateAndUpdateCompanion(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var in domain.CompanionInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		status := http.StatusOK
		id := strings.TrimPrefix(r.URL.Path, "/api/companion/")
		if r.Method == http.MethodPost {
			status = http.StatusCreated
			id = "new-id"
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(domain.Companion{ID: id, Name: in.Name, CategoryID: in.CategoryID})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	created, err := c.CreateCompanion(context.Background(), domain.CompanionInput{Name: "Milo", CategoryID: "cat_1"})
	require.NoError(t, err)
	assert.Equal(t, "new-id", created.ID)
	assert.Equal(t, "cat_1", created.CategoryID)

	updated, err := c.UpdateCompanion(context.Background(), "abc", domain.CompanionInput{Name: "Milo II"})
	require.NoError(t, err)
	assert.Equal(t, "abc", updated.ID)
	assert.Equal(t, []string{"POST /api/companion", "PATCH /api/companion/abc"}, calls)
}

func TestAPIErrorCarriesPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Error-Code", "COMPANION_MISSING_FIELDS")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Missing required fields")
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").UpdateCompanion(context.Background(), "abc", domain.CompanionInput{})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "COMPANION_MISSING_FIELDS", apiErr.Code)
	assert.Equal(t, "Missing required fields", apiErr.Message)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.False(t, IsStatus(err, http.StatusUnauthorized))
}

func TestListEndpointsAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/categories":
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []domain.Category{{ID: "1", Name: "Animals"}}})
		case "/api/companions":
			assert.Equal(t, "cat_1", r.URL.Query().Get("categoryId"))
			assert.Equal(t, "mi", r.URL.Query().Get("name"))
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []domain.Companion{{ID: "c1"}}})
		case "/api/chat/c1/messages":
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []domain.Message{{ID: "m1", Role: domain.RoleUser}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	cats, err := c.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Animals", cats[0].Name)

	comps, err := c.ListCompanions(context.Background(), "cat_1", "mi")
	require.NoError(t, err)
	assert.Len(t, comps, 1)

	msgs, err := c.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)

	err = c.DeleteCompanion(context.Background(), "missing")
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestChatStreamsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body.Prompt)
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Hello", ", ", "friend"} {
			_, _ = io.WriteString(w, chunk)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	var seen strings.Builder
	text, err := New(srv.URL, "tok").Chat(context.Background(), "c1", "hi", func(d string) error {
		seen.WriteString(d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, friend", text)
	assert.Equal(t, text, seen.String())
}

func TestUploadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		raw, _ := io.ReadAll(file)
		assert.Equal(t, "milo.png", header.Filename)
		assert.Equal(t, "png-bytes", string(raw))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"src": "/img/milo.png"})
	}))
	defer srv.Close()

	src, err := New(srv.URL, "tok").UploadImage(context.Background(), "/tmp/milo.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/img/milo.png", src)
}
