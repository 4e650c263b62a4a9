// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ragchat/cmd/ragchat/config"
	"github.com/AleutianAI/ragchat/pkg/api"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testApp struct {
	*app
	out       *syncBuffer
	statePath string
	server    *httptest.Server
}

// newTestApp starts handler as the backend and builds an app against it
// with config and state in a temp dir.
func newTestApp(t *testing.T, handler http.Handler, st config.State) *testApp {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")
	if st != (config.State{}) {
		if st.BaseURL == "" {
			st.BaseURL = srv.URL
		}
		require.NoError(t, config.SaveState(statePath, st))
	}

	out := &syncBuffer{}
	a, err := newApp(appOptions{
		ConfigPath:  filepath.Join(dir, "ragchat.yaml"),
		StatePath:   statePath,
		BaseURL:     srv.URL,
		Personality: "minimal",
		Out:         out,
		LogWriter:   io.Discard,
	})
	require.NoError(t, err)
	t.Cleanup(a.close)
	return &testApp{app: a, out: out, statePath: statePath, server: srv}
}

func (ta *testApp) savedState(t *testing.T) config.State {
	t.Helper()
	st, err := config.LoadState(ta.statePath)
	require.NoError(t, err)
	return st
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// =============================================================================
// Auth
// =============================================================================

func TestLogin_SavesCredential(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds api.Credentials
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "alice", creds.Username)
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "tok-1", "token_type": "bearer"})
	})
	ta := newTestApp(t, mux, config.State{Username: "bob", Token: "old", SessionID: "bob-session"})

	err := ta.login(context.Background(), api.Credentials{Username: " alice ", Password: "secret1"}, nil)
	require.NoError(t, err)

	st := ta.savedState(t)
	assert.Equal(t, "tok-1", st.Token)
	assert.Equal(t, "alice", st.Username)
	assert.Empty(t, st.SessionID, "another user's session must not be reused")
	assert.Equal(t, ta.server.URL, st.BaseURL)
	assert.True(t, ta.api.HasToken())
	assert.Contains(t, ta.out.String(), "Logged in as alice")
}

func TestLogin_PromptsForMissingFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "tok", "token_type": "bearer"})
	})
	ta := newTestApp(t, mux, config.State{})

	prompted := false
	prompt := func(_ context.Context, creds *api.Credentials, confirm bool) error {
		prompted = true
		assert.False(t, confirm)
		assert.Equal(t, "alice", creds.Username)
		creds.Password = "secret1"
		return nil
	}
	require.NoError(t, ta.login(context.Background(), api.Credentials{Username: "alice"}, prompt))
	assert.True(t, prompted)
}

func TestLogin_MissingFieldsWithoutPrompt(t *testing.T) {
	ta := newTestApp(t, http.NotFoundHandler(), config.State{})
	err := ta.login(context.Background(), api.Credentials{Username: "alice"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--password")
}

func TestLogin_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
	})
	ta := newTestApp(t, mux, config.State{})

	err := ta.login(context.Background(), api.Credentials{Username: "alice", Password: "wrong-pw"}, nil)
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "Incorrect username or password")
	_, statErr := os.Stat(ta.statePath)
	assert.True(t, os.IsNotExist(statErr), "nothing saved on failure")
}

func TestRegister_DoesNotLogIn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"username": "alice", "email": "alice@example.com"}})
	})
	ta := newTestApp(t, mux, config.State{})

	require.NoError(t, ta.register(context.Background(), api.Credentials{Username: "alice", Password: "secret1"}, nil))
	assert.Contains(t, ta.out.String(), "Account alice created")
	assert.Empty(t, ta.savedState(t).Token)
}

func TestWhoami(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "tok", "token_type": "bearer"})
	})
	ta := newTestApp(t, mux, config.State{Token: "tok", Username: "alice", SessionID: "s-1"})

	require.NoError(t, ta.whoami(context.Background()))
	out := ta.out.String()
	assert.Contains(t, out, "user:    alice")
	assert.Contains(t, out, "token:   bearer")
	assert.Contains(t, out, "session: s-1")
}

func TestWhoami_ExpiredCredentialIsCleared(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
	})
	ta := newTestApp(t, mux, config.State{Token: "stale", Username: "alice", SessionID: "s-1"})

	err := ta.whoami(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ragchat login")
	assert.Equal(t, config.State{BaseURL: ta.server.URL}, ta.savedState(t))
}

func TestRequireLogin(t *testing.T) {
	ta := newTestApp(t, http.NotFoundHandler(), config.State{})
	assert.ErrorIs(t, ta.whoami(context.Background()), errNotLoggedIn)
	assert.ErrorIs(t, ta.listDocuments(context.Background()), errNotLoggedIn)
}

func TestNewApp_StateFromOtherServerIsIgnored(t *testing.T) {
	ta := newTestApp(t, http.NotFoundHandler(), config.State{BaseURL: "http://elsewhere:8000", Token: "tok", SessionID: "s-1"})
	assert.Empty(t, ta.state.Token)
	assert.Empty(t, ta.state.SessionID)
	assert.False(t, ta.api.HasToken())
}

// =============================================================================
// Sessions
// =============================================================================

func TestEnsureSession(t *testing.T) {
	var created atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/session", func(w http.ResponseWriter, r *http.Request) {
		created.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"session_id": "s-new", "title": "New Chat"})
	})

	t.Run("reuses the saved session", func(t *testing.T) {
		created.Store(0)
		ta := newTestApp(t, mux, config.State{Token: "tok", SessionID: "s-saved"})
		id, err := ta.ensureSession(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "s-saved", id)
		assert.Zero(t, created.Load())
	})

	t.Run("creates one when none is saved", func(t *testing.T) {
		created.Store(0)
		ta := newTestApp(t, mux, config.State{Token: "tok"})
		id, err := ta.ensureSession(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "s-new", id)
		assert.Equal(t, int32(1), created.Load())
		assert.Equal(t, "s-new", ta.savedState(t).SessionID)
	})

	t.Run("fresh replaces the saved one", func(t *testing.T) {
		created.Store(0)
		ta := newTestApp(t, mux, config.State{Token: "tok", SessionID: "s-saved"})
		id, err := ta.ensureSession(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "s-new", id)
		assert.Equal(t, int32(1), created.Load())
	})
}

func TestShowSession(t *testing.T) {
	ta := newTestApp(t, http.NotFoundHandler(), config.State{Token: "tok", Username: "alice"})
	ta.showSession()
	out := ta.out.String()
	assert.Contains(t, out, "logged in: true")
	assert.Contains(t, out, "No saved session")
	assert.NotContains(t, out, "tok\n", "the credential is never printed")
}

// =============================================================================
// Documents
// =============================================================================

func TestListDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/rag/documents", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []api.Document{
			{ID: "d1", Filename: "guide.pdf", FileSize: 2048, ChunkCount: 4, Status: "processed"},
		})
	})
	ta := newTestApp(t, mux, config.State{Token: "tok"})

	require.NoError(t, ta.listDocuments(context.Background()))
	assert.Contains(t, ta.out.String(), "guide.pdf (id d1, processed, 4 chunks, 2.0 KB)")
}

func TestUploadDocuments_ContinuesAfterFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/rag/upload", func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		writeJSON(w, http.StatusOK, api.UploadResult{ID: "d9", Filename: hdr.Filename, Status: "processed"})
	})
	ta := newTestApp(t, mux, config.State{Token: "tok"})

	dir := t.TempDir()
	good := filepath.Join(dir, "notes.md")
	bad := filepath.Join(dir, "tool.exe")
	require.NoError(t, os.WriteFile(good, []byte("# notes"), 0644))
	require.NoError(t, os.WriteFile(bad, []byte("MZ"), 0644))

	err := ta.uploadDocuments(context.Background(), []string{bad, good}, "")
	require.Error(t, err)
	assert.Equal(t, "1 of 2 uploads failed", err.Error())
	out := ta.out.String()
	assert.Contains(t, out, "tool.exe: upload: unsupported file type")
	assert.Contains(t, out, "notes.md uploaded (id d9, processed)")
}

func TestUploadDocuments_TitleNeedsSingleFile(t *testing.T) {
	ta := newTestApp(t, http.NotFoundHandler(), config.State{Token: "tok"})
	err := ta.uploadDocuments(context.Background(), []string{"a.md", "b.md"}, "Title")
	require.Error(t, err)
}

func TestDeleteDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/v1/rag/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Document not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	})
	ta := newTestApp(t, mux, config.State{Token: "tok"})

	err := ta.deleteDocuments(context.Background(), []string{"d1", "missing"})
	require.Error(t, err)
	out := ta.out.String()
	assert.Contains(t, out, "Deleted d1")
	assert.Contains(t, out, "missing: no such document")
}

func TestSearchDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/rag/search", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "vacation policy", r.PostForm.Get("query"))
		assert.Equal(t, "3", r.PostForm.Get("top_k"))
		writeJSON(w, http.StatusOK, api.SearchResponse{
			Query: "vacation policy",
			Results: []api.SearchHit{
				{Content: "Employees   get\n25 days.", Filename: "handbook.pdf", ChunkIndex: 7, Similarity: 0.912},
			},
			Count: 1,
		})
	})
	ta := newTestApp(t, mux, config.State{Token: "tok"})

	req := api.SearchRequest{Query: "vacation policy", TopK: 3, SimilarityThreshold: 0.5}
	require.NoError(t, ta.searchDocuments(context.Background(), req))
	out := ta.out.String()
	assert.Contains(t, out, "1. handbook.pdf #7 (91%)")
	assert.Contains(t, out, "Employees get 25 days.")
}

func TestSnippetAndFormatBytes(t *testing.T) {
	assert.Equal(t, "a b", snippet(" a \n b ", 10))
	assert.Equal(t, "abcd…", snippet("abcdefgh", 5))
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "3.0 MB", formatBytes(3<<20))
}

// =============================================================================
// Health
// =============================================================================

func TestHealth(t *testing.T) {
	var status atomic.Value
	status.Store("healthy")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.Health{Status: status.Load().(string), AppName: "RAG Chat", Version: "1.0.0", Environment: "dev"})
	})
	ta := newTestApp(t, mux, config.State{})

	require.NoError(t, ta.health(context.Background()))
	assert.Contains(t, ta.out.String(), "status:      healthy")

	status.Store("degraded")
	err := ta.health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degraded")
}
