// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// =============================================================================
// Auth
// =============================================================================

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Token, error) {
	creds = creds.normalize()
	if err := requestValidate.Struct(creds); err != nil {
		return nil, fmt.Errorf("login: invalid credentials: %w", err)
	}
	body, err := jsonBody(creds)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	var tok Token
	if err := c.do(ctx, requestSpec{
		op: "Login", method: http.MethodPost, path: "/auth/login",
		body: body, contentType: "application/json",
	}, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("login: response carried no access token")
	}
	return &tok, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, creds Credentials) (*User, error) {
	creds = creds.normalize()
	if err := requestValidate.Struct(creds); err != nil {
		return nil, fmt.Errorf("register: invalid credentials: %w", err)
	}
	body, err := jsonBody(creds)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var user User
	if err := c.do(ctx, requestSpec{
		op: "Register", method: http.MethodPost, path: "/auth/register",
		body: body, contentType: "application/json",
	}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Me validates the current credential. The backend answers with the
// token's claims re-encoded as a Token.
func (c *Client) Me(ctx context.Context) (*Token, error) {
	var tok Token
	if err := c.do(ctx, requestSpec{
		op: "Me", method: http.MethodGet, path: "/auth/me", auth: true,
	}, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession opens a new conversation and returns its session id.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*ChatSession, error) {
	if err := requestValidate.Struct(req); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	body, err := jsonBody(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var sess ChatSession
	if err := c.do(ctx, requestSpec{
		op: "CreateSession", method: http.MethodPost, path: "/chat/session",
		body: body, contentType: "application/json", auth: true,
	}, &sess); err != nil {
		return nil, err
	}
	if sess.SessionID == "" {
		return nil, fmt.Errorf("create session: response carried no session id")
	}
	return &sess, nil
}

// =============================================================================
// Documents
// =============================================================================

// ListDocuments returns the user's uploaded documents.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	if err := c.do(ctx, requestSpec{
		op: "ListDocuments", method: http.MethodGet, path: "/rag/documents", auth: true,
	}, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// UploadFile uploads the file at path, with an optional title.
func (c *Client) UploadFile(ctx context.Context, path, title string) (*UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("upload: %s is a directory", path)
	}
	if err := ValidateUpload(path, info.Size()); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer f.Close()

	return c.UploadDocument(ctx, filepath.Base(path), f, title)
}

// UploadDocument uploads content read from r under filename.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader, title string) (*UploadResult, error) {
	contentType, ok := ContentTypeFor(filename)
	if !ok {
		return nil, fmt.Errorf("upload: unsupported file type %q", filepath.Ext(filename))
	}
	if len(strings.TrimSpace(title)) > 100 {
		return nil, fmt.Errorf("upload: title longer than 100 characters")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("upload: read %s: %w", filename, err)
	}
	if err := ValidateUpload(filename, n); err != nil {
		return nil, err
	}
	if t := strings.TrimSpace(title); t != "" {
		if err := mw.WriteField("title", t); err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	var res UploadResult
	if err := c.do(ctx, requestSpec{
		op: "UploadDocument", method: http.MethodPost, path: "/rag/upload",
		body: &buf, contentType: mw.FormDataContentType(), auth: true,
	}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteDocument removes a document and its chunks.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("delete document: empty id")
	}
	return c.do(ctx, requestSpec{
		op: "DeleteDocument", method: http.MethodDelete,
		path: "/rag/documents/" + url.PathEscape(id), auth: true,
	}, nil)
}

// SearchDocuments runs a similarity search over the user's documents.
func (c *Client) SearchDocuments(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	req.Query = strings.TrimSpace(req.Query)
	if err := requestValidate.Struct(req); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	form := url.Values{}
	form.Set("query", req.Query)
	form.Set("top_k", strconv.Itoa(req.TopK))
	form.Set("similarity_threshold", strconv.FormatFloat(req.SimilarityThreshold, 'f', -1, 64))

	var res SearchResponse
	if err := c.do(ctx, requestSpec{
		op: "SearchDocuments", method: http.MethodPost, path: "/rag/search",
		body: strings.NewReader(form.Encode()), contentType: "application/x-www-form-urlencoded", auth: true,
	}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// =============================================================================
// Health
// =============================================================================

// Health reports the backend status. No credential needed.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, requestSpec{
		op: "Health", method: http.MethodGet, path: "/health/",
	}, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
