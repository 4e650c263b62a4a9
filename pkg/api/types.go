// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// requestValidate checks request payloads before they leave the process.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
}

// =============================================================================
// Auth
// =============================================================================

// Credentials is the body of login and register calls.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

// normalize trims the username the way the backend does before validating.
func (c Credentials) normalize() Credentials {
	c.Username = strings.TrimSpace(c.Username)
	return c
}

// Token is an issued bearer credential.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User is the account created by Register.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSessionRequest is the body of CreateSession.
type CreateSessionRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// ChatSession is a newly created conversation.
type ChatSession struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	Message   string `json:"message"`
}

// =============================================================================
// Documents
// =============================================================================

// MaxUploadBytes is the backend's upload ceiling.
const MaxUploadBytes = 50 * 1024 * 1024

// uploadContentTypes maps accepted extensions to the content type the
// backend expects on the multipart file part.
var uploadContentTypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".pdf":  "application/pdf",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".csv":  "text/csv",
}

// ContentTypeFor returns the upload content type for filename.
func ContentTypeFor(filename string) (string, bool) {
	ct, ok := uploadContentTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// ValidateUpload checks a file against the backend's upload rules.
func ValidateUpload(filename string, size int64) error {
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." {
		return fmt.Errorf("upload: empty file name")
	}
	if len(name) > 255 {
		return fmt.Errorf("upload: file name longer than 255 characters")
	}
	if _, ok := ContentTypeFor(name); !ok {
		return fmt.Errorf("upload: unsupported file type %q", filepath.Ext(name))
	}
	if size <= 0 {
		return fmt.Errorf("upload: %s is empty", name)
	}
	if size > MaxUploadBytes {
		return fmt.Errorf("upload: %s is %d bytes, limit is %d", name, size, MaxUploadBytes)
	}
	return nil
}

// Document is one uploaded reference document.
type Document struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	ContentPreview string `json:"content_preview"`
	FileSize       int64  `json:"file_size"`
	ChunkCount     int    `json:"chunk_count"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// UploadResult is the backend's answer to an upload.
type UploadResult struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// SearchRequest is a similarity search over the user's documents.
type SearchRequest struct {
	Query               string  `validate:"required"`
	TopK                int     `validate:"gte=1,lte=50"`
	SimilarityThreshold float64 `validate:"gte=0,lte=1"`
}

// DefaultSearchRequest returns a request with the backend's defaults.
func DefaultSearchRequest(query string) SearchRequest {
	return SearchRequest{Query: query, TopK: 5, SimilarityThreshold: 0.7}
}

// SearchHit is one matching chunk.
type SearchHit struct {
	Content    string  `json:"content"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
}

// SearchResponse lists hits in the backend's order (best first).
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
	Count   int         `json:"count"`
}

// =============================================================================
// Health
// =============================================================================

// Health is the backend status report.
type Health struct {
	Status      string `json:"status"`
	AppName     string `json:"app_name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}
