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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ragchat/pkg/api"
)

func runDocsListCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.listDocuments(cmd.Context())
}

func runDocsUploadCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.uploadDocuments(cmd.Context(), args, docTitle)
}

func runDocsDeleteCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.deleteDocuments(cmd.Context(), args)
}

func runDocsSearchCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	req := api.SearchRequest{
		Query:               strings.Join(args, " "),
		TopK:                searchTopK,
		SimilarityThreshold: searchThresh,
	}
	return a.searchDocuments(cmd.Context(), req)
}

func runDocsWatchCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireLogin(); err != nil {
		return err
	}

	w, err := newDropWatcher(args[0], a.api, watchSettle, a.logger.Slog(), a.out)
	if err != nil {
		return err
	}
	if watchExisting {
		w.uploadExisting(cmd.Context())
	}
	a.out.Info(fmt.Sprintf("Watching %s for new documents (Ctrl+C to stop)", w.dir))
	return w.Run(cmd.Context())
}

func (a *app) listDocuments(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	docs, err := a.api.ListDocuments(ctx)
	if err != nil {
		return a.authError(err)
	}
	if len(docs) == 0 {
		a.out.Muted("No documents uploaded yet.")
		return nil
	}
	a.out.Title(fmt.Sprintf("%d document(s)", len(docs)))
	for _, d := range docs {
		a.out.Bullet(d.Filename, fmt.Sprintf("id %s, %s, %d chunks, %s", d.ID, d.Status, d.ChunkCount, formatBytes(d.FileSize)))
	}
	return nil
}

// uploadDocuments uploads each path, reporting per file. It keeps going
// after a failure and returns an error naming how many failed.
func (a *app) uploadDocuments(ctx context.Context, paths []string, title string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if title != "" && len(paths) > 1 {
		return errors.New("--title applies to a single file")
	}
	failed := 0
	for _, p := range paths {
		res, err := a.api.UploadFile(ctx, p, title)
		if err != nil {
			if api.IsUnauthorized(err) {
				return a.authError(err)
			}
			failed++
			a.out.Error(fmt.Sprintf("%s: %v", filepath.Base(p), err))
			continue
		}
		detail := res.Status
		if res.ID != "" {
			detail = fmt.Sprintf("id %s, %s", res.ID, res.Status)
		}
		a.out.Success(fmt.Sprintf("%s uploaded (%s)", res.Filename, detail))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(paths))
	}
	return nil
}

func (a *app) deleteDocuments(ctx context.Context, ids []string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	failed := 0
	for _, id := range ids {
		if err := a.api.DeleteDocument(ctx, id); err != nil {
			if api.IsUnauthorized(err) {
				return a.authError(err)
			}
			failed++
			if api.IsNotFound(err) {
				a.out.Error(fmt.Sprintf("%s: no such document", id))
			} else {
				a.out.Error(fmt.Sprintf("%s: %v", id, err))
			}
			continue
		}
		a.out.Success("Deleted " + id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(ids))
	}
	return nil
}

func (a *app) searchDocuments(ctx context.Context, req api.SearchRequest) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	res, err := a.api.SearchDocuments(ctx, req)
	if err != nil {
		return a.authError(err)
	}
	if len(res.Results) == 0 {
		a.out.Muted(fmt.Sprintf("No matches for %q.", req.Query))
		return nil
	}
	for i, hit := range res.Results {
		a.out.Info(fmt.Sprintf("%d. %s #%d (%d%%)", i+1, hit.Filename, hit.ChunkIndex, int(hit.Similarity*100+0.5)))
		a.out.Muted("   " + snippet(hit.Content, 160))
	}
	return nil
}

// snippet collapses whitespace and truncates to n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
