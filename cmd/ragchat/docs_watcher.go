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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/ragchat/pkg/api"
	"github.com/AleutianAI/ragchat/pkg/ux"
)

// documentUploader is the part of the API client the watcher needs.
type documentUploader interface {
	UploadFile(ctx context.Context, path, title string) (*api.UploadResult, error)
}

// dropWatcher uploads supported files that appear in a directory.
//
// # Description
//
// A file is uploaded once it has been quiet (no create or write events) for
// the settle period, so partially copied files are not sent. Each path is
// uploaded at most once per run. Hidden files, directories and unsupported
// extensions are ignored.
//
// # Thread Safety
//
// Run owns all state. Settle timers hand paths back to Run over a channel.
type dropWatcher struct {
	dir     string
	up      documentUploader
	settle  time.Duration
	logger  *slog.Logger
	out     *ux.Printer
	watcher *fsnotify.Watcher

	ready    chan string
	done     chan struct{}
	timers   map[string]*time.Timer
	uploaded map[string]struct{}

	// onUpload is called after each attempt. Tests use it.
	onUpload func(path string, err error)
}

func newDropWatcher(dir string, up documentUploader, settle time.Duration, logger *slog.Logger, out *ux.Printer) (*dropWatcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", abs)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = 750 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(abs); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}

	return &dropWatcher{
		dir:      abs,
		up:       up,
		settle:   settle,
		logger:   logger.With("component", "drop_watcher", "dir", abs),
		out:      out,
		watcher:  watcher,
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		uploaded: make(map[string]struct{}),
	}, nil
}

// uploadExisting uploads the supported files already in the directory.
func (w *dropWatcher) uploadExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to list drop folder", "error", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.Type().IsRegular() && w.accepts(path) {
			w.upload(ctx, path)
		}
	}
}

// Run processes events until ctx is cancelled. It closes the watcher.
func (w *dropWatcher) Run(ctx context.Context) error {
	defer func() {
		close(w.done)
		for _, t := range w.timers {
			t.Stop()
		}
		w.watcher.Close()
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("drop folder watcher error", "error", err)

		case path := <-w.ready:
			delete(w.timers, path)
			w.upload(ctx, path)

		case <-ctx.Done():
			w.logger.Debug("drop folder watcher stopping")
			return nil
		}
	}
}

// handleEvent (re)arms the settle timer for created or written files.
func (w *dropWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	path := event.Name
	if !w.accepts(path) {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *dropWatcher) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	_, ok := api.ContentTypeFor(name)
	return ok
}

func (w *dropWatcher) upload(ctx context.Context, path string) {
	if _, done := w.uploaded[path]; done {
		w.logger.Debug("already uploaded, skipping", "path", path)
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// Removed or replaced by a directory before it settled.
		return
	}

	res, err := w.up.UploadFile(ctx, path, "")
	if err != nil {
		w.logger.Warn("upload failed", "path", path, "error", err)
		if w.out != nil {
			w.out.Error(fmt.Sprintf("%s: %v", filepath.Base(path), err))
		}
	} else {
		w.uploaded[path] = struct{}{}
		w.logger.Info("uploaded", "path", path, "id", res.ID)
		if w.out != nil {
			w.out.Success(fmt.Sprintf("%s uploaded (%s)", filepath.Base(path), res.Status))
		}
	}
	if w.onUpload != nil {
		w.onUpload(path, err)
	}
}
