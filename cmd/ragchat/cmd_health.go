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
	"strings"

	"github.com/spf13/cobra"
)

func runHealthCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.health(cmd.Context())
}

// health reports the backend status. Anything but "healthy" is an error so
// the command can gate scripts.
func (a *app) health(ctx context.Context) error {
	h, err := a.api.Health(ctx)
	if err != nil {
		return fmt.Errorf("backend at %s is unreachable: %w", a.cfg.Server.BaseURL, err)
	}
	a.out.Fields(
		[2]string{"status", h.Status},
		[2]string{"app", h.AppName},
		[2]string{"version", h.Version},
		[2]string{"environment", h.Environment},
	)
	if !strings.EqualFold(h.Status, "healthy") {
		return fmt.Errorf("backend reports status %q", h.Status)
	}
	return nil
}
