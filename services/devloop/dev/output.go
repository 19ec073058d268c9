// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dev

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/AleutianAI/exodev/pkg/ux"
	"github.com/AleutianAI/exodev/services/devloop/builders"
	"github.com/AleutianAI/exodev/services/devloop/config"
)

// PrintBanner prints the startup summary.
func PrintBanner(c *ux.Console, root string, cfg *config.Config) {
	c.Title("exodev dev")
	c.KeyValue("project", root)
	c.KeyValue("script", cfg.App)
	c.KeyValue("env", cfg.NodeEnv())
	c.KeyValue("port", strconv.Itoa(cfg.Port()))
	if cfg.Path != "" {
		c.KeyValue("config", cfg.Path)
	}
	if v := cfg.Debug.Or("*"); v != "" {
		c.KeyValue("debug", v)
	}
	if v := cfg.Mock.Or(config.DefaultMockURL); v != "" {
		c.KeyValue("proxy", v)
	}
}

// PrintRoutes prints the router modules of a router build, as a tree
// when details is set and as a count otherwise.
func PrintRoutes(c *ux.Console, res *builders.Result, details bool) {
	if res == nil {
		return
	}
	if len(res.Routes) == 0 {
		c.Warning("no routers generated")
		return
	}
	c.Success(fmt.Sprintf("%d routers generated", len(res.Routes)))
	if !details {
		return
	}
	entries := make([]string, len(res.Routes))
	for i, r := range res.Routes {
		entries[i] = strings.TrimSuffix(r, path.Ext(r))
	}
	c.Tree(entries, "/")
}
