// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Command assetfetch is an example program of the assetcache package. It
// fetches, stores and removes assets from the command line, or serves them
// over HTTP as a caching proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tunabay/go-assetcache"
)

// app holds the state shared by the commands.
type app struct {
	configPath string
	primary    string
	secondary  string
	scopeName  string
	verbose    bool

	conf  *fileConfig
	log   zerolog.Logger
	cache *assetcache.Cache
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "assetfetch",
		Short: "Fetch remote assets through a local cache",
		Long: `assetfetch downloads remote assets such as images once, keeps them in a
local directory and serves them from there afterwards.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.open,
		PersistentPostRunE: a.close,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file path")
	cmd.PersistentFlags().StringVar(&a.primary, "primary", "", "primary (durable) cache directory")
	cmd.PersistentFlags().StringVar(&a.secondary, "secondary", "", "secondary (purgeable) cache directory")
	cmd.PersistentFlags().StringVarP(&a.scopeName, "scope", "s", "primary", "scope to operate on (primary, secondary)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		a.newFetchCmd(),
		a.newSaveCmd(),
		a.newDeleteCmd(),
		a.newLocateCmd(),
		a.newListCmd(),
		a.newServeCmd(),
	)

	return cmd
}

// open loads the configuration and creates the cache.
func (a *app) open(*cobra.Command, []string) error {
	conf, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.primary != "" {
		conf.PrimaryDir = a.primary
	}
	if a.secondary != "" {
		conf.SecondaryDir = a.secondary
	}
	a.conf = conf

	if a.log, err = conf.newLogger(a.verbose); err != nil {
		return err
	}
	if a.cache, err = assetcache.NewWithConfig(conf.cacheConfig(&a.log)); err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	return nil
}

// close waits for the background work of the cache.
func (a *app) close(*cobra.Command, []string) error {
	if a.cache == nil {
		return nil
	}
	if err := a.cache.Close(); err != nil {
		return err
	}
	a.log.Debug().Stringer("status", a.cache.Status()).Msg("Done.")

	return nil
}

// scope returns the scope selected with the --scope flag.
func (a *app) scope() (assetcache.Scope, error) {
	return assetcache.ParseScope(a.scopeName)
}
