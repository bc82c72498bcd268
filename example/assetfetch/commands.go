// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tunabay/go-assetcache"
	"github.com/tunabay/go-infounit"
)

func (a *app) newFetchCmd() *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Fetch assets as a batch",
		Long: `Fetch the assets and print one line per asset with its index, size and
local path. A size of "-" means the asset could not be fetched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := a.scope()
			if err != nil {
				return err
			}
			return a.runFetch(cmd.Context(), cmd.OutOrStdout(), args, scope, noCache)
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "neither read nor write the local copy")

	return cmd
}

func (a *app) runFetch(ctx context.Context, out io.Writer, ids []string, scope assetcache.Scope, noCache bool) error {
	reqs := make([]assetcache.Request, len(ids))
	for i, id := range ids {
		reqs[i] = assetcache.Request{Identifier: id, NoCache: noCache, Scope: scope}
	}

	var (
		failed int
		total  infounit.ByteCount
	)
	onItem := func(data []byte, index int) {
		if data == nil {
			failed++
			fmt.Fprintf(out, "%d\t-\t%s\n", index, ids[index])
			return
		}
		total += infounit.ByteCount(len(data))
		path, _ := a.cache.Locate(ids[index], "", scope)
		if noCache {
			path = ids[index]
		}
		fmt.Fprintf(out, "%d\t%d\t%s\n", index, len(data), path)
	}
	onDone := func() {
		a.log.Info().
			Int("items", len(ids)).
			Int("failed", failed).
			Str("total", fmt.Sprintf("%.1S", total)).
			Msg("Fetch finished.")
	}

	b := a.cache.FetchAll(ctx, reqs, onItem, onDone)
	b.Wait()

	if failed != 0 {
		return fmt.Errorf("%d of %d assets could not be fetched", failed, len(ids))
	}

	return nil
}

func (a *app) newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save KEY FILE",
		Short: "Store a local file under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := a.scope()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if !a.cache.Save(data, args[0], scope) {
				return fmt.Errorf("%s: failed to save", args[0])
			}
			path, _ := a.cache.Locate("", args[0], scope)
			fmt.Fprintln(cmd.OutOrStdout(), path)

			return nil
		},
	}
}

func (a *app) newDeleteCmd() *cobra.Command {
	var byKey bool

	cmd := &cobra.Command{
		Use:   "delete URL...",
		Short: "Remove cached assets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := a.scope()
			if err != nil {
				return err
			}
			switch {
			case byKey:
				for _, key := range args {
					if !a.cache.Delete("", key, scope) {
						a.log.Warn().Str("key", key).Msg("Not deleted.")
					}
				}
			case len(args) == 1:
				if !a.cache.Delete(args[0], "", scope) {
					return fmt.Errorf("%s: not cached", args[0])
				}
			default:
				// Close waits for it.
				a.cache.DeleteMany(args, scope)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&byKey, "key", false, "arguments are explicit keys instead of URLs")

	return cmd
}

func (a *app) newLocateCmd() *cobra.Command {
	var byKey bool

	cmd := &cobra.Command{
		Use:   "locate URL",
		Short: "Print the local path of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := a.scope()
			if err != nil {
				return err
			}
			id, key := args[0], ""
			if byKey {
				id, key = "", args[0]
			}
			path, ok := a.cache.Locate(id, key, scope)
			if !ok {
				return fmt.Errorf("%w: %q", assetcache.ErrInvalidKey, args[0])
			}
			if !a.cache.Exists(id, key, scope) {
				return fmt.Errorf("%s: %w", path, assetcache.ErrNotFound)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)

			return nil
		},
	}

	cmd.Flags().BoolVar(&byKey, "key", false, "argument is an explicit key instead of a URL")

	return cmd
}

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached assets, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := a.scope()
			if err != nil {
				return err
			}
			list, err := a.cache.List(scope)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range list {
				fmt.Fprintf(out, "%s\t%.1S\t%s\n", e.ModTime().Format(time.DateTime), e.ByteCount(), e.Name())
			}

			return nil
		},
	}
}

func (a *app) newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve assets over HTTP through the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listenAddr == "" {
				listenAddr = a.conf.Listen
			}
			return a.runServe(cmd.Context(), listenAddr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "[host]:port to listen on (default from config)")

	return cmd
}

func (a *app) runServe(ctx context.Context, listenAddr string) error {
	sv := &server{cache: a.cache, log: a.log}
	go sv.serve(ctx)

	httpd := &http.Server{
		Addr:              listenAddr,
		Handler:           sv,
		ReadHeaderTimeout: time.Second * 10,
		WriteTimeout:      time.Minute,
		MaxHeaderBytes:    4096,
	}
	go func() {
		<-ctx.Done()
		sdctx, sdcancel := context.WithTimeout(context.Background(), time.Second*5)
		defer sdcancel()
		if err := httpd.Shutdown(sdctx); err != nil { //nolint:contextcheck
			a.log.Error().Err(err).Msg("httpd: shutdown")
		}
	}()

	a.log.Info().Str("addr", listenAddr).Msg("Listening.")
	if err := httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpd: %w", err)
	}

	return nil
}
