package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexandrut83/sentinel/authority"
	"github.com/alexandrut83/sentinel/hotlist"
	"github.com/alexandrut83/sentinel/sentinel"
)

func newServeCommand(opts *options) *cobra.Command {
	var guard bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sentinel daemon and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}

			d, err := newDaemon(cfg, nil, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting sentinel",
				zap.String("network", sentinel.NetworkName),
				zap.String("version", sentinel.Version),
				zap.String("scan_source", cfg.Scan.Source),
				zap.String("authority", cfg.Verification.AuthorityURL))
			return d.Run(ctx, guard)
		},
	}

	cmd.Flags().BoolVar(&guard, "guard", false, "Start guarding immediately")
	return cmd
}

func newCheckCommand(opts *options) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "check <id>...",
		Short: "Test identifiers against a hot list through the membership index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.HotList.Path
			}

			list, err := hotlist.Load(path)
			if err != nil {
				return err
			}
			index, err := cfg.NewIndex()
			if err != nil {
				return err
			}
			index.BulkLoad(list.IDs)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hot list: %d entries, index %d bits x %d rounds, estimated false positive rate %.4f\n",
				len(list.IDs), index.BitCount(), index.HashRounds(), index.EstimatedFalsePositiveRate())

			for _, id := range args {
				switch {
				case !index.MayContain(id):
					fmt.Fprintf(out, "%s\tmiss\n", id)
				case list.Contains(id):
					fmt.Fprintf(out, "%s\thit\n", id)
				default:
					fmt.Fprintf(out, "%s\thit (false positive)\n", id)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "hotlist", "", "Hot list file (defaults to hotlist.path)")
	return cmd
}

func newAuthorityCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "authority",
		Short: "Run the reference verification authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newAuthorityLogger(cfg.Log)
			if err != nil {
				return err
			}
			entry := logger.WithField("network", sentinel.NetworkName)

			srv := authority.NewServer(authority.ServerConfig{
				RefillRate: cfg.Authority.RefillRate,
				Interval:   cfg.Authority.Interval,
				Capacity:   cfg.Authority.Capacity,
			}, entry)

			reload := func() {
				list, err := hotlist.Load(cfg.Authority.HotListPath)
				if err != nil {
					entry.WithError(err).Warn("failed to load authoritative hot list")
					return
				}
				srv.BulkLoad(list.IDs)
			}
			reload()

			httpSrv := &http.Server{
				Addr:              cfg.Authority.Listen,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				entry.WithField("addr", cfg.Authority.Listen).Info("authority listening")
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigChan)

			for {
				select {
				case err := <-errCh:
					return err
				case sig := <-sigChan:
					if sig == syscall.SIGHUP {
						reload()
						continue
					}
					entry.Info("shutting down")
					ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					return httpSrv.Shutdown(ctx)
				}
			}
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sentineld",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sentineld %s\n", sentinel.Version)
			fmt.Fprintf(out, "  Network:   %s\n", sentinel.NetworkName)
			fmt.Fprintf(out, "  Go:        %s\n", runtime.Version())
			fmt.Fprintf(out, "  Arch:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
