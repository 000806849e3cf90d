package main

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/forest6511/weblist/internal/cli"
	"github.com/forest6511/weblist/internal/config"
	"github.com/forest6511/weblist/internal/listing"
	"github.com/forest6511/weblist/pkg/audit"
	"github.com/forest6511/weblist/pkg/cache"
	"github.com/forest6511/weblist/pkg/cache/rediscache"
)

type filesFlags struct {
	role string
	ip   string
}

// files builds the listing service over the configured storage root.
// The returned cleanup releases the Redis client, if any.
func (a *app) files(f *filesFlags) (*listing.Service, listing.Actor, func(), error) {
	actor := listing.Actor{User: currentUser(), Role: listing.Role(f.role), IP: f.ip, Source: audit.SourceCLI}
	switch actor.Role {
	case listing.RoleAdmin, listing.RoleUser:
	default:
		return nil, actor, nil, fmt.Errorf("unknown role %q (want admin or user)", f.role)
	}

	root := a.cfg.Storage.Root
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, actor, nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	var backendOpts []listing.LocalOption
	if a.cfg.Storage.ShareBaseURL != "" {
		backendOpts = append(backendOpts, listing.WithShareBaseURL(a.cfg.Storage.ShareBaseURL))
	}
	if a.requireKey() == nil {
		iss, err := a.issuer(0)
		if err != nil {
			return nil, actor, nil, err
		}
		backendOpts = append(backendOpts, listing.WithShareSigner(func(p string) (string, error) {
			return iss.Issue("share:" + p)
		}))
	}
	local, err := listing.NewLocalBackend(root, backendOpts...)
	if err != nil {
		return nil, actor, nil, err
	}
	var backend listing.Backend = local
	if a.cfg.Storage.Retries > 0 {
		backend = listing.NewRetryBackend(local, listing.RetryConfig{
			MaxRetries: a.cfg.Storage.Retries,
			Delay:      a.cfg.Storage.RetryDelay,
			Logger:     a.logger,
		})
	}

	cleanup := func() {}
	opts := []listing.Option{
		listing.WithLogger(a.logger),
		listing.WithUploadPolicy(listing.UploadPolicy{
			MaxFileSize:  a.cfg.Storage.MaxFileSize,
			AllowedTypes: a.cfg.Storage.AllowedTypes,
		}),
	}
	section := a.cfg.Cache.FileList
	switch a.cfg.Cache.Backend {
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		rc, err := rediscache.New(rdb, rediscache.Config{
			Prefix:   a.cfg.Redis.Prefix + ":list",
			Capacity: section.Capacity,
			TTL:      section.TTL,
		})
		if err != nil {
			rdb.Close()
			return nil, actor, nil, err
		}
		opts = append(opts, listing.WithCache(listing.NewRedisCache(rc)))
		cleanup = func() { rdb.Close() }
	default:
		mc, err := cache.New[listing.Listing](section.Capacity, section.TTL)
		if err != nil {
			return nil, actor, nil, err
		}
		opts = append(opts, listing.WithCache(listing.NewMemoryCache(mc)))
	}

	if l, err := a.openAudit(); err != nil {
		a.logger.Warn().Err(err).Msg("audit log unavailable")
	} else if l != nil {
		opts = append(opts, listing.WithAuditor(l))
	}
	return listing.NewService(backend, opts...), actor, cleanup, nil
}

func resultErr(r listing.Result) error {
	if r.Ok() {
		return nil
	}
	return errors.New(r.String())
}

func newFilesCmd(a *app) *cobra.Command {
	f := &filesFlags{}
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Browse and manage files in the storage root",
		Long: `Lists, uploads, links, deletes and shares files below storage.root.
Operations are checked against the --role permissions and recorded in
the audit log.`,
	}
	cmd.PersistentFlags().StringVar(&f.role, "role", string(listing.RoleAdmin), "Acting role: admin or user")
	cmd.PersistentFlags().StringVar(&f.ip, "ip", "", "Client address to record in the audit log")

	cmd.AddCommand(
		&cobra.Command{
			Use:     "ls [PATH]",
			Aliases: []string{"list"},
			Short:   "List a folder",
			Args:    cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, actor, cleanup, err := a.files(f)
				if err != nil {
					return err
				}
				defer cleanup()

				p := "/"
				if len(args) > 0 {
					p = args[0]
				}
				l, res := svc.List(cmd.Context(), actor, p)
				if err := resultErr(res); err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				for _, e := range l.Folders {
					fmt.Fprintf(w, "%s/\t-\t%s\n", e.Name, formatTime(e.Modified))
				}
				for _, e := range l.Files {
					fmt.Fprintf(w, "%s\t%d\t%s\n", e.Name, e.Size, formatTime(e.Modified))
				}
				fmt.Fprintf(w, "%d item(s), %d byte(s)\n", l.TotalCount, l.TotalSize)
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "upload LOCAL_FILE [DIR]",
			Short: "Upload a local file into a folder",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, actor, cleanup, err := a.files(f)
				if err != nil {
					return err
				}
				defer cleanup()

				src, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer src.Close()
				info, err := src.Stat()
				if err != nil {
					return err
				}
				dir := "/"
				if len(args) > 1 {
					dir = args[1]
				}
				e, res := svc.Upload(cmd.Context(), actor, dir, filepath.Base(args[0]), info.Size(), src)
				if err := resultErr(res); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%d bytes)\n", e.Path, e.Size)
				return nil
			},
		},
		&cobra.Command{
			Use:   "link PATH",
			Short: "Print a download link for a file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, actor, cleanup, err := a.files(f)
				if err != nil {
					return err
				}
				defer cleanup()

				link, res := svc.DownloadLink(cmd.Context(), actor, args[0])
				if err := resultErr(res); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm PATH",
			Short: "Delete a file or folder",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, actor, cleanup, err := a.files(f)
				if err != nil {
					return err
				}
				defer cleanup()

				if err := resultErr(svc.Delete(cmd.Context(), actor, args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "mkdir PATH",
			Short: "Create a folder",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, actor, cleanup, err := a.files(f)
				if err != nil {
					return err
				}
				defer cleanup()

				p := path.Clean("/" + args[0])
				e, res := svc.CreateFolder(cmd.Context(), actor, path.Dir(p), path.Base(p))
				if err := resultErr(res); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", e.Path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "share PATH",
			Short: "Create a share link",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, actor, cleanup, err := a.files(f)
				if err != nil {
					return err
				}
				defer cleanup()

				link, res := svc.Share(cmd.Context(), actor, args[0])
				if err := resultErr(res); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link.URL)
				return nil
			},
		},
		newFilesFindCmd(a, f),
	)
	return cmd
}

func newFilesFindCmd(a *app, f *filesFlags) *cobra.Command {
	var (
		filter listing.Filter
		since  string
	)
	cmd := &cobra.Command{
		Use:   "find [PATH]",
		Short: "Search a folder by name, type, size and age",
		Long: `Lists the entries of one folder matching every given condition.

Examples:
  weblist files find /docs --name report
  weblist files find / --type file --min-size 1048576
  weblist files find /photos --since 7d`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch filter.Kind {
			case "", listing.KindFile, listing.KindFolder:
			default:
				return fmt.Errorf("unknown type %q (want file or folder)", filter.Kind)
			}
			if since != "" {
				d, err := cli.ParseDuration(since)
				if err != nil {
					return err
				}
				filter.ModifiedAfter = time.Now().Add(-d)
			}

			svc, actor, cleanup, err := a.files(f)
			if err != nil {
				return err
			}
			defer cleanup()

			p := "/"
			if len(args) > 0 {
				p = args[0]
			}
			entries, res := svc.Search(cmd.Context(), actor, p, filter)
			if err := resultErr(res); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, e := range entries {
				if e.Kind == listing.KindFolder {
					fmt.Fprintf(w, "%s/\t-\t%s\n", e.Path, formatTime(e.Modified))
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", e.Path, e.Size, formatTime(e.Modified))
			}
			fmt.Fprintf(w, "%d match(es)\n", len(entries))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.Keyword, "name", "", "Case-insensitive name substring")
	cmd.Flags().StringVar(&filter.Kind, "type", "", "Entry type: file or folder")
	cmd.Flags().Int64Var(&filter.MinSize, "min-size", 0, "Minimum size in bytes")
	cmd.Flags().Int64Var(&filter.MaxSize, "max-size", 0, "Maximum size in bytes")
	cmd.Flags().StringVar(&since, "since", "", "Only entries modified within this duration (e.g. 24h, 7d)")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
