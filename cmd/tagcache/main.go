package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/server"
	"github.com/hrygo/tagcache/server/stats"
	"github.com/hrygo/tagcache/store"
)

// version is set at build time.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "tagcache",
	Short:         `Content-addressed tag cache with batch LLM tagging.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		setupLogger(viper.GetString("log-level"), viper.GetString("log-format"))
		return nil
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", profile.DriverJSON)
	viper.SetDefault("port", 8081)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "text")

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	flags.String("data", "", "data directory")
	flags.String("driver", profile.DriverJSON, `persistence driver, "json", "sqlite" or "postgres"`)
	flags.String("dsn", "", "cache document path (json) or database file (sqlite)")
	flags.String("workspace-root", "", "directory that references must stay inside (default: working directory)")
	flags.Int("approx-threshold", store.DefaultApproxThreshold, "maximum Hamming distance for near-duplicate reuse")
	flags.Int("max-records", 0, "maximum number of cached records, 0 for unbounded")
	flags.Int("max-concurrency", 5, "maximum in-flight oracle requests")
	flags.String("describer", profile.DescriberVision, `image describer, "vision", "ocr" or "none"`)
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", `log format, "text" or "json"`)
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("tagcache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(tagCmd(), showCmd(), listCmd(), statsCmd(), serveCmd())
}

// loadProfile builds the profile from .env, TAGCACHE_* variables and flags.
func loadProfile() (*profile.Profile, error) {
	if err := profile.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	p := &profile.Profile{Version: version}
	p.FromEnv()

	p.Mode = viper.GetString("mode")
	p.Data = viper.GetString("data")
	p.Driver = viper.GetString("driver")
	p.DSN = viper.GetString("dsn")
	p.Addr = viper.GetString("addr")
	p.Port = viper.GetInt("port")
	p.DescriberProvider = viper.GetString("describer")
	if v := viper.GetString("workspace-root"); v != "" {
		p.WorkspaceRoot = v
	}
	if viper.IsSet("approx-threshold") {
		p.ApproxThreshold = viper.GetInt("approx-threshold")
	}
	if viper.IsSet("max-records") {
		p.MaxRecords = viper.GetInt("max-records")
	}
	if viper.IsSet("max-concurrency") {
		p.MaxConcurrency = viper.GetInt("max-concurrency")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func tagCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tag [refs...]",
		Short: "Tag files, reusing cached tags where possible",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, p)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.runner.TagBatch(ctx, args)
			if asJSON {
				if encErr := writeJSON(cmd, results); encErr != nil {
					return encErr
				}
			} else {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, r := range results {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.Ref, r.Source, strings.Join(r.Tags, ", "))
				}
				_ = w.Flush()
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [content-id]",
		Short: "Show a cached record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), p)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := store.ValidateContentID(args[0]); err != nil {
				return err
			}
			rec, ok := st.GetByID(args[0])
			if !ok {
				return fmt.Errorf("record %s not found", args[0])
			}
			return writeJSON(cmd, rec)
		},
	}
}

func listCmd() *cobra.Command {
	var (
		filter   string
		tag      string
		resolved bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), p)
			if err != nil {
				return err
			}
			defer st.Close()

			find := &store.FindTagRecord{Filter: filter, ResolvedOnly: resolved, Limit: limit}
			if tag != "" {
				find.Tag = &tag
			}
			records, err := st.ListRecords(cmd.Context(), find)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.ContentID[:12], r.Timestamp.Format("2006-01-02 15:04:05"), strings.Join(r.Tags, ", "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", `CEL filter, e.g. '"技术" in tags'`)
	cmd.Flags().StringVar(&tag, "tag", "", "only records with this tag")
	cmd.Flags().BoolVar(&resolved, "resolved", false, "only records with tags")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records, 0 for all")
	return cmd
}

func statsCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), p)
			if err != nil {
				return err
			}
			defer st.Close()

			summary, err := stats.Compute(cmd.Context(), st, top)
			if err != nil {
				return err
			}
			return writeJSON(cmd, summary)
		},
	}
	cmd.Flags().IntVar(&top, "top", stats.DefaultTopTags, "number of most frequent tags to report")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			// Every HTTP client can name files, so the server never runs unconfined.
			if p.WorkspaceRoot == "" {
				return terrors.NewConfigurationError("serve requires a workspace root")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, p)
			if err != nil {
				return err
			}
			s := server.NewServer(p, a.store, a.runner)
			if err := s.Start(ctx); err != nil {
				_ = a.store.Close()
				return err
			}
			printGreetings(cmd, p)

			<-ctx.Done()
			// Shutdown flushes and closes the store.
			s.Shutdown(context.Background())
			return nil
		},
	}
	cmd.Flags().String("addr", "", "address of server")
	cmd.Flags().Int("port", 8081, "port of server")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printGreetings(cmd *cobra.Command, p *profile.Profile) {
	fmt.Fprintf(cmd.OutOrStdout(), "tagcache %s started\n", p.Version)
	fmt.Fprintf(cmd.OutOrStdout(), "Data directory: %s (%s driver)\n", p.Data, p.Driver)
	fmt.Fprintf(cmd.OutOrStdout(), "Workspace: %s\n", p.WorkspaceRoot)
	if p.Addr == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Server running on port %d\n", p.Port)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Server running on %s:%d\n", p.Addr, p.Port)
	}
}

func setupLogger(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("tagcache failed", "code", terrors.GetCodeFromError(err, ""), "error", err)
		os.Exit(1)
	}
}
