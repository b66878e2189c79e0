package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-fields/internal/config"
	"github.com/joeblew999/plat-fields/internal/logger"
	"github.com/joeblew999/plat-fields/internal/server"
	"github.com/joeblew999/plat-fields/internal/service"
)

// Options defines all CLI flags and env vars for the fields server.
// Flags: --host, --port, --data-dir, --store, --log-level, --log-format, --policy, --queue-size
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_STORE, ...
type Options struct {
	Host      string `doc:"Host to bind to" default:"0.0.0.0"`
	Port      int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir   string `doc:"Directory for the snapshot or database file, empty for in-memory only" default:".data"`
	Store     string `doc:"Store backend: memory or duckdb" default:"memory"`
	LogLevel  string `doc:"Log level: debug, info, warn, error" default:"info"`
	LogFormat string `doc:"Log format: json or text" default:"json"`
	Policy    string `doc:"YAML file overriding the adjacency and overlap policy"`
	QueueSize int    `doc:"Notification queue size" default:"256"`
}

func newServer(ctx context.Context, opts *Options) (*server.Server, error) {
	log := logger.New(logger.Config{Level: opts.LogLevel, Format: opts.LogFormat})
	policy, err := config.LoadPolicy(opts.Policy)
	if err != nil {
		return nil, err
	}
	return server.New(ctx, server.Config{
		Host:      opts.Host,
		Port:      fmt.Sprintf("%d", opts.Port),
		DataDir:   opts.DataDir,
		Store:     opts.Store,
		Policy:    policy,
		QueueSize: opts.QueueSize,
		Log:       log,
	})
}

func mustServer(ctx context.Context, opts *Options) *server.Server {
	srv, err := newServer(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return srv
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var httpServer *http.Server
		var srv *server.Server

		hooks.OnStart(func() {
			srv = mustServer(context.Background(), opts)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-fields API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Store:   %s (%s)\n", opts.Store, opts.DataDir)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			if httpServer != nil {
				httpServer.Shutdown(context.Background())
			}
			if srv != nil {
				srv.Close()
			}
		})
	})

	cli.Root().Use = "fields"
	cli.Root().Short = "Field boundaries, adjacency and tiered visibility"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.Store = server.StoreMemory
			opts.DataDir = ""
			srv := mustServer(cmd.Context(), opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// recompute subcommand: rebuild adjacency edges
	recomputeCmd := &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild adjacency edges for one field (--field) or all fields",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := mustServer(cmd.Context(), opts)
			defer srv.Close()
			proximity := srv.Services().Proximity

			fieldID, _ := cmd.Flags().GetString("field")
			if fieldID != "" {
				if err := proximity.RecomputeAdjacency(cmd.Context(), fieldID); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("Recomputed adjacency for %s\n", fieldID)
				return
			}
			n, err := proximity.RecomputeAll(cmd.Context())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error after %d fields: %v\n", n, err)
				os.Exit(1)
			}
			fmt.Printf("Recomputed adjacency for %d fields\n", n)
		}),
	}
	recomputeCmd.Flags().String("field", "", "Field ID (default: all fields)")
	cli.Root().AddCommand(recomputeCmd)

	// grant subcommand: system auto-grant, never exposed over HTTP
	grantCmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a user automatic visibility of a field",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			viewer, _ := cmd.Flags().GetString("viewer")
			fieldID, _ := cmd.Flags().GetString("field")
			source, _ := cmd.Flags().GetString("source")
			if viewer == "" || fieldID == "" {
				fmt.Fprintln(os.Stderr, "Error: --viewer and --field are required")
				os.Exit(1)
			}

			srv := mustServer(cmd.Context(), opts)
			defer srv.Close()
			p, err := srv.Services().Permissions.AutoGrant(cmd.Context(), viewer, fieldID, service.GrantSource(source))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Permission %s: %s can see %s (%s)\n", p.ID, viewer, fieldID, p.Status)
		}),
	}
	grantCmd.Flags().String("viewer", "", "User ID receiving visibility")
	grantCmd.Flags().String("field", "", "Field ID to expose")
	grantCmd.Flags().String("source", string(service.GrantSystem), "Grant source: system or auto_on_signup")
	cli.Root().AddCommand(grantCmd)

	cli.Run()
}
