package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"backend-shaperun/internal/auth"
	"backend-shaperun/internal/config"
	"backend-shaperun/internal/db"
	"backend-shaperun/internal/roadgraph"
	"backend-shaperun/internal/shape"
	"backend-shaperun/internal/shared/geo"

	"github.com/spf13/cobra"
)

// connectDB is swapped in tests.
var connectDB = func(cfg config.Config) (db.Querier, func(), error) {
	pool, err := db.ConnectPostgres(cfg)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func main() {
	if err := buildCLI(config.Load, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCLI(loadConfig func() config.Config, out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "routectl",
		Short:         "Operational tooling for the shape-route service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(buildMigrateCommand(loadConfig))
	rootCmd.AddCommand(buildSeedCommand(loadConfig))
	rootCmd.AddCommand(buildTokenCommand(loadConfig))
	rootCmd.AddCommand(buildExportGridCommand())

	return rootCmd
}

func buildMigrateCommand(loadConfig func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := connectDB(loadConfig())
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer closeFn()
			if err := db.Migrate(cmd.Context(), q); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func buildSeedCommand(loadConfig func() config.Config) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-shapes",
		Short: "Upsert shape templates from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if file == "" {
				file = cfg.ShapesFile
			}
			q, closeFn, err := connectDB(cfg)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer closeFn()
			n, err := shape.NewService(q).SeedFile(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d shapes from %s\n", n, file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file of shape templates (defaults to SHAPES_FILE)")
	return cmd
}

func buildTokenCommand(loadConfig func() config.Config) *cobra.Command {
	var user string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			token, err := auth.NewSigner(loadConfig().JWTSecret).SignToken(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User ID to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func buildExportGridCommand() *cobra.Command {
	var (
		lat, lng, spacing float64
		rows, cols        int
		out               string
	)

	cmd := &cobra.Command{
		Use:   "export-grid",
		Short: "Write a synthetic street grid as a road graph snapshot",
		Long:  "Builds a rows x cols street grid around a centre point and stores it in a sqlite snapshot usable as ROAD_GRAPH_PATH.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rows < 2 || cols < 2 {
				return fmt.Errorf("grid needs at least 2 rows and 2 cols")
			}
			if spacing <= 0 {
				return fmt.Errorf("spacing must be positive")
			}
			g := roadgraph.NewGridGraph(geo.LatLng{Lat: lat, Lng: lng}, rows, cols, spacing)
			if err := roadgraph.WriteSnapshot(cmd.Context(), out, g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d nodes to %s\n", g.NodeCount(), out)
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 37.5665, "Grid centre latitude")
	cmd.Flags().Float64Var(&lng, "lng", 126.9780, "Grid centre longitude")
	cmd.Flags().IntVar(&rows, "rows", 40, "Number of east-west streets")
	cmd.Flags().IntVar(&cols, "cols", 40, "Number of north-south streets")
	cmd.Flags().Float64Var(&spacing, "spacing", 100, "Block length in metres")
	cmd.Flags().StringVarP(&out, "out", "o", "roadgraph.db", "Snapshot file to write")
	return cmd
}
