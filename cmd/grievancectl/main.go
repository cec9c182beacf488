// Command grievancectl runs the relevance worker outside the API server and
// offers maintenance helpers for ward data, evidence hashes and groups.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/civicplus/grievance-engine/internal/config"
	"github.com/civicplus/grievance-engine/internal/database"
	"github.com/civicplus/grievance-engine/internal/fingerprint"
	"github.com/civicplus/grievance-engine/internal/geo"
	"github.com/civicplus/grievance-engine/internal/middleware"
	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/queue"
	"github.com/civicplus/grievance-engine/internal/scoring"
	"github.com/civicplus/grievance-engine/internal/services"
	"github.com/civicplus/grievance-engine/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	verbose bool
	cfg     *config.Config
	sugar   *zap.SugaredLogger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "grievancectl",
	Short:   "Grievance engine worker and maintenance tool",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := zap.NewProduction()
		if verbose {
			logger, err = zap.NewDevelopment()
		}
		if err != nil {
			return err
		}
		sugar = logger.Sugar()

		// hash needs no configuration
		if cmd.Name() == "hash" || cmd.Name() == "version" {
			return nil
		}

		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sugar != nil {
			_ = sugar.Sync()
		}
	},
}

var (
	workerConcurrency int
	withReconciler    bool
	reconcileSince    time.Duration
	tokenWard         int
	tokenVerified     bool
	tokenRole         string
	tokenTTL          time.Duration
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable development logging")

	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 4, "Jobs processed in parallel")
	workerCmd.Flags().BoolVar(&withReconciler, "reconcile", true, "Also run the periodic group reconciler")
	reconcileCmd.Flags().DurationVar(&reconcileSince, "since", 24*time.Hour, "Refresh groups updated within this window")
	tokenCmd.Flags().IntVar(&tokenWard, "ward", 0, "Home ward of the user")
	tokenCmd.Flags().BoolVar(&tokenVerified, "verified", false, "Mark the user as verified")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "citizen", "Role claim (citizen, officer, admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	zoneCmd.AddCommand(zoneResolveCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(zoneCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(tokenCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("grievancectl", version)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the relevance queue until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required to run a standalone worker")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close(context.Background())

		jobs, err := queue.NewRedis(ctx, cfg.RedisURL, queue.DefaultName)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer jobs.Close()

		overrides, err := config.LoadScoring(cfg.ScoringConfigPath)
		if err != nil {
			return err
		}
		calc := scoring.NewCalculator(overrides.SeverityTable(scoring.DefaultSeverityTable))
		classifier := scoring.NewKeywordClassifier(overrides.RelevanceKeywords)

		if withReconciler {
			rec := services.NewGroupReconciler(st, services.NewGroupAggregator(st, calc, sugar), sugar)
			go rec.Start(ctx, cfg.ReconcileInterval)
		}

		worker := services.NewRelevanceWorker(st, jobs, classifier, calc, cfg.WorkerAttempts, cfg.WorkerBackoff, sugar)
		worker.Start(ctx, workerConcurrency)
		return nil
	},
}

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Ward boundary helpers",
}

var zoneResolveCmd = &cobra.Command{
	Use:   "resolve <lat> <lng>",
	Short: "Print the ward containing a point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude: %w", err)
		}
		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude: %w", err)
		}
		p := geo.Point{Lat: lat, Lng: lng}
		if !p.Valid() {
			return fmt.Errorf("point %v,%v is out of range", lat, lng)
		}

		idx, err := geo.LoadZoneIndex(cfg.WardGeoJSONPath)
		if err != nil {
			return err
		}
		resolver := geo.NewResolver(idx, sugar)

		id, name, ok := resolver.ResolveZone(p)
		if !ok {
			fmt.Printf("No ward contains %.6f,%.6f (%d wards loaded)\n", lat, lng, resolver.Zones())
			return nil
		}
		fmt.Printf("Ward %d", id)
		if name != "" {
			fmt.Printf(" (%s)", name)
		}
		fmt.Println()
		return nil
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print the evidence fingerprint and capture time of files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			h, err := fingerprint.HashFile(path)
			if err != nil {
				return err
			}
			captured := "-"
			if t, ok := fingerprint.ExtractCaptureTime(path); ok {
				captured = t.Format(time.RFC3339)
			}
			fmt.Printf("%s  %s  %s\n", h, captured, path)
		}
		return nil
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute <group-id>",
	Short: "Re-derive the supporter count and priorities of one group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close(ctx)

		groups, err := newGroups(st)
		if err != nil {
			return err
		}
		summary, err := groups.RecomputeGroupPriority(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Group %s: %d supporters, %d documents, leader priority %d, %d updated\n",
			summary.GroupID, summary.SupporterCount, summary.Members, summary.LeaderPriority, summary.Updated)
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one group reconcile pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close(ctx)

		groups, err := newGroups(st)
		if err != nil {
			return err
		}
		n := services.NewGroupReconciler(st, groups, sugar).Reconcile(ctx, time.Now().UTC().Add(-reconcileSince))
		fmt.Printf("Reconciled %d groups\n", n)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a signed API token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.IsProduction() {
			return errors.New("refusing to mint tokens in production")
		}
		token, err := middleware.SignToken(cfg.JWTSecret, models.Identity{
			ID:       args[0],
			Verified: tokenVerified,
			HomeZone: tokenWard,
			Role:     tokenRole,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver:        cfg.StoreDriver,
		DatabaseURL:   cfg.DatabaseURL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		Pool: database.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ApplicationName: "grievancectl",
		},
	}, sugar)
}

func newGroups(st store.Store) (*services.GroupAggregator, error) {
	overrides, err := config.LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		return nil, err
	}
	calc := scoring.NewCalculator(overrides.SeverityTable(scoring.DefaultSeverityTable))
	return services.NewGroupAggregator(st, calc, sugar), nil
}
