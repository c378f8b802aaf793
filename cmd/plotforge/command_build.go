package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plotforge/plotforge/internal/cache"
	"github.com/plotforge/plotforge/internal/fetch"
	"github.com/plotforge/plotforge/internal/graph"
	"github.com/plotforge/plotforge/internal/loader"
	"github.com/plotforge/plotforge/internal/model"
	"github.com/plotforge/plotforge/internal/report"
	"github.com/plotforge/plotforge/internal/sandbox"
	"github.com/plotforge/plotforge/internal/scheduler"
)

var (
	buildReportFile string
	buildJobs       int
	buildSkipImage  bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every recipe in dependency order",
	Long:  "Load the recipe set, validate the dependency graph, and execute every node whose output is not already cached.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild()
	},
}

func registerBuildCommand(root *cobra.Command) {
	root.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildReportFile, "report", "o", "", "Write the build report to a file (json or yaml by extension)")
	buildCmd.Flags().IntVarP(&buildJobs, "jobs", "j", 0, "Max parallel executions (0 = one per CPU, overrides config)")
	buildCmd.Flags().BoolVar(&buildSkipImage, "skip-image-build", false, "Assume the sandbox image already exists")
}

func runBuild() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := loadGraph(ctx)
	if err != nil {
		return err
	}
	if g.Len() == 0 {
		fmt.Println("✓ Nothing to build")
		return nil
	}

	fmt.Println("□ Opening cache...")
	store, err := cache.NewStore(cfg.CacheDir())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StagingDir(), 0o755); err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}

	docker, err := sandbox.NewDocker(sandbox.DockerOptions{
		Image:          cfg.SandboxImage,
		StagingDir:     cfg.StagingDir(),
		DefaultMemory:  cfg.DefaultMemory,
		DefaultCPUs:    cfg.DefaultCPUs,
		DefaultTimeout: cfg.DefaultTimeout,
	})
	if err != nil {
		return err
	}
	if !buildSkipImage {
		fmt.Printf("□ Ensuring sandbox image %s...\n", cfg.SandboxImage)
		if err := docker.EnsureImage(ctx); err != nil {
			return fmt.Errorf("building sandbox image: %w", err)
		}
	}

	router := sandbox.NewRouter(map[model.Kind]sandbox.Gateway{
		model.KindRecipe: docker,
		model.KindFetch:  fetch.NewHTTP(cfg.StagingDir(), cfg.FetchTimeout),
	})

	jobs := cfg.Concurrency
	if buildJobs > 0 {
		jobs = buildJobs
	}
	fmt.Printf("□ Executing %d nodes...\n", g.Len())
	started := time.Now()
	results, runErr := scheduler.New(g, store, router, scheduler.Options{Concurrency: jobs}).Run(ctx)
	rep := report.Build(g, results, started, time.Now())

	renderer := report.NewRenderer()
	fmt.Println("\n" + renderer.Summary(rep))
	if buildReportFile != "" {
		if err := renderer.WriteReport(rep, buildReportFile); err != nil {
			return err
		}
		fmt.Printf("✓ Report saved to: %s\n", buildReportFile)
	}

	if runErr != nil {
		return fmt.Errorf("build aborted: %w", runErr)
	}
	if !rep.Success {
		return fmt.Errorf("build finished with %d failed, %d skipped", rep.Failed, rep.Skipped)
	}
	fmt.Println("✓ Build complete")
	return nil
}

// loadGraph loads the recipe set and assembles the validated graph; shared
// by build, validate, and graph.
func loadGraph(ctx context.Context) (*graph.Graph, error) {
	fmt.Printf("□ Loading recipes from %s...\n", cfg.RecipesDir)
	descriptors, warnings, err := loader.New(cfg.RecipesDir).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading recipes: %w", err)
	}
	printWarnings(warnings)

	fmt.Println("□ Building dependency graph...")
	g, err := graph.Build(descriptors)
	if err != nil {
		return nil, fmt.Errorf("invalid recipe set: %w", err)
	}
	return g, nil
}
