package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plotforge/plotforge/internal/sandbox"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Build the sandbox image",
	Long:  "Build (or rebuild) the container image recipes execute in. 'plotforge build' does this automatically unless --skip-image-build is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImage()
	},
}

func registerImageCommand(root *cobra.Command) {
	root.AddCommand(imageCmd)
}

func runImage() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docker, err := sandbox.NewDocker(sandbox.DockerOptions{Image: cfg.SandboxImage})
	if err != nil {
		return err
	}

	fmt.Printf("□ Building sandbox image %s...\n", cfg.SandboxImage)
	if err := docker.EnsureImage(ctx); err != nil {
		return err
	}
	fmt.Printf("✓ Image ready: %s\n", cfg.SandboxImage)
	return nil
}
