package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trendstory",
		Short: "Generate illustrated stories for trending searches and publish them",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(generateCmd())
	root.AddCommand(fetchCmd())
	root.AddCommand(sitemapCmd())
	root.AddCommand(serveCmd())

	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Full supervised run: lock, pipeline, git sync",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runSupervised())
		},
	}
}

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Run the generation pipeline without lock or sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate()
		},
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Ingest one trending batch and print the count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch()
		},
	}
}

func sitemapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sitemap",
		Short: "Rebuild the sitemap from stored narrative dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSitemap()
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only API over stored stories and images",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}
