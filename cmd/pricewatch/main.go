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
		Use:   "pricewatch",
		Short: "Track e-commerce product prices and alert on target drops",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(trackCmd())
	root.AddCommand(productsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func trackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track",
		Short: "Run one tracking cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack()
		},
	}
}

func productsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List tracked products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProducts()
		},
	}
}

func historyCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history <product-id>",
		Short: "Show a product's recent price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the registration API server without the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with tracking scheduler and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
