package main

import (
	"fmt"
	"io"
	"path"
	"text/tabwriter"

	"github.com/polisai/taskgate/pkg/config"
	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/pathtmpl"
	"github.com/spf13/cobra"
)

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the resource routes the gateway serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("failed to get config flag: %w", err)
			}
			prefix, err := cmd.Flags().GetString("prefix")
			if err != nil {
				return fmt.Errorf("failed to get prefix flag: %w", err)
			}
			routes, err := config.LoadRoutes(configPath)
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), prefix, routes)
		},
	}
	cmd.Flags().String("prefix", "/api", "Path prefix the routes are mounted under")
	return cmd
}

// printRoutes writes one line per method and route in table order.
func printRoutes(w io.Writer, prefix string, routes []domain.ResourceRoute) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tLABEL")
	for _, r := range routes {
		tmpl, err := pathtmpl.Canonical(r.Template)
		if err != nil {
			return err
		}
		for _, m := range r.AllowedMethods() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m, path.Join("/", prefix, tmpl), r.Label)
		}
	}
	return tw.Flush()
}
