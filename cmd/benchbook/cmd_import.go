/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/friendsincode/benchbook/internal/db"
	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/inventory"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import <inventory.yaml>",
	Short: "Provision labs, members and equipment from an inventory file",
	Long: `Import reads a YAML inventory of labs and creates whatever is missing.
Existing labs keep their members and units; equipment counts are topped up, never reduced.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the file without writing anything")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read inventory: %w", err)
	}
	manifest, err := inventory.ParseManifest(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if importDryRun {
		for _, lab := range manifest.Labs {
			fmt.Fprintf(out, "%s: admin %s, %d members, %d equipment types\n", lab.Name, lab.Admin, len(lab.Members), len(lab.Equipment))
		}
		return nil
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	svc := inventory.NewService(openStore(database), events.Discard{}, logger)
	results, err := svc.Import(cmd.Context(), manifest)
	for _, res := range results {
		status := "updated"
		if res.Created {
			status = "created"
		}
		fmt.Fprintf(out, "%s (%s) %s, %d members added\n", res.Name, res.LabID, status, res.MembersAdded)

		types := make([]string, 0, len(res.UnitsAdded))
		for typ := range res.UnitsAdded {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			fmt.Fprintf(out, "  + %d %s\n", res.UnitsAdded[typ], typ)
		}
	}
	return err
}
