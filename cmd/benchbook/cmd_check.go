/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/benchbook/internal/db"
	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/integrity"
)

var (
	checkJSON   bool
	checkRepair bool
)

var checkCmd = &cobra.Command{
	Use:   "check [lab-id]",
	Short: "Scan reservations for overlaps and dangling references",
	Long:  "Check runs the integrity scan for one lab, or for every lab when no id is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the report as JSON")
	checkCmd.Flags().BoolVar(&checkRepair, "repair", false, "Repair every repairable finding")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	labID := ""
	if len(args) == 1 {
		labID = args[0]
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	svc := integrity.NewService(database, events.Discard{}, logger)
	report, err := svc.Scan(cmd.Context(), labID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%d findings\n", report.Total)
		for _, f := range report.Findings {
			fmt.Fprintf(out, "  [%s] %s %s: %s\n", f.Severity, f.Type, f.ResourceID, f.Summary)
		}
	}

	if !checkRepair {
		return nil
	}
	repaired := 0
	for _, f := range report.Findings {
		if !f.Repairable {
			continue
		}
		res, err := svc.Repair(cmd.Context(), integrity.RepairInput{
			Type:       f.Type,
			LabID:      f.LabID,
			ResourceID: f.ResourceID,
			UserID:     "cli",
		})
		if err != nil {
			return fmt.Errorf("repair %s: %w", f.ID, err)
		}
		if res.Changed {
			repaired++
		}
	}
	fmt.Fprintf(out, "%d findings repaired\n", repaired)
	return nil
}
