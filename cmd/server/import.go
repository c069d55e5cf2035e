package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/pkg/client"

	"github.com/spf13/cobra"
)

type importOptions struct {
	apiURL       string
	template     string
	saveTemplate string
	onDuplicate  string
	dryRun       bool
	pollInterval time.Duration
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a CSV or XLSX file through a running API using the suggested or template mapping",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !domain.DuplicateAction(opts.onDuplicate).Valid() {
				return fmt.Errorf("invalid --on-duplicate %q: must be one of skip, update, create", opts.onDuplicate)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.apiURL, client.WithPollInterval(opts.pollInterval))
			return runImport(cmd.Context(), c, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.apiURL, "api", "http://localhost:8000/api/v1", "Base URL of the lead import API")
	cmd.Flags().StringVar(&opts.template, "template", "", "Seed the mapping from a saved template")
	cmd.Flags().StringVar(&opts.saveTemplate, "save-template", "", "Save the accepted mapping under this name")
	cmd.Flags().StringVar(&opts.onDuplicate, "on-duplicate", string(domain.DuplicateActionSkip), "Action for every reported duplicate: skip, update, create")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Stop after the preview and duplicate report")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", client.DefaultPollInterval, "Status polling interval while executing")

	return cmd
}

func runImport(ctx context.Context, c *client.Client, path string, opts importOptions, out io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	analysis, err := c.Upload(ctx, filepath.Base(path), file, opts.template)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	fmt.Fprintf(out, "session %d: %d columns detected\n", analysis.SessionID, len(analysis.DetectedColumns))
	merged := make(map[string]string)
	for _, rule := range analysis.SuggestedMergeRules {
		for _, column := range rule.SourceColumns {
			merged[column] = rule.TargetField
		}
	}
	for _, column := range analysis.DetectedColumns {
		target := analysis.SuggestedMappings[column]
		switch {
		case target != "":
		case merged[column] != "":
			target = "merge into " + merged[column]
		default:
			target = "(ignored)"
		}
		fmt.Fprintf(out, "  %-24s -> %s\n", column, target)
	}

	submission := analysis.SuggestedSubmission()
	if name := strings.TrimSpace(opts.saveTemplate); name != "" {
		submission.SaveAsTemplate = true
		submission.TemplateName = &name
	}
	if err := c.SubmitMapping(ctx, analysis.SessionID, submission); err != nil {
		return fmt.Errorf("submit mapping: %w", err)
	}

	preview, err := c.Preview(ctx, analysis.SessionID)
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	fmt.Fprintf(out, "rows: %d total, %d valid, %d invalid\n", preview.TotalRows, preview.ValidRows, preview.InvalidCount)
	for _, validationErr := range preview.ValidationErrors {
		fmt.Fprintf(out, "  row %d %s: %s\n", validationErr.Row, validationErr.Field, validationErr.Error)
	}

	report, err := c.Duplicates(ctx, analysis.SessionID)
	if err != nil {
		return fmt.Errorf("duplicates: %w", err)
	}
	fmt.Fprintf(out, "duplicates: %d existing, %d smart, %d in-file groups\n",
		len(report.ExistingDuplicates), len(report.SmartMatches), len(report.InFileDuplicates))
	if opts.dryRun {
		return nil
	}

	decisions := make(map[string]domain.DuplicateAction, report.TotalDuplicates)
	for _, key := range report.Keys() {
		decisions[key] = domain.DuplicateAction(opts.onDuplicate)
	}
	if err := c.Execute(ctx, analysis.SessionID, decisions); err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	session, err := c.WaitForSession(ctx, analysis.SessionID, func(s domain.ImportSession) {
		if s.Status == domain.SessionStatusExecuting {
			fmt.Fprintf(out, "  processed %d rows\n", s.ProcessedRows)
		}
	})
	if err != nil {
		return fmt.Errorf("wait for session: %w", err)
	}
	fmt.Fprintf(out, "%s: %d processed, %d created, %d updated, %d skipped, %d failed\n",
		session.Status, session.ProcessedRows, session.CreatedCount, session.UpdatedCount, session.SkippedCount, session.FailedCount)
	for _, failure := range session.Failures {
		fmt.Fprintf(out, "  row %d: %s\n", failure.Row, failure.Error)
	}
	if session.Status == domain.SessionStatusFailed {
		reason := "unknown error"
		if session.ErrorMessage != nil {
			reason = *session.ErrorMessage
		}
		return fmt.Errorf("import failed: %s", reason)
	}
	return nil
}
