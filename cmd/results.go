package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/multifit/internal/store"
	"github.com/spf13/cobra"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Manage stored fit records",
	Long:  `List, inspect and delete fit records stored under <data-dir>/fits/.`,
}

var listResultsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored fits",
	Long:  `Display all fit records with ID, timestamp, model kind, objective value, validity and size on disk.`,
	Args:  cobra.NoArgs,
	RunE:  runListResults,
}

var showResultCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one fit record",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowResult,
}

var deleteResultCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one fit record and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteResult,
}

var cleanResultsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old fit records",
	Long: `Delete old fit records based on retention policy.
You can keep only the N most recent records or delete records older than N days.`,
	Args: cobra.NoArgs,
	RunE: runCleanResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(listResultsCmd, showResultCmd, deleteResultCmd, cleanResultsCmd)

	cleanResultsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N records (0 = keep all)")
	cleanResultsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete records older than N days (0 = no age limit)")
	cleanResultsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openStore() (*store.FSStore, error) {
	s, err := store.NewFSStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return s, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func runListResults(cmd *cobra.Command, args []string) error {
	fitStore, err := openStore()
	if err != nil {
		return err
	}
	infos, err := fitStore.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No fits found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tKIND\tVALUE\tVALID\tITERATIONS\tSIZE")
	fmt.Fprintln(w, "--\t---------\t----\t-----\t-----\t----------\t----")
	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getDirSize(fitStore.Dir(info.ID)); err == nil {
			sizeStr = formatBytes(size)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.6g\t%t\t%d\t%s\n",
			shortID(info.ID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Kind,
			info.Value,
			info.Valid,
			info.Iterations,
			sizeStr,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal fits: %d\n", len(infos))
	return nil
}

func runShowResult(cmd *cobra.Command, args []string) error {
	fitStore, err := openStore()
	if err != nil {
		return err
	}
	rec, err := fitStore.LoadRecord(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printRecord(out, rec)
	fmt.Fprintf(out, "\nScene: %s\nTimestamp: %s\n", rec.ScenePath, rec.Timestamp.Format(time.RFC3339))

	trace, err := store.ReadTrace(fitStore.BaseDir(), rec.ID)
	if err != nil {
		slog.Debug("No trace for record", "id", rec.ID, "error", err)
		return nil
	}
	if len(trace) > 0 {
		first, last := trace[0], trace[len(trace)-1]
		fmt.Fprintf(out, "Trace: %d iterations, value %.6g -> %.6g\n", len(trace), first.Value, last.Value)
	}
	return nil
}

func runDeleteResult(cmd *cobra.Command, args []string) error {
	fitStore, err := openStore()
	if err != nil {
		return err
	}
	if err := fitStore.DeleteRecord(args[0]); err != nil {
		return err
	}
	slog.Info("Deleted fit", "id", args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runCleanResults(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	fitStore, err := openStore()
	if err != nil {
		return err
	}
	infos, err := fitStore.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	out := cmd.OutOrStdout()
	toDelete := selectRecordsForDeletion(infos, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No fits match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d fit(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (value %.6g, %s)\n",
			shortID(info.ID),
			info.Value,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := fitStore.DeleteRecord(info.ID); err != nil {
			slog.Error("Failed to delete fit", "id", info.ID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted fit", "id", info.ID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d fit(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRecordsForDeletion applies the retention policy: records older than
// olderThanDays, plus everything but the keepLast most recent.
func selectRecordsForDeletion(infos []store.RecordInfo, keepLast int, olderThanDays int) []store.RecordInfo {
	var toDelete []store.RecordInfo
	selected := make(map[string]bool)
	add := func(info store.RecordInfo) {
		if !selected[info.ID] {
			selected[info.ID] = true
			toDelete = append(toDelete, info)
		}
	}

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				add(info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := append([]store.RecordInfo(nil), infos...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
		for _, info := range sorted[:len(sorted)-keepLast] {
			add(info)
		}
	}

	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
