package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/alvmarrod/web-surveyor/internal/config"
	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/alvmarrod/web-surveyor/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Export file names
const (
	liveWebsFile   = "live_webs.txt"
	deadWebsFile   = "dead_webs.txt"
	domainEdgeFile = "domain_edges.tsv"
)

// NewExportCmd creates the export command
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Split stored page records into live and dead site lists",
		Long: `Export reads every page record from the database and writes two files:
live_webs.txt lists the domain of each page that loaded, one per line, and
dead_webs.txt holds one JSON failure record per page that never loaded.
With --edges the domain discovery graph is written to domain_edges.tsv.

Examples:
  web-surveyor export --db surveyor.db --out results
  web-surveyor export --config config.yaml --edges`,
		Args: cobra.NoArgs,
		RunE: runExportCmd,
	}

	cmd.Flags().StringP("config", "c", "", "Path to a JSON or YAML config file")
	cmd.Flags().String("db", "", "Path to the sqlite database (overrides config)")
	cmd.Flags().StringP("out", "o", ".", "Directory to write the lists to")
	cmd.Flags().Bool("edges", false, "Also export the domain discovery graph")
	return cmd
}

func runExportCmd(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	dbPath, _ := cmd.Flags().GetString("db")
	outDir, _ := cmd.Flags().GetString("out")
	withEdges, _ := cmd.Flags().GetBool("edges")

	if dbPath == "" {
		cfg := config.Default()
		if path != "" {
			loaded, err := config.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded
		}
		dbPath = cfg.DBPath
	}

	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database %s: %w", dbPath, err)
	}

	store, err := storage.NewStorage(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := export(cmd, store, outDir, withEdges)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d live, %d dead, %d edges written to %s\n",
		summary.live, summary.dead, summary.edges, outDir)
	return nil
}

type exportSummary struct {
	live, dead, edges int
}

func export(cmd *cobra.Command, store *storage.Storage, outDir string, withEdges bool) (exportSummary, error) {
	var summary exportSummary

	records, err := store.LoadPages(cmd.Context())
	if err != nil {
		return summary, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return summary, fmt.Errorf("failed to create output directory: %w", err)
	}

	live, dead := splitRecords(records)
	summary.live, summary.dead = len(live), len(dead)

	if err := writeLines(filepath.Join(outDir, liveWebsFile), live); err != nil {
		return summary, err
	}

	deadLines := make([]string, 0, len(dead))
	for _, rec := range dead {
		data, err := json.Marshal(rec)
		if err != nil {
			return summary, fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
		}
		deadLines = append(deadLines, string(data))
	}
	if err := writeLines(filepath.Join(outDir, deadWebsFile), deadLines); err != nil {
		return summary, err
	}

	if withEdges {
		edges, err := store.LoadEdges()
		if err != nil {
			return summary, err
		}
		lines := make([]string, 0, len(edges))
		for _, e := range edges {
			lines = append(lines, e.FromDomain+"\t"+e.ToDomain+"\t"+strconv.Itoa(e.Weight))
		}
		if err := writeLines(filepath.Join(outDir, domainEdgeFile), lines); err != nil {
			return summary, err
		}
		summary.edges = len(edges)
	}

	logrus.Infof("Exported %d live and %d dead records", summary.live, summary.dead)
	return summary, nil
}

// splitRecords returns the distinct domains of pages that loaded, in the
// order they were stored, and the records of pages that never did
func splitRecords(records []*model.PageRecord) (live []string, dead []*model.PageRecord) {
	seen := make(map[string]struct{})
	for _, rec := range records {
		if !rec.IsOpen {
			dead = append(dead, rec)
			continue
		}
		if rec.Domain == "" {
			continue
		}
		if _, ok := seen[rec.Domain]; ok {
			continue
		}
		seen[rec.Domain] = struct{}{}
		live = append(live, rec.Domain)
	}
	return live, dead
}

func writeLines(path string, lines []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}
