package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/pop8234333/exam-system/internal/model"
	"github.com/pop8234333/exam-system/internal/store"
)

func rankingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Export the leaderboard of graded attempts",
		RunE:  runRanking,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.Int64("paper-id", 0, "Restrict the leaderboard to one paper (0 = all papers)")
	f.Int("limit", 0, "Maximum number of entries (0 = all)")
	f.String("format", "json", "Output format (json, xlsx)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func runRanking(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	format := strings.ToLower(v.GetString("format"))
	if format != "json" && format != "xlsx" {
		return fmt.Errorf("unknown format %q (want json or xlsx)", format)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export := model.RankingExport{GeneratedAt: time.Now().UTC(), Limit: v.GetInt("limit")}
	if id := v.GetInt64("paper-id"); id > 0 {
		export.PaperID = &id
	}
	export.Entries, err = db.Ranking(cmd.Context(), export.PaperID, export.Limit)
	if err != nil {
		return fmt.Errorf("query ranking: %w", err)
	}
	if export.Entries == nil {
		export.Entries = []model.RankingEntry{}
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "xlsx" {
		return writeRankingXLSX(w, export)
	}
	return writeRankingJSON(w, export)
}

func writeRankingJSON(w io.Writer, export model.RankingExport) error {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

const rankingSheet = "Ranking"

var rankingHeader = []any{"Rank", "Attempt", "Student", "Paper", "Score", "Max score", "Started", "Finished", "Duration (s)"}

func writeRankingXLSX(w io.Writer, export model.RankingExport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", rankingSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(rankingSheet, "A1", &rankingHeader); err != nil {
		return err
	}
	if err := f.SetRowStyle(rankingSheet, 1, 1, bold); err != nil {
		return err
	}

	for i, e := range export.Entries {
		finished := ""
		if e.EndTime != nil {
			finished = e.EndTime.Format(time.DateTime)
		}
		row := []any{
			i + 1, e.AttemptID, e.StudentName, e.PaperName, e.Score, e.PaperMaxScore,
			e.StartTime.Format(time.DateTime), finished, e.Duration,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(rankingSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SetColWidth(rankingSheet, "C", "D", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(rankingSheet, "G", "H", 20); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
