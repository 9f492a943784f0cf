package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pop8234333/exam-system/internal/model"
	"github.com/pop8234333/exam-system/internal/store"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import papers and questions from catalog JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viperForCmd(cmd)
			setupLogging(v)

			db, err := store.New(v.GetString("db"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			return importCatalogs(cmd.Context(), db, args)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

// importCatalogs loads each catalog file once. Files whose content hash is
// already recorded are skipped; changed files are skipped with a warning
// so existing attempts keep pointing at the papers they were taken on.
func importCatalogs(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("catalog file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("catalog file changed since last import, skipping to avoid breaking existing attempts",
				"path", path)
			continue
		}

		var catalog model.CatalogImport
		if err := json.Unmarshal(data, &catalog); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		papers, questions, err := db.ImportCatalog(ctx, catalog)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported catalog", "path", path, "papers", papers, "questions", questions)
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
