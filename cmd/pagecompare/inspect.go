package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shyim/sitespeed-compare/internal/config"
	"github.com/shyim/sitespeed-compare/internal/export"
	"github.com/shyim/sitespeed-compare/internal/storage"
)

func inspectCmd() *cobra.Command {
	var archived bool
	v := config.New()

	cmd := &cobra.Command{
		Use:   "inspect <file|id>",
		Short: "Print and verify an exported result or comparison",
		Long:  `Reads an export file, or with --archived the comparison archived by the API under the given run id, prints it and checks its summaries against the raw samples.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc export.Document
			var err error
			if archived {
				doc, err = fetchArchived(cmd.Context(), v, args[0])
			} else {
				doc, err = readExport(args[0])
			}
			if err != nil {
				return err
			}

			switch doc.Kind {
			case export.KindComparison:
				renderComparison(doc.Comparison)
			case export.KindResult:
				renderResult(doc.Result)
			}

			if mismatches := export.Verify(doc); len(mismatches) > 0 {
				for _, m := range mismatches {
					pterm.Warning.Println(m.String())
				}
				return fmt.Errorf("export does not match its raw samples (%d mismatches)", len(mismatches))
			}
			pterm.Success.Println("Summaries match the raw samples")
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&archived, "archived", false, "Treat the argument as a run id and fetch its archive from S3")
	f.String("s3-url", "", "S3 endpoint (S3_SERVICE_URL)")
	f.String("bucket", "sitespeed-results", "S3 bucket holding the archives (S3_BUCKET_NAME)")
	bindFlags(v, cmd, map[string]string{
		config.KeyS3ServiceURL: "s3-url",
		config.KeyS3BucketName: "bucket",
	})

	return cmd
}

func readExport(path string) (export.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return export.Document{}, fmt.Errorf("opening export file: %w", err)
	}
	defer f.Close()
	return export.Decode(f)
}

func fetchArchived(ctx context.Context, v *viper.Viper, id string) (export.Document, error) {
	store, err := storage.NewService(ctx, config.LoadS3(v))
	if err != nil {
		return export.Document{}, fmt.Errorf("initializing storage: %w", err)
	}
	doc, err := store.LoadExport(ctx, id)
	if err != nil {
		return export.Document{}, fmt.Errorf("fetching archived run %s: %w", id, err)
	}
	return doc, nil
}
