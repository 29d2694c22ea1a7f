package main

import (
	"fmt"

	"github.com/ethpandaops/dagsync/pkg/collector"
	"github.com/ethpandaops/dagsync/pkg/config"
	"github.com/ethpandaops/dagsync/pkg/upload"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	dagsDirectory string
	dagsBucket    string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload DAGs to a Cloud Composer bucket",
	Long: `Collect the DAG files under --dags_directory, skipping package markers and
test files, and upload them to --dags_bucket under the configured prefix.
Failed files are logged and do not stop the remaining uploads.`,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&dagsDirectory, "dags_directory", "",
		"Path to source DAGs directory")
	uploadCmd.Flags().StringVar(&dagsBucket, "dags_bucket", "",
		"Composer DAGs bucket name (without gs:// prefix)")

	_ = uploadCmd.MarkFlagRequired("dags_directory")
	_ = uploadCmd.MarkFlagRequired("dags_bucket")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if err := config.ValidateBucket(dagsBucket); err != nil {
		return err
	}

	fs := afero.NewOsFs()

	opener, err := newStoreOpener(fs, &cfg.Destination)
	if err != nil {
		return err
	}

	col := collector.New(log, fs, collector.Options{
		IgnorePatterns: cfg.Source.IgnorePatterns,
		Extensions:     cfg.Source.Extensions,
	})

	ctx := cmd.Context()

	staging, err := col.Collect(ctx, dagsDirectory)
	if err != nil {
		return fmt.Errorf("collecting DAGs: %w", err)
	}

	uploader := upload.New(log, fs, opener, upload.Options{
		Prefix: cfg.Destination.Prefix,
	})

	if err := uploader.Upload(ctx, staging, dagsBucket); err != nil {
		return fmt.Errorf("uploading DAGs: %w", err)
	}

	return nil
}

// newStoreOpener selects the object store backend from the config.
func newStoreOpener(fs afero.Fs, dest *config.DestinationConfig) (upload.StoreOpener, error) {
	switch dest.Backend {
	case config.BackendS3:
		return upload.NewS3Opener(log, &dest.S3), nil
	case config.BackendLocal:
		return upload.NewLocalOpener(fs, &dest.Local), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", dest.Backend)
	}
}
