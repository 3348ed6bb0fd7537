package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/runlink/export"
	"github.com/caffeineduck/runlink/internal/config"
	"github.com/caffeineduck/runlink/internal/logger"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write source to the configured export sink",
	Long: `Export source code as a plain-text code.<ext> file.

The sink comes from the export config section or the flags:
  --type local   writes under --target as a directory (default ".")
  --type s3      uploads to the --target bucket

With --instance the file is stored as editors/<id>/code.<ext>.`,
	Args:         cobra.MaximumNArgs(1),
	RunE:         runExport,
	SilenceUsage: true,
}

func init() {
	addRunFlags(exportCmd)
	exportCmd.Flags().String("instance", "", "Editor instance id to export as")
	exportCmd.Flags().String("type", "", "Sink type: local, s3")
	exportCmd.Flags().String("target", "", "Directory (local) or bucket (s3)")
	rootCmd.AddCommand(exportCmd)
}

// newSink builds the export sink described by cfg.
func newSink(ctx context.Context, cfg config.ExportConfig) (export.Sink, error) {
	var opts []export.S3Option
	if cfg.Region != "" {
		opts = append(opts, export.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, export.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Prefix != "" {
		opts = append(opts, export.WithPrefix(cfg.Prefix))
	}
	if cfg.Tracing {
		opts = append(opts, export.WithTracing())
	}
	return export.NewSink(ctx, cfg.Type, cfg.Target, opts...)
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	source, filename, _, ok, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if !ok {
		return cmd.Help()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("type") {
		cfg.Export.Type, _ = flags.GetString("type")
	}
	if flags.Changed("target") {
		cfg.Export.Target, _ = flags.GetString("target")
	}
	instance, _ := flags.GetString("instance")

	lang, _ := flags.GetString("lang")
	language, err := getLanguage(lang, filename, cfg.Language)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.Init(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	if cfg.Export.Tracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, "runlink-export")
		defer func() { seg.Close(err) }()
	}

	sink, err := newSink(ctx, cfg.Export)
	if err != nil {
		return err
	}
	loc, err := sink.Save(ctx, export.Key(instance, language), source)
	if err != nil {
		return err
	}

	log.Info().Str("location", loc).Str("type", cfg.Export.Type).Msg("exported source")
	fmt.Fprintln(cmd.OutOrStdout(), loc)
	return nil
}
