package main

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/config"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/processor"
)

type ingestOptions struct {
	ownerID    string
	album      string
	batchLabel string
}

func newIngestCmd(configPath *string) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest local image files into an album and print the outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad(*configPath)

			files, err := readLocalFiles(args, cfg.Ingest.MaxFileSizeBytes)
			if err != nil {
				return err
			}

			pl, err := newPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pl.close()

			result, err := pl.service.Ingest(cmd.Context(), model.JobPayload{
				OwnerID:    opts.ownerID,
				BatchLabel: opts.batchLabel,
				ParentName: opts.album,
				SessionID:  "cli",
				Files:      files,
			})

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"File", "Status", "Size", "Detail"}, resultRows(files, result), 2))
			fmt.Fprintf(out, "album %s: %d ingested, %d failed\n", result.AlbumID, len(result.Succeeded), len(result.Failed))

			return err
		},
	}

	cmd.Flags().StringVar(&opts.ownerID, "owner", "", "owner of the album")
	cmd.Flags().StringVar(&opts.album, "album", "", "album name")
	cmd.Flags().StringVar(&opts.batchLabel, "label", "", "batch label, used as album name when --album is empty")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

// readLocalFiles loads paths into file items. Each file is read up to maxSize+1 bytes
// so oversized files still fail validation instead of being loaded whole.
func readLocalFiles(paths []string, maxSize int64) ([]model.FileItem, error) {
	items := make([]model.FileItem, 0, len(paths))

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}

		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		r := io.Reader(f)
		if maxSize > 0 {
			r = io.LimitReader(f, maxSize+1)
		}
		data, err := io.ReadAll(r)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}

		items = append(items, model.FileItem{
			Name:     filepath.Base(path),
			Size:     info.Size(),
			MimeType: mimeType,
			Data:     data,
		})
	}

	zlog.Logger.Debug().Int("files", len(items)).Msg("local files loaded")

	return items, nil
}

// resultRows lists every input file with its outcome.
func resultRows(files []model.FileItem, result model.JobResult) [][]string {
	sizes := make(map[string]int64, len(files))
	for _, f := range files {
		sizes[f.Name] = f.Size
	}

	rows := make([][]string, 0, len(result.Succeeded)+len(result.Failed))
	for _, rec := range result.Succeeded {
		detail := fmt.Sprintf("%dx%d", rec.Width, rec.Height)
		if processor.IsDataURI(rec.StorageURL) {
			detail += " embedded"
		}
		rows = append(rows, []string{rec.Filename, "ok", humanize.IBytes(uint64(sizes[rec.Filename])), detail})
	}
	for _, f := range result.Failed {
		rows = append(rows, []string{f.Filename, f.Kind, humanize.IBytes(uint64(sizes[f.Filename])), f.Error})
	}

	return rows
}
