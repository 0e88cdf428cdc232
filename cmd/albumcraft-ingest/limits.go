package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/config"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/hostres"
)

func newLimitsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show the host resources and the concurrency limits derived from them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			rows := limitsRows(hostres.Detect(), cfg.Ingest)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Setting", "Value", "Source"}, rows, 1))
			return err
		},
	}
}

func limitsRows(host hostres.HostInfo, in config.Ingest) [][]string {
	limits := hostres.ComputeConcurrency(host)

	jobs, jobsSource := limits.JobConcurrency, "derived"
	if in.JobConcurrency > 0 {
		jobs, jobsSource = in.JobConcurrency, "config"
	}
	files, filesSource := limits.FileConcurrency, "derived"
	if in.FileConcurrency > 0 {
		files, filesSource = in.FileConcurrency, "config"
	}
	workers, workersSource := host.CPUs, "derived"
	if in.EncodeWorkers > 0 {
		workers, workersSource = in.EncodeWorkers, "config"
	}

	ceiling := "none"
	if c := hostres.MemoryCeiling(host, in.MemoryHeadroomFraction); c > 0 {
		ceiling = humanize.IBytes(c)
	}

	return [][]string{
		{"CPUs", strconv.Itoa(host.CPUs), "host"},
		{"Total memory", bytesOrUnknown(host.TotalMemory), "host"},
		{"Free memory", bytesOrUnknown(host.FreeMemory), "host"},
		{"Memory ceiling", ceiling, fmt.Sprintf("%.0f%% of free", in.MemoryHeadroomFraction*100)},
		{"Job concurrency", strconv.Itoa(jobs), jobsSource},
		{"File concurrency", strconv.Itoa(files), filesSource},
		{"Encode workers", strconv.Itoa(workers), workersSource},
		{"Max file size", humanize.IBytes(uint64(in.MaxFileSizeBytes)), "config"},
		{"Max megapixels", strconv.Itoa(in.MaxMegapixels), "config"},
	}
}

func bytesOrUnknown(n uint64) string {
	if n == 0 {
		return "unknown"
	}

	return humanize.IBytes(n)
}
