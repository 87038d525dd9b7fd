package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/CrMo2001/intelli-vis/pkg/pipeline"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type QueryCmd struct{}

func NewQueryCmd() *QueryCmd {
	return &QueryCmd{}
}

func (c *QueryCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a single query and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}
			maxAttempts, err := cmd.Flags().GetInt("max-attempts")
			if err != nil {
				return fmt.Errorf("failed to get max-attempts flag: %w", err)
			}

			log, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if maxAttempts > 0 {
				cfg.MaxAttempts = maxAttempts
			}
			a, err := newApp(log, cfg)
			if err != nil {
				log.Error("Failed to initialize", "error", err)
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			result, perr := a.orchestrator.Process(ctx, pipeline.Request{
				Query:   strings.Join(args, " "),
				Dataset: a.dataset,
			})
			if perr != nil {
				if asJSON {
					_ = writeIndentedJSON(cmd.OutOrStdout(), perr)
				}
				if perr.Traceback != "" {
					log.Debug("Traceback", "traceback", perr.Traceback)
				}
				return perr
			}

			if asJSON {
				return writeIndentedJSON(cmd.OutOrStdout(), result)
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Print the result as JSON")
	cmd.Flags().Int("max-attempts", 0, "Override the number of generate-execute attempts")

	return cmd
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printResult(w io.Writer, r *pipeline.ProcessResult) {
	fmt.Fprintln(w, "Query type:", r.QueryType)

	switch r.QueryType {
	case pipeline.KindReport:
		fmt.Fprintln(w, "Province:", r.Province)
		fmt.Fprintln(w, "Year:", r.Year)
		fmt.Fprintln(w, "Report:", r.ReportPath)
		return
	case pipeline.KindVisualization, pipeline.KindReplace:
		fmt.Fprintln(w, "Chart:", r.ChartID)
		if r.ChartTitle != "" {
			fmt.Fprintln(w, "Title:", r.ChartTitle)
		}
		if r.ExistingVisualizationID != "" {
			fmt.Fprintln(w, "Replaces:", r.ExistingVisualizationID)
		}
		channels := make([]string, 0, len(r.ChannelMapping))
		for ch := range r.ChannelMapping {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		for _, ch := range channels {
			fmt.Fprintf(w, "  %s -> %s\n", ch, r.ChannelMapping[ch])
		}
	}

	printRecords(w, r.Columns, r.Data)
	if r.Response != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, r.Response)
	}
}

func printRecords(w io.Writer, columns []string, records []map[string]any) {
	if len(columns) == 0 && len(records) > 0 {
		for k := range records[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}
	if len(columns) == 0 {
		fmt.Fprintln(w, "(no rows)")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(columns)
	for _, rec := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := rec[col]; ok && v != nil {
				row[i] = fmt.Sprint(v)
			}
		}
		table.Append(row)
	}
	table.Render()
}
