package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type ChartsCmd struct{}

func NewChartsCmd() *ChartsCmd {
	return &ChartsCmd{}
}

func (c *ChartsCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "charts",
		Short: "List the chart templates in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir := cfg.ChartsDir
			if dir == "" {
				dir = defaultChartsDir
			}
			charts, err := catalog.Load(log, dir)
			if err != nil {
				return err
			}
			printCharts(cmd.OutOrStdout(), charts.Templates())
			return nil
		},
	}
}

func printCharts(w io.Writer, templates []catalog.ChartTemplate) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{"ID", "Channels", "Description"})
	for _, t := range templates {
		channels := make([]string, len(t.Channels))
		for i, ch := range t.Channels {
			channels[i] = fmt.Sprintf("%s (%s)", ch.Name, ch.Type)
		}
		table.Append([]string{t.ID, strings.Join(channels, "\n"), t.Description})
	}
	table.Render()
}
