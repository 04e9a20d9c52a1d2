package commands

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/cloudconsole/jobtracker/internal/config"
)

// CatalogAction prints the operation catalog as a table
func CatalogAction(ctx context.Context, cmd *cli.Command) error {
	if err := config.LoadEnvFile(cmd.String("env")); err != nil {
		return err
	}
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	cat := config.DefaultCatalog()
	if cfg.CatalogPath != "" {
		c, err := config.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		cat = c
	}

	return renderCatalog(os.Stdout, cat)
}

// renderCatalog writes one row per operation in name order
func renderCatalog(w io.Writer, cat *config.Catalog) error {
	table := tablewriter.NewWriter(w)
	table.Header("Operation", "Interval", "Max Wait", "Params", "Description")

	for _, name := range cat.Names() {
		op, _ := cat.Lookup(name)
		maxWait := "-"
		if op.MaxWait > 0 {
			maxWait = op.MaxWait.String()
		}
		if err := table.Append(
			op.Name,
			op.Interval.String(),
			maxWait,
			strings.Join(op.Params, ","),
			op.Description,
		); err != nil {
			return err
		}
	}

	return table.Render()
}
