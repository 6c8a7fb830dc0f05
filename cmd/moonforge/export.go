package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thecyberginehost/moonforge/internal/app"
	"github.com/thecyberginehost/moonforge/internal/export"
	"github.com/thecyberginehost/moonforge/internal/types"
)

var (
	exportFormat string
	exportType   string
	exportWallet string
	exportDir    string
)

var exportCmd = &cobra.Command{
	Use:   "export <token-id>",
	Short: "Export the trade ledger of a token as CSV or JSON",
	Long: `Writes every settled trade of a token in version order.
Without --out the export goes to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or json")
	exportCmd.Flags().StringVar(&exportType, "type", "", "only buy or sell trades")
	exportCmd.Flags().StringVar(&exportWallet, "wallet", "", "only trades of this wallet")
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "", "directory for a timestamped export file")
}

func runExport(cmd *cobra.Command, args []string) error {
	tokenID := args[0]
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	opts := export.Options{Format: format, Wallet: exportWallet}
	if exportType != "" {
		if opts.TradeType, err = types.ParseTradeType(exportType); err != nil {
			return err
		}
	}

	st, err := app.OpenStore(cmd.Context(), cfg.Storage, log.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.GetReserveState(cmd.Context(), tokenID); err != nil {
		return fmt.Errorf("token %s: %w", tokenID, err)
	}
	entries, err := st.ListLedgerEntries(cmd.Context(), tokenID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	exporter := export.NewExporter(log.Logger)
	if exportDir == "" {
		_, err = exporter.Write(cmd.OutOrStdout(), tokenID, entries, opts)
		return err
	}
	path, err := exporter.ExportToDir(exportDir, tokenID, entries, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Exported to", path)
	return nil
}
