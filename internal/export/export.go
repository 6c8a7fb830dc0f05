package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/types"
)

// Format represents the export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json"; empty means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Options configures the export behavior
type Options struct {
	Format    Format
	StartTime time.Time
	EndTime   time.Time
	TradeType types.TradeType // "" exports both directions
	Wallet    string
}

// Summary contains summary statistics for exported entries
type Summary struct {
	TokenID          string    `json:"token_id"`
	TotalTrades      int       `json:"total_trades"`
	BuyCount         int       `json:"buy_count"`
	SellCount        int       `json:"sell_count"`
	UniqueWallets    int       `json:"unique_wallets"`
	BuyVolume        uint64    `json:"buy_volume_lamports"`
	SellVolume       uint64    `json:"sell_volume_lamports"`
	TokensBought     uint64    `json:"tokens_bought"`
	TokensSold       uint64    `json:"tokens_sold"`
	FeesCollected    uint64    `json:"fees_collected_lamports"`
	CreatorFees      uint64    `json:"creator_fees_lamports"`
	GraduatedVersion uint64    `json:"graduated_version,omitempty"`
	FirstVersion     uint64    `json:"first_version"`
	LastVersion      uint64    `json:"last_version"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
}

// Exporter writes ledger entries as CSV or JSON
type Exporter struct {
	logger *zap.Logger
}

// NewExporter creates a new ledger exporter
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{logger: logger.Named("export")}
}

// Write filters entries, orders them by version and writes them to w.
// It returns the number of exported entries.
func (ex *Exporter) Write(w io.Writer, tokenID string, entries []ledger.Entry, opts Options) (int, error) {
	filtered := Filter(entries, opts)
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Version < filtered[j].Version
	})

	var err error
	switch opts.Format {
	case FormatCSV, "":
		err = writeCSV(w, filtered)
	case FormatJSON:
		err = writeJSON(w, tokenID, filtered)
	default:
		err = fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		return 0, err
	}

	ex.logger.Debug("Ledger exported",
		zap.String("token_id", tokenID),
		zap.Int("count", len(filtered)),
		zap.String("format", string(opts.Format)))
	return len(filtered), nil
}

// ExportToDir writes the export into a timestamped file under dir.
func (ex *Exporter) ExportToDir(dir, tokenID string, entries []ledger.Entry, opts Options) (string, error) {
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, Filename(tokenID, opts, time.Now()))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}

	n, err := ex.Write(file, tokenID, entries, opts)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	ex.logger.Info("Ledger exported",
		zap.String("file", path),
		zap.Int("count", n),
		zap.String("format", string(opts.Format)))
	return path, nil
}

// Filter applies the time, direction and wallet filters.
func Filter(entries []ledger.Entry, opts Options) []ledger.Entry {
	filtered := make([]ledger.Entry, 0, len(entries))
	for _, en := range entries {
		if !opts.StartTime.IsZero() && en.CreatedAt.Before(opts.StartTime) {
			continue
		}
		if !opts.EndTime.IsZero() && en.CreatedAt.After(opts.EndTime) {
			continue
		}
		if opts.TradeType != "" && en.TradeType != opts.TradeType {
			continue
		}
		if opts.Wallet != "" && en.Wallet != opts.Wallet {
			continue
		}
		filtered = append(filtered, en)
	}
	return filtered
}

// Filename builds the export file name.
func Filename(tokenID string, opts Options, now time.Time) string {
	prefix := "ledger_all"
	if opts.TradeType != "" {
		prefix = "ledger_" + string(opts.TradeType)
	}
	if len(tokenID) > 8 {
		tokenID = tokenID[:8]
	}
	return fmt.Sprintf("%s_%s_%s.%s", prefix, tokenID, now.Format("20060102_150405"), opts.Format)
}

// CSVHeaders returns the header row of the CSV export.
func CSVHeaders() []string {
	return []string{
		"version", "id", "created_at", "trade_type", "wallet",
		"input_amount", "output_amount", "curve_sol_delta", "curve_token_delta",
		"price_per_token", "fee_total", "fee_platform", "fee_creator", "fee_liquidity", "fee_prize_pool",
		"fee_bps", "discount_bps", "slippage_bps", "graduated",
	}
}

func csvRow(en ledger.Entry) []string {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return []string{
		u(en.Version),
		en.ID,
		en.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(en.TradeType),
		en.Wallet,
		u(en.InputAmount),
		u(en.OutputAmount),
		strconv.FormatInt(en.CurveSolDelta, 10),
		strconv.FormatInt(en.CurveTokenDelta, 10),
		strconv.FormatFloat(en.PricePerToken, 'f', -1, 64),
		u(en.Fee.Total),
		u(en.Fee.Platform),
		u(en.Fee.Creator),
		u(en.Fee.Liquidity),
		u(en.Fee.PrizePool),
		u(uint64(en.Fee.EffectiveBps)),
		u(uint64(en.Fee.DiscountBps)),
		u(en.SlippageBps),
		strconv.FormatBool(en.Graduated),
	}
}

func writeCSV(w io.Writer, entries []ledger.Entry) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, en := range entries {
		if err := writer.Write(csvRow(en)); err != nil {
			return fmt.Errorf("failed to write entry %s: %w", en.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeJSON(w io.Writer, tokenID string, entries []ledger.Entry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	data := struct {
		ExportTime time.Time      `json:"export_time"`
		EntryCount int            `json:"entry_count"`
		Summary    Summary        `json:"summary"`
		Entries    []ledger.Entry `json:"entries"`
	}{
		ExportTime: time.Now().UTC(),
		EntryCount: len(entries),
		Summary:    Summarize(tokenID, entries),
		Entries:    entries,
	}

	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summarize computes statistics over entries ordered by version.
func Summarize(tokenID string, entries []ledger.Entry) Summary {
	summary := Summary{
		TokenID:     tokenID,
		TotalTrades: len(entries),
	}
	if len(entries) == 0 {
		return summary
	}

	summary.FirstVersion = entries[0].Version
	summary.LastVersion = entries[len(entries)-1].Version
	summary.StartDate = entries[0].CreatedAt
	summary.EndDate = entries[len(entries)-1].CreatedAt

	wallets := make(map[string]struct{})
	for _, en := range entries {
		if en.Wallet != "" {
			wallets[en.Wallet] = struct{}{}
		}
		summary.FeesCollected += en.Fee.Total
		summary.CreatorFees += en.Fee.Creator
		if en.Graduated {
			summary.GraduatedVersion = en.Version
		}

		switch en.TradeType {
		case types.TradeBuy:
			summary.BuyCount++
			summary.BuyVolume += en.InputAmount
			summary.TokensBought += en.OutputAmount
		case types.TradeSell:
			summary.SellCount++
			summary.SellVolume += en.GrossSol()
			summary.TokensSold += en.InputAmount
		}
	}
	summary.UniqueWallets = len(wallets)
	return summary
}
