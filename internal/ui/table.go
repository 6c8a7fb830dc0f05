// Package ui renders engine results for the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/graduation"
	"github.com/thecyberginehost/moonforge/internal/settlement"
	"github.com/thecyberginehost/moonforge/internal/types"
	"github.com/thecyberginehost/moonforge/internal/ui/style"
)

// Table is a two-column label/value table.
type Table struct {
	title string
	rows  [][2]string

	titleStyle  lipgloss.Style
	labelStyle  lipgloss.Style
	valueStyle  lipgloss.Style
	borderStyle lipgloss.Style
}

// NewTable creates a new table component
func NewTable(title string) *Table {
	palette := style.DefaultPalette()

	return &Table{
		title: title,

		titleStyle: lipgloss.NewStyle().
			Foreground(palette.Secondary).
			Bold(true),

		labelStyle: lipgloss.NewStyle().
			Foreground(palette.TextMuted).
			Padding(0, 1),

		valueStyle: lipgloss.NewStyle().
			Foreground(palette.Text).
			Padding(0, 1),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(palette.TextMuted),
	}
}

// AddRow appends a row.
func (t *Table) AddRow(label, value string) *Table {
	t.rows = append(t.rows, [2]string{label, value})
	return t
}

// WithTitleColor recolors the title.
func (t *Table) WithTitleColor(c lipgloss.Color) *Table {
	t.titleStyle = t.titleStyle.Foreground(c)
	return t
}

// View renders the table.
func (t *Table) View() string {
	labelWidth := 0
	for _, r := range t.rows {
		if w := lipgloss.Width(r[0]); w > labelWidth {
			labelWidth = w
		}
	}

	lines := make([]string, 0, len(t.rows))
	for _, r := range t.rows {
		label := t.labelStyle.Width(labelWidth + 2).Render(r[0])
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, label, t.valueStyle.Render(r[1])))
	}

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(t.titleStyle.Render(t.title))
		sb.WriteString("\n")
	}
	sb.WriteString(t.borderStyle.Render(strings.Join(lines, "\n")))
	return sb.String()
}

// QuoteView renders a quote or a settled trade.
func QuoteView(tokenID string, tradeType types.TradeType, res *settlement.TradeResult) string {
	palette := style.DefaultPalette()
	color := palette.Buy
	if tradeType == types.TradeSell {
		color = palette.Sell
	}

	title := fmt.Sprintf("%s %s", strings.ToUpper(string(tradeType)), tokenID)
	t := NewTable(title).WithTitleColor(color)

	if tradeType == types.TradeBuy {
		t.AddRow("Pay", sol(res.SolAmount))
		t.AddRow("Receive", tokens(res.TokenAmount))
	} else {
		t.AddRow("Pay", tokens(res.TokenAmount))
		t.AddRow("Receive", sol(res.SolAmount))
	}

	t.AddRow("Price / token", fmt.Sprintf("%.12f SOL", res.PricePerToken)).
		AddRow("Fee", fmt.Sprintf("%s (%d bps)", sol(res.TotalFee), res.EffectiveFeeBps)).
		AddRow("  platform", sol(res.Fees.Platform)).
		AddRow("  creator", sol(res.Fees.Creator)).
		AddRow("  liquidity", sol(res.Fees.Liquidity)).
		AddRow("  prize pool", sol(res.Fees.PrizePool)).
		AddRow("Discount", fmt.Sprintf("%d bps", res.AchievementDiscountBps)).
		AddRow("Price impact", fmt.Sprintf("%d bps", res.PriceImpactBps))

	if res.Graduated {
		t.AddRow("Graduates", "yes")
	}
	return t.View()
}

// SnapshotView renders the reserves of a curve.
func SnapshotView(s *curve.ReserveState, policy graduation.Policy) string {
	t := NewTable("Curve " + s.TokenID)
	t.AddRow("Status", string(graduation.StatusOf(s))).
		AddRow("Price", fmt.Sprintf("%.12f SOL", s.CurrentPrice)).
		AddRow("Market cap", fmt.Sprintf("%.2f SOL", s.MarketCap)).
		AddRow("Real SOL", sol(s.RealSolReserves)).
		AddRow("Real tokens", tokens(s.RealTokenReserves)).
		AddRow("Tokens sold", tokens(s.TokensSold)).
		AddRow("SOL raised", sol(s.SolRaised)).
		AddRow("Progress", fmt.Sprintf("%.2f%%", policy.Progress(s))).
		AddRow("Trades", fmt.Sprintf("%d", s.TradeCount)).
		AddRow("Version", fmt.Sprintf("%d", s.Version))
	return t.View()
}

func sol(lamports uint64) string {
	return curve.Lamports(lamports).String() + " SOL"
}

func tokens(units uint64) string {
	return curve.Tokens(units).String()
}
