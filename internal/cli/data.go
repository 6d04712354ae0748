package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kite-gtt/internal/models"
	"kite-gtt/internal/quotes"
	"kite-gtt/internal/store"
	"kite-gtt/internal/watchlist"
	"kite-gtt/pkg/utils"
)

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Local tradebook ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Append today's tradebook to the local ledger",
		Long: `The Kite tradebook only covers the current day, so purchase dates for ROI
come from the local ledger. Run this after market close to keep it complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			b, err := app.Broker()
			if err != nil {
				return err
			}
			if !b.IsAuthenticated() {
				if err := b.Login(cmd.Context()); err != nil {
					return err
				}
			}
			s, err := app.Store()
			if err != nil {
				return err
			}

			res, err := store.NewTradeSync(s, b, app.Logger).Sync(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}
			output.Success("Fetched %d trades: %d new, %d already recorded", res.Fetched, res.Added, res.Existing)
			return nil
		},
	})

	list := &cobra.Command{
		Use:   "list",
		Short: "Show recorded trades",
		Example: `  gtt trades list --symbol INFY
  gtt trades list --days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.Store()
			if err != nil {
				return err
			}

			filter := store.TradeFilter{}
			filter.Symbol, _ = cmd.Flags().GetString("symbol")
			filter.Symbol = models.NormalizeSymbol(filter.Symbol)
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if days, _ := cmd.Flags().GetInt("days"); days > 0 {
				filter.StartDate = app.now().AddDate(0, 0, -days)
			}

			trades, err := s.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}

			output.Title("Trades")
			output.Dim("%s", store.FormatFreshness(store.Freshness(s, store.SyncTypeTrades, 24*time.Hour, app.now())))
			if len(trades) == 0 {
				output.Info("No trades recorded.")
				return nil
			}
			table := NewTable(output, "Date", "Symbol", "Side", "Qty", "Price").AlignRight(3, 4)
			for _, t := range trades {
				table.AddRow(
					t.ExecutedAt.In(app.Config.Location()).Format("2006-01-02 15:04"),
					t.Symbol,
					string(t.Side),
					fmt.Sprintf("%d", t.Quantity),
					fmt.Sprintf("%.2f", t.Price),
				)
			}
			table.Render()
			return nil
		},
	}
	list.Flags().String("symbol", "", "only this symbol")
	list.Flags().Int("days", 0, "only trades from the last N days")
	list.Flags().Int("limit", 0, "maximum rows")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show when the ledger and snapshots were last updated",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.Store()
			if err != nil {
				return err
			}
			now := app.now()
			fresh := []store.DataFreshness{
				store.Freshness(s, store.SyncTypeTrades, 24*time.Hour, now),
				store.Freshness(s, store.SyncTypeSnapshots, 24*time.Hour, now),
			}
			if output.IsJSON() {
				return output.JSON(fresh)
			}
			for _, f := range fresh {
				line := store.FormatFreshness(f)
				if f.IsFresh {
					output.Println(line)
				} else {
					output.Println(output.Yellow(line))
				}
			}
			return nil
		},
	})

	return cmd
}

type quoteView struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

func newQuotesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quotes",
		Short: "Fetch last prices for holdings, GTTs and the watchlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			st, err := app.loadState(ctx, false)
			if err != nil {
				return err
			}
			if wl, err := watchlist.Load(app.Config.WatchlistPath(), app.Logger); err != nil {
				app.Logger.Warn().Err(err).Msg("Watchlist not loaded")
			} else if len(wl.Entries) > 0 {
				if _, err := st.cache.Refresh(ctx, quotes.RefreshRequest{
					Holdings:  st.holdings,
					GTTs:      st.gtts,
					Watchlist: wl.Entries,
				}); err != nil {
					return err
				}
			}

			snap := st.cache.Snapshot()
			views := make([]quoteView, 0, len(snap))
			for _, q := range snap {
				views = append(views, quoteView{
					Exchange:  string(q.Exchange),
					Symbol:    q.Symbol,
					LastPrice: q.LastPrice,
					Source:    q.Source,
					FetchedAt: q.FetchedAt,
				})
			}
			if output.IsJSON() {
				return output.JSON(views)
			}

			output.Title(fmt.Sprintf("Quotes (%s)", strings.ToLower(app.Config.Quotes.Provider)))
			if len(views) == 0 {
				output.Info("No prices available.")
				return nil
			}
			table := NewTable(output, "Exchange", "Symbol", "LTP", "Source").AlignRight(2)
			for _, v := range views {
				table.AddRow(v.Exchange, v.Symbol, fmt.Sprintf("%.2f", v.LastPrice), v.Source)
			}
			table.Render()
			if !utils.IsMarketOpen(app.now()) {
				output.Dim("Market closed: prices are from the last session.")
			}
			return nil
		},
	}
	return cmd
}
