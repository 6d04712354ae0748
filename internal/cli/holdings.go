package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kite-gtt/internal/models"
	"kite-gtt/internal/roi"
	"kite-gtt/internal/store"
	"kite-gtt/pkg/utils"
)

type holdingView struct {
	Symbol      string  `json:"symbol"`
	Quantity    int     `json:"quantity"`
	Invested    float64 `json:"invested"`
	PnL         float64 `json:"pnl"`
	PnLPercent  float64 `json:"pnl_pct"`
	DaysHeld    int     `json:"days_held"`
	YieldPerDay float64 `json:"yield_per_day"`
	RoiPerDay   float64 `json:"roi_per_day"`
	Trend       string  `json:"trend"`
}

type averageView struct {
	Date    string  `json:"date"`
	Average float64 `json:"average"`
}

func newHoldingsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holdings",
		Short: "Show ROI per day for every holding",
		Long: `Sync the tradebook, compute each holding's ROI and its age from the
quantity-weighted average purchase date, and rank holdings by ROI per day.

On weekdays the results are recorded as the day's ROI snapshot, which feeds
the trend column and the average ROI/day trend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			st, err := app.loadState(ctx, false)
			if err != nil {
				return err
			}
			s, err := app.Store()
			if err != nil {
				return err
			}

			if _, err := store.NewTradeSync(s, st.broker, app.Logger).Sync(ctx); err != nil {
				app.Logger.Warn().Err(err).Msg("Tradebook sync failed, using stored trades")
			}
			trades, err := s.GetTrades(ctx, store.TradeFilter{Side: models.OrderSideBuy})
			if err != nil {
				return err
			}

			today := app.now().In(app.Config.Location())
			results := roi.Analyze(st.holdings, trades, st.cache, today)

			held := make(map[string]bool, len(results))
			symbols := make([]string, 0, len(results))
			for _, r := range results {
				held[r.Symbol] = true
				symbols = append(symbols, r.Symbol)
			}

			history, err := s.GetSnapshots(ctx, store.SnapshotFilter{Symbols: symbols})
			if err != nil {
				return err
			}
			roi.AttachTrends(results, roi.SeriesBySymbol(history, held), app.Config.Trend.Threshold)

			if err := app.recordSnapshots(ctx, s, results, today); err != nil {
				app.Logger.Warn().Err(err).Msg("Failed to record ROI snapshots")
			}

			history, err = s.GetSnapshots(ctx, store.SnapshotFilter{Symbols: symbols})
			if err != nil {
				return err
			}
			averages := roi.AverageTrend(history, held, app.Config.Trend.AveragePoints)
			app.Metrics.RoiPerDayAverage(meanRoiPerDay(results))

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"holdings":      holdingViews(results),
					"average_trend": averageViews(averages),
				})
			}
			printHoldings(output, results, averages)
			return nil
		},
	}
	return cmd
}

func (a *App) recordSnapshots(ctx context.Context, s store.DataStore, results []roi.Result, today time.Time) error {
	if !roi.IsRecordingDay(today) {
		a.Logger.Debug().Msg("Weekend, ROI snapshot not recorded")
		return nil
	}
	if err := s.UpsertSnapshots(ctx, roi.Snapshots(results, today)); err != nil {
		return err
	}
	return s.SetLastSync(store.SyncTypeSnapshots, a.now())
}

func meanRoiPerDay(results []roi.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.RoiPerDay
	}
	return sum / float64(len(results))
}

func holdingViews(results []roi.Result) []holdingView {
	out := make([]holdingView, 0, len(results))
	for _, r := range results {
		v := holdingView{
			Symbol:      r.Symbol,
			Quantity:    r.Quantity,
			Invested:    r.Invested,
			PnL:         r.PnL,
			PnLPercent:  r.PnLPercent,
			DaysHeld:    r.DaysHeld,
			YieldPerDay: r.YieldPerDay,
			RoiPerDay:   r.RoiPerDay,
			Trend:       "-",
		}
		if r.Trend != nil {
			v.Trend = r.Trend.String()
		}
		out = append(out, v)
	}
	return out
}

func averageViews(avgs []roi.DailyAverage) []averageView {
	out := make([]averageView, 0, len(avgs))
	for _, a := range avgs {
		out = append(out, averageView{Date: a.Date.Format("2006-01-02"), Average: a.Average})
	}
	return out
}

func printHoldings(output *Output, results []roi.Result, averages []roi.DailyAverage) {
	output.Title("Holdings ROI")
	if len(results) == 0 {
		output.Info("No priced holdings.")
		return
	}

	table := NewTable(output, "Symbol", "Invested", "P&L", "Yld/Day", "Age", "P&L%", "ROI/Day", "Trend").
		AlignRight(1, 2, 3, 4, 5, 6, 7)
	for _, v := range holdingViews(results) {
		table.AddRow(
			v.Symbol,
			utils.FormatIndianCurrency(v.Invested),
			output.Signed(v.PnL, utils.FormatPnL(v.PnL)),
			fmt.Sprintf("%.2f", v.YieldPerDay),
			fmt.Sprintf("%d", v.DaysHeld),
			output.Signed(v.PnLPercent, utils.FormatPercent(v.PnLPercent)),
			fmt.Sprintf("%.2f", v.RoiPerDay),
			v.Trend,
		)
	}
	table.Render()

	if len(averages) > 0 {
		values := make([]float64, len(averages))
		for i, a := range averages {
			values[i] = a.Average
		}
		output.Println()
		output.Printf("Average ROI/Day trend (latest %d dates): %s\n", len(values), roi.FormatSeries(values, 4))
	}
}

func newROICmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roi",
		Short: "ROI history commands",
	}

	trend := &cobra.Command{
		Use:   "trend",
		Short: "Find symbols whose ROI/day rose or fell on each of the last N snapshots",
		Example: `  gtt roi trend --days 3 --direction up
  gtt roi trend --days 5 --direction down`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				days = app.Config.Trend.Window
			}
			if days < 2 {
				return fmt.Errorf("--days must be at least 2")
			}
			dirFlag, _ := cmd.Flags().GetString("direction")
			dir, err := roi.ParseDirection(dirFlag)
			if err != nil {
				return err
			}

			s, err := app.Store()
			if err != nil {
				return err
			}
			dates, err := s.SnapshotDates(ctx, days)
			if err != nil {
				return err
			}
			var runs []roi.Run
			if len(dates) == days {
				snaps, err := s.GetSnapshots(ctx, store.SnapshotFilter{StartDate: dates[len(dates)-1]})
				if err != nil {
					return err
				}
				runs = roi.DetectRuns(roi.SeriesBySymbol(snaps, nil), days, dir)
			}

			if output.IsJSON() {
				if runs == nil {
					runs = []roi.Run{}
				}
				return output.JSON(runs)
			}

			output.Title(fmt.Sprintf("ROI/day %s trend over %d snapshots", dir, days))
			if len(dates) < days {
				output.Warning("Only %d snapshot dates recorded.", len(dates))
			}
			if len(runs) == 0 {
				output.Info("No symbols found.")
				return nil
			}
			for _, r := range runs {
				output.Printf("  %-12s %s  (%s)\n", r.Symbol, roi.FormatSeries(r.Values, 3),
					output.Signed(runSign(dir)*r.Change, fmt.Sprintf("%+.3f", runSign(dir)*r.Change)))
			}
			return nil
		},
	}
	trend.Flags().Int("days", 0, "consecutive snapshots to compare (default: trend.window)")
	trend.Flags().String("direction", "up", "up or down")
	cmd.AddCommand(trend)

	return cmd
}

func runSign(dir roi.Direction) float64 {
	if dir == roi.Down {
		return -1
	}
	return 1
}
