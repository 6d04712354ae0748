package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kite-gtt/internal/reconcile"
	"kite-gtt/pkg/utils"
)

type bookRowView struct {
	ID       string  `json:"id"`
	Symbol   string  `json:"symbol"`
	Trigger  float64 `json:"trigger"`
	LTP      float64 `json:"ltp"`
	Variance float64 `json:"variance_pct"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type bookView struct {
	Rows       []bookRowView `json:"rows"`
	Duplicates []string      `json:"duplicates"`
	Unpriced   []string      `json:"unpriced"`
	Capital    float64       `json:"capital_required"`
}

type actionView struct {
	ID       string  `json:"id"`
	Symbol   string  `json:"symbol"`
	Variance float64 `json:"variance_pct"`
	NewID    string  `json:"new_id,omitempty"`
	Trigger  float64 `json:"trigger,omitempty"`
	Limit    float64 `json:"limit,omitempty"`
	Done     bool    `json:"done"`
	Error    string  `json:"error,omitempty"`
}

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and maintain live GTT buy orders",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "analyze",
		Short: "List active buy GTTs by distance from the last price",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			book, err := app.loadBook(cmd)
			if err != nil {
				return err
			}
			view := newBookView(book)
			if output.IsJSON() {
				return output.JSON(view)
			}
			printBook(output, view)
			return nil
		},
	})

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete GTTs whose trigger is further than --variance below the price",
		Example: `  gtt orders prune --variance 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, _ := cmd.Flags().GetFloat64("variance")
			return app.runMaintenance(cmd, fmt.Sprintf("Delete GTTs with variance above %.2f%%?", threshold),
				func(r *reconcile.Reconciler, book reconcile.Book) []reconcile.Action {
					return r.Prune(cmd.Context(), book, threshold)
				},
				func(row reconcile.BookRow) bool { return row.Variance > threshold })
		},
	}
	prune.Flags().Float64("variance", 5, "delete GTTs with variance above this percent")
	prune.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	cmd.AddCommand(prune)

	realign := &cobra.Command{
		Use:   "realign",
		Short: "Move GTTs closer than --target so the price sits target percent above the trigger",
		Example: `  gtt orders realign --target -3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetFloat64("target")
			return app.runMaintenance(cmd, fmt.Sprintf("Replace GTTs with variance below %.2f%%?", target),
				func(r *reconcile.Reconciler, book reconcile.Book) []reconcile.Action {
					return r.Realign(cmd.Context(), book, target)
				},
				func(row reconcile.BookRow) bool { return row.Variance < target })
		},
	}
	realign.Flags().Float64("target", 3, "target variance percent")
	realign.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	cmd.AddCommand(realign)

	return cmd
}

func (a *App) loadBook(cmd *cobra.Command) (reconcile.Book, error) {
	st, err := a.loadState(cmd.Context(), false)
	if err != nil {
		return reconcile.Book{}, err
	}
	return reconcile.Analyze(st.gtts, st.cache), nil
}

// runMaintenance shows the affected GTTs, asks once, then applies run.
func (a *App) runMaintenance(cmd *cobra.Command, question string,
	run func(*reconcile.Reconciler, reconcile.Book) []reconcile.Action,
	affected func(reconcile.BookRow) bool) error {

	output := NewOutput(cmd)
	st, err := a.loadState(cmd.Context(), false)
	if err != nil {
		return err
	}
	book := reconcile.Analyze(st.gtts, st.cache)

	n := 0
	for _, row := range book.Rows {
		if affected(row) {
			n++
			if !output.IsJSON() {
				output.Printf("  %-12s trigger %-10.2f ltp %-10.2f variance %s\n",
					row.GTT.Symbol, row.GTT.TriggerPrice, row.LastPrice, output.Signed(row.Variance, fmt.Sprintf("%.2f%%", row.Variance)))
			}
		}
	}
	if n == 0 {
		if output.IsJSON() {
			return output.JSON([]actionView{})
		}
		output.Info("No GTTs match.")
		return nil
	}

	ok, err := confirm(cmd, question)
	if err != nil || !ok {
		return err
	}

	actions := run(a.reconciler(st), book)
	views := make([]actionView, 0, len(actions))
	for _, act := range actions {
		v := actionView{
			ID:       act.Row.GTT.ID,
			Symbol:   act.Row.GTT.Symbol,
			Variance: act.Row.Variance,
			NewID:    act.NewID,
			Trigger:  act.Trigger,
			Limit:    act.Limit,
			Done:     act.Executed,
		}
		if act.Err != nil {
			v.Error = act.Err.Error()
		}
		views = append(views, v)
	}

	if output.IsJSON() {
		return output.JSON(views)
	}
	for _, v := range views {
		switch {
		case v.Error != "":
			output.Error("Failed %s: %s", v.Symbol, v.Error)
		case v.NewID != "":
			output.Success("Realigned %s: trigger %.2f, limit %.2f (GTT %s)", v.Symbol, v.Trigger, v.Limit, v.NewID)
		default:
			output.Success("Deleted GTT for %s with variance %.2f%%", v.Symbol, v.Variance)
		}
	}
	return nil
}

func newBookView(book reconcile.Book) bookView {
	view := bookView{
		Rows:       make([]bookRowView, 0, len(book.Rows)),
		Duplicates: book.Duplicates,
		Capital:    utils.Rupees(book.Capital),
	}
	for _, r := range book.Rows {
		view.Rows = append(view.Rows, bookRowView{
			ID:       r.GTT.ID,
			Symbol:   r.GTT.Symbol,
			Trigger:  r.GTT.TriggerPrice,
			LTP:      r.LastPrice,
			Variance: r.Variance,
			Quantity: r.GTT.Quantity(),
			Price:    r.GTT.LimitPrice(),
		})
	}
	for _, g := range book.Unpriced {
		view.Unpriced = append(view.Unpriced, g.Symbol)
	}
	return view
}

func printBook(output *Output, view bookView) {
	output.Title("Active GTT buy orders")
	if len(view.Rows) == 0 && len(view.Unpriced) == 0 {
		output.Info("No BUY-type GTT orders found.")
		return
	}

	table := NewTable(output, "Symbol", "Trigger", "LTP", "Variance", "Qty", "Amount").AlignRight(1, 2, 3, 4, 5)
	for _, r := range view.Rows {
		table.AddRow(
			r.Symbol,
			fmt.Sprintf("%.2f", r.Trigger),
			fmt.Sprintf("%.2f", r.LTP),
			output.Signed(r.Variance, fmt.Sprintf("%.2f%%", r.Variance)),
			fmt.Sprintf("%d", r.Quantity),
			utils.FormatMoney(utils.OrderValue(r.Price, r.Quantity)),
		)
	}
	table.Render()

	if len(view.Unpriced) > 0 {
		output.WrappedList("No price available:", view.Unpriced, 80)
	}
	if len(view.Duplicates) > 0 {
		output.Println()
		output.Warning("Duplicate GTT orders found for: %v", view.Duplicates)
	}
	output.Println()
	output.Bold("Total capital required to execute all GTT orders: %s", utils.FormatIndianCurrency(view.Capital))
}
