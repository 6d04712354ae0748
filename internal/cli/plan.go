package cli

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/spf13/cobra"

	"kite-gtt/internal/models"
	"kite-gtt/internal/planner"
	"kite-gtt/internal/reconcile"
	"kite-gtt/pkg/utils"
)

// planView is the JSON form of a planning pass.
type planView struct {
	Duplicates      []string               `json:"duplicates,omitempty"`
	Rejected        []string               `json:"rejected_rows,omitempty"`
	Existing        []string               `json:"existing"`
	FullyAllocated  []string               `json:"fully_allocated"`
	New             []models.OrderProposal `json:"new"`
	Issues          []issueView            `json:"issues,omitempty"`
	CapitalRequired float64                `json:"capital_required"`
	Reconcile       *reconcileView         `json:"reconcile,omitempty"`
}

type issueView struct {
	Symbol  string `json:"symbol"`
	Outcome string `json:"outcome"`
	Error   string `json:"error"`
}

type reconcileView struct {
	RunID   string   `json:"run_id"`
	DryRun  bool     `json:"dry_run"`
	Placed  []string `json:"placed"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
}

func newPlanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the GTT plan for the watchlist",
		Long: `Plan one GTT buy per watchlist symbol from its staged entry levels and the
current price, and list which symbols already have a live buy GTT, which are
fully allocated, and which would get a new order.

With --place the new orders are sent to the broker after confirmation.`,
		Example: `  gtt plan
  gtt plan --place
  gtt plan --place --dry-run --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			st, err := app.loadState(ctx, true)
			if err != nil {
				return err
			}
			report := app.plan(st)
			view := app.planView(st, report)

			place, _ := cmd.Flags().GetBool("place")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			dryRun = dryRun || app.Config.Sync.DryRun

			if !output.IsJSON() {
				printPlan(output, view)
			}

			if place && len(view.New) > 0 {
				ok, err := confirm(cmd, "Place GTT orders?")
				if err != nil {
					return err
				}
				if ok {
					res := app.reconciler(st).Reconcile(ctx, report.Plan(), st.gtts, dryRun)
					view.Reconcile = newReconcileView(res, dryRun)
					if !output.IsJSON() {
						printReconcile(output, view.Reconcile)
					}
				}
			}

			if output.IsJSON() {
				return output.JSON(view)
			}
			return nil
		},
	}

	cmd.Flags().Bool("place", false, "place new GTT orders after confirmation")
	cmd.Flags().Bool("dry-run", false, "log placements without calling the broker")
	cmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Plan and place GTT orders without prompting",
		Long: `Run a planning pass and place every new GTT order. Meant for cron: it never
prompts, and a failed placement is reported without stopping the rest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			st, err := app.loadState(ctx, true)
			if err != nil {
				return err
			}
			report := app.plan(st)

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			dryRun = dryRun || app.Config.Sync.DryRun

			res := app.reconciler(st).Reconcile(ctx, report.Plan(), st.gtts, dryRun)
			view := newReconcileView(res, dryRun)
			if output.IsJSON() {
				return output.JSON(view)
			}
			printReconcile(output, view)
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "log placements without calling the broker")
	return cmd
}

func (a *App) plan(st *brokerState) planner.Report {
	p := planner.New(a.Config.Planner.PriceCapFactor, a.Logger, a.Metrics)
	return p.PlanAll(st.watchlist.Entries, st.cache, planner.IndexHoldings(st.holdings))
}

func (a *App) reconciler(st *brokerState) *reconcile.Reconciler {
	return reconcile.New(st.broker, a.Config.Location(), a.Logger, a.Metrics)
}

func (a *App) planView(st *brokerState, report planner.Report) *planView {
	live := reconcile.LiveBuys(st.gtts, a.now(), a.Config.Location())
	view := &planView{
		Duplicates:     report.Duplicates,
		Existing:       []string{},
		FullyAllocated: []string{},
		New:            []models.OrderProposal{},
	}
	for _, rej := range st.watchlist.Rejected {
		view.Rejected = append(view.Rejected, rej.Error())
	}

	var capital []*money.Money
	for _, item := range report.Items {
		sym := models.NormalizeSymbol(item.Entry.Symbol)
		switch item.Outcome {
		case planner.FullyAllocated:
			view.FullyAllocated = append(view.FullyAllocated, sym)
		case planner.Proposed:
			if _, ok := live[sym]; ok {
				view.Existing = append(view.Existing, sym)
				continue
			}
			p := *item.Proposal
			view.New = append(view.New, p)
			capital = append(capital, utils.OrderValue(p.LimitPrice, p.Quantity))
		case planner.PriceUnavailable, planner.Invalid:
			view.Issues = append(view.Issues, issueView{Symbol: sym, Outcome: string(item.Outcome), Error: item.Err.Error()})
		}
	}

	view.CapitalRequired = utils.Rupees(utils.SumINR(capital...))
	return view
}

func printPlan(output *Output, view *planView) {
	output.Title("GTT Plan")

	if len(view.Duplicates) > 0 {
		output.WrappedList("Duplicate watchlist entries:", view.Duplicates, 80)
	}
	for _, r := range view.Rejected {
		output.Warning("  %s", r)
	}

	output.WrappedList("Order exists, skipping:", view.Existing, 80)
	output.WrappedList("All entry levels completed, skipping:", view.FullyAllocated, 80)

	if len(view.Issues) > 0 {
		output.Println()
		output.Bold("Not planned")
		for _, is := range view.Issues {
			output.Printf("  %-12s %s\n", is.Symbol, output.DimText(is.Error))
		}
	}

	output.Println()
	if len(view.New) == 0 {
		output.Info("No new GTT orders to place.")
		return
	}

	table := NewTable(output, "Symbol", "Order Price", "Trigger", "LTP", "Qty", "Amount", "Entry").AlignRight(1, 2, 3, 4, 5)
	for _, p := range view.New {
		table.AddRow(
			p.Symbol,
			fmt.Sprintf("%.2f", p.LimitPrice),
			fmt.Sprintf("%.2f", p.TriggerPrice),
			fmt.Sprintf("%.2f", p.ReferencePrice),
			utils.FormatQuantity(int64(p.Quantity)),
			utils.FormatMoney(utils.OrderValue(p.LimitPrice, p.Quantity)),
			p.EntryLevel,
		)
	}
	table.Render()

	output.Println()
	output.Bold("Capital required for new orders: %s", utils.FormatIndianCurrency(view.CapitalRequired))
}

func newReconcileView(res reconcile.Result, dryRun bool) *reconcileView {
	view := &reconcileView{
		RunID:   res.RunID,
		DryRun:  dryRun,
		Placed:  []string{},
		Skipped: []string{},
		Failed:  []string{},
	}
	for _, p := range res.Placed {
		view.Placed = append(view.Placed, p.Proposal.Symbol)
	}
	for _, s := range res.Skipped {
		view.Skipped = append(view.Skipped, fmt.Sprintf("%s (%s)", s.Proposal.Symbol, s.Reason))
	}
	for _, f := range res.Failed {
		view.Failed = append(view.Failed, fmt.Sprintf("%s: %v", f.Proposal.Symbol, f.Err))
	}
	return view
}

func printReconcile(output *Output, view *reconcileView) {
	output.Println()
	verb := "Placed"
	if view.DryRun {
		verb = "Would place (dry run)"
	}
	if len(view.Placed) > 0 {
		output.Success("%s %d GTT orders: %v", verb, len(view.Placed), view.Placed)
	} else {
		output.Info("Nothing to place.")
	}
	if len(view.Skipped) > 0 {
		output.Dim("Skipped %d: %v", len(view.Skipped), view.Skipped)
	}
	for _, f := range view.Failed {
		output.Error("Failed %s", f)
	}
	output.Dim("Run %s", view.RunID)
}
