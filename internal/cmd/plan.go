package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/graph"
	"github.com/Iron-Ham/storyloop/internal/orchestrator"
	"github.com/Iron-Ham/storyloop/internal/plan"
	"github.com/Iron-Ham/storyloop/internal/render"
)

var planCmd = &cobra.Command{
	Use:   "plan [plan]",
	Short: "Validate a plan and show its schedule",
	Long: `Plan validates the plan document and prints the batches it would
run in, the critical path and any warnings, without executing anything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

var planJSON bool

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the schedule as JSON")
}

type planOutput struct {
	Warnings     []plan.Message `json:"warnings,omitempty"`
	Batches      [][]string     `json:"batches"`
	CriticalPath []string       `json:"critical_path"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	out := cmd.OutOrStdout()
	p, err := plan.Load(e.planPath(args))
	var verr *plan.ValidationError
	if errors.As(err, &verr) {
		for _, m := range verr.Result.Messages {
			fmt.Fprintln(cmd.ErrOrStderr(), m.String())
		}
	}
	if err != nil {
		return err
	}

	a, err := graph.Analyze(p)
	if err != nil {
		return err
	}
	warnings := planWarnings(p, e.registry())

	if planJSON {
		result := planOutput{Warnings: warnings, CriticalPath: a.CriticalPath}
		for _, b := range a.Batches {
			result.Batches = append(result.Batches, b.IDs())
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for _, w := range warnings {
		fmt.Fprintln(out, render.Warning.Render(w.String()))
	}
	render.Schedule(out, a)
	return nil
}

// planWarnings returns the plan's validation warnings plus one for every
// item whose worker is not configured.
func planWarnings(p *plan.WorkPlan, workers orchestrator.WorkerRegistry) []plan.Message {
	warnings := plan.Validate(p).Warnings()
	for _, item := range p.Items {
		if _, ok := workers.Worker(item.Worker); ok {
			continue
		}
		name := item.Worker
		if name == "" {
			name = orchestrator.DefaultWorkerName
		}
		warnings = append(warnings, plan.Message{
			Severity: plan.SeverityWarning,
			ItemID:   item.ID,
			Field:    "worker",
			Message:  fmt.Sprintf("worker %q is not configured; the item will fail", name),
		})
	}
	return warnings
}
