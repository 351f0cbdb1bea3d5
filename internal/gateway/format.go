package gateway

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/sonic-agent/internal/strategy"
)

// FormatRun renders a strategy run as a numbered step report.
func FormatRun(def strategy.Definition, run strategy.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Strategy %s %s (run %s, start %s)\n", def.ID, run.Status, run.ID, run.StartAmount)
	for _, step := range run.Steps {
		label := step.Description
		if label == "" {
			label = step.ActionID
		}
		fmt.Fprintf(&b, "%d. %s", step.Index+1, label)
		if step.Amount != "" {
			fmt.Fprintf(&b, " [%s %s]", step.Amount, step.Token)
		}
		switch step.Status {
		case strategy.StepSuccess:
			fmt.Fprintf(&b, ": %s", step.Output)
		case strategy.StepFailed:
			fmt.Fprintf(&b, ": FAILED (%s) %s", step.ErrorKind, step.Error)
		}
		if len(step.TxHashes) > 0 {
			fmt.Fprintf(&b, " tx %s", strings.Join(step.TxHashes, ", "))
		}
		b.WriteByte('\n')
	}
	if run.Status != strategy.RunCompleted {
		if run.Error != "" {
			fmt.Fprintf(&b, "%s\n", run.Error)
		}
		remaining := len(def.Steps) - len(run.Steps)
		fmt.Fprintf(&b, "Stopped with %d of %d steps not run. Confirmed steps stay on-chain and were not rolled back.", remaining, len(def.Steps))
	}
	return strings.TrimRight(b.String(), "\n")
}

// PlainText lets CLI plain output print the narrative as is.
func (r Response) PlainText() string {
	return r.Text
}
