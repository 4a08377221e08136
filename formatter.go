package multitest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-multitest/runner"
	"github.com/ethereum-optimism/infra/op-multitest/types"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(result *runner.RunResult) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults prints the summary of a run.
func (f *ConsoleResultFormatter) FormatResults(result *runner.RunResult) error {
	f.logger.Debug("Printing results...")
	_, err := io.WriteString(f.out, RenderSummary(result))
	return err
}

// RenderSummary renders the count table followed by the units that need
// attention.
func RenderSummary(result *runner.RunResult) string {
	var b strings.Builder

	t := table.NewWriter()
	t.SetOutputMirror(&b)
	t.SetTitle(fmt.Sprintf("Test Results (%s)", formatDuration(result.Duration)))
	t.AppendHeader(table.Row{"Outcome", "Units"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Units", Align: text.AlignRight},
	})

	for _, kind := range types.AllKinds {
		count := result.Results.Count(kind)
		if count == 0 {
			continue
		}
		t.AppendRow(table.Row{colorKind(kind), count})
	}
	if len(result.NotRun) > 0 {
		t.AppendRow(table.Row{text.FgYellow.Sprint("NOT_RUN"), len(result.NotRun)})
	}
	if len(result.Lost) > 0 {
		t.AppendRow(table.Row{text.FgRed.Sprint("WORKER_LOST"), len(result.Lost)})
	}
	t.AppendFooter(table.Row{"Total", result.Results.Total() + len(result.NotRun) + len(result.Lost)})
	t.Render()

	listUnits(&b, "failed", result.Results.Units(types.KindFailed))
	listUnits(&b, "altered the environment", result.Results.Units(types.KindEnvChanged))
	listUnits(&b, "had a resource denied", result.Results.Units(types.KindResourceDenied))
	listUnits(&b, "crashed the child process", result.Results.Units(types.KindChildError))
	listUnits(&b, "were interrupted", result.Results.Units(types.KindInterrupted))
	listUnits(&b, "did not run", result.NotRun)
	listUnits(&b, "lost their worker", lostUnits(result.Lost))

	fmt.Fprintf(&b, "\nResult: %s\n", verdict(result))
	return b.String()
}

func listUnits(b *strings.Builder, what string, units []string) {
	if len(units) == 0 {
		return
	}
	noun := "units"
	if len(units) == 1 {
		noun = "unit"
	}
	fmt.Fprintf(b, "\n%d %s %s:\n", len(units), noun, what)
	for _, u := range units {
		fmt.Fprintf(b, "    %s\n", u)
	}
}

func lostUnits(lost []runner.LostSlot) []string {
	out := make([]string, 0, len(lost))
	for _, l := range lost {
		unit := l.Unit
		if unit == "" {
			unit = "(none claimed)"
		}
		out = append(out, fmt.Sprintf("%s: %v", unit, l.Err))
	}
	return out
}

// verdict is the one-word result of a run, most severe first.
func verdict(result *runner.RunResult) string {
	switch {
	case result.Interrupted:
		return "INTERRUPTED"
	case result.Results.Count(types.KindChildError) > 0:
		return "CHILD_ERROR"
	case len(result.Lost) > 0:
		return "WORKER_LOST"
	case result.Results.Count(types.KindFailed) > 0:
		return "FAILURE"
	case result.Results.Count(types.KindEnvChanged) > 0:
		return "ENV_CHANGED"
	case result.Results.Total() == 0:
		return "NO TESTS RAN"
	default:
		return "SUCCESS"
	}
}

func colorKind(kind types.Kind) string {
	switch kind {
	case types.KindPassed:
		return text.FgGreen.Sprint(string(kind))
	case types.KindFailed, types.KindChildError:
		return text.FgRed.Sprint(string(kind))
	case types.KindEnvChanged, types.KindInterrupted, types.KindResourceDenied:
		return text.FgYellow.Sprint(string(kind))
	default:
		return string(kind)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Second).String()
}
