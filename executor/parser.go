package executor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// TestEvent is one line of go test -json output.
type TestEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Elapsed float64
	Output  string
}

// testRecord accumulates the events of a single test function.
type testRecord struct {
	name   string
	status string
	output []string
}

// packageReport is the parsed view of one go test -json run.
type packageReport struct {
	// status is pass, fail, skip or empty when go test never reported
	status  string
	elapsed time.Duration
	tests   map[string]*testRecord
	order   []string
	output  []string
}

// fileLine strips the "file_test.go:12: " prefix testing adds to t.Log.
var fileLine = regexp.MustCompile(`^\s*[\w.\-]+\.go:\d+: `)

func parseEvents(output []byte) *packageReport {
	report := &packageReport{tests: make(map[string]*testRecord)}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var event TestEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			// build errors and the like are not JSON
			if line := strings.TrimRight(scanner.Text(), " \r\n"); line != "" {
				report.output = append(report.output, line)
			}
			continue
		}
		report.process(event)
	}
	return report
}

func (r *packageReport) process(event TestEvent) {
	if event.Action == ActionOutput {
		r.output = append(r.output, strings.TrimRight(event.Output, "\n"))
	}

	if event.Test == "" {
		switch event.Action {
		case ActionPass, ActionFail, ActionSkip:
			r.status = event.Action
			if event.Elapsed > 0 {
				r.elapsed = time.Duration(event.Elapsed * float64(time.Second))
			}
		}
		return
	}

	// subtests are reported through their parent
	if strings.Contains(event.Test, "/") {
		if event.Action == ActionOutput {
			parent := event.Test[:strings.Index(event.Test, "/")]
			r.test(parent).output = append(r.test(parent).output, strings.TrimRight(event.Output, "\n"))
		}
		return
	}

	rec := r.test(event.Test)
	switch event.Action {
	case ActionPass, ActionFail, ActionSkip:
		rec.status = event.Action
	case ActionOutput:
		rec.output = append(rec.output, strings.TrimRight(event.Output, "\n"))
	}
}

func (r *packageReport) test(name string) *testRecord {
	rec, ok := r.tests[name]
	if !ok {
		rec = &testRecord{name: name}
		r.tests[name] = rec
		r.order = append(r.order, name)
	}
	return rec
}

// count returns how many top-level tests ended with action.
func (r *packageReport) count(action string) int {
	n := 0
	for _, rec := range r.tests {
		if rec.status == action {
			n++
		}
	}
	return n
}

// failedTests lists failing top-level tests in the order they started.
func (r *packageReport) failedTests() []string {
	var names []string
	for _, name := range r.order {
		if r.tests[name].status == ActionFail {
			names = append(names, name)
		}
	}
	return names
}

// skipReasons returns the reason of every skipped test, in order.
func (r *packageReport) skipReasons() []string {
	var reasons []string
	for _, name := range r.order {
		rec := r.tests[name]
		if rec.status != ActionSkip {
			continue
		}
		reasons = append(reasons, rec.skipReason())
	}
	return reasons
}

// skipReason is the last message logged before the "--- SKIP" marker.
func (rec *testRecord) skipReason() string {
	reason := ""
	for _, line := range rec.output {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "=== ") || strings.HasPrefix(trimmed, "--- ") {
			continue
		}
		reason = strings.TrimSpace(fileLine.ReplaceAllString(line, ""))
	}
	return reason
}

// failureText is the output of a failing test without the === markers.
func (rec *testRecord) failureText() string {
	var lines []string
	for _, line := range rec.output {
		if strings.HasPrefix(strings.TrimSpace(line), "=== ") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
