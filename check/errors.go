package check

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// DuplicateEntry is the reason reported for a unique value found in two mounts.
const DuplicateEntry = "duplicate unique index entry"

// Report describes one inconsistency between two mounted stores.
type Report struct {
	Mount      string
	Path       string
	OtherMount string
	OtherPath  string
	Value      string
	Reason     string
}

func (r Report) Error() string {
	return fmt.Sprintf("Mount '%s', path '%s', and mount '%s', path '%s', clash for value %s: '%s'",
		r.Mount, r.Path, r.OtherMount, r.OtherPath, r.Value, r.Reason)
}

// ErrorHolder collects reports produced by checkers. It is safe for
// concurrent use.
type ErrorHolder struct {
	mu      sync.Mutex
	reports []Report
}

// Report appends a report.
func (h *ErrorHolder) Report(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
}

// Reports returns a copy of the collected reports in report order.
func (h *ErrorHolder) Reports() []Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Report, len(h.reports))
	copy(out, h.reports)
	return out
}

// Len returns the number of collected reports.
func (h *ErrorHolder) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reports)
}

// End returns nil when nothing was reported, otherwise a *multierror.Error
// holding every report whose message starts with "N errors were found".
func (h *ErrorHolder) End() error {
	reports := h.Reports()
	if len(reports) == 0 {
		return nil
	}

	var result *multierror.Error
	for _, r := range reports {
		result = multierror.Append(result, r)
	}
	result.ErrorFormat = formatReports
	return result
}

func formatReports(errs []error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors were found:", len(errs))
	for _, err := range errs {
		b.WriteString("\n\t* ")
		b.WriteString(err.Error())
	}
	return b.String()
}
