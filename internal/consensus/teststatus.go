package consensus

import (
	"blockerbot/internal/domain"
	"blockerbot/internal/patterns"
)

type TestStatus string

const (
	TestStatusUnknown TestStatus = "unknown"
	TestStatusPassed  TestStatus = "passed"
	TestStatusFailed  TestStatus = "failed"
	TestStatusFlaky   TestStatus = "flaky"
)

type TestResult struct {
	Status    TestStatus `json:"status"`
	Evidence  string     `json:"evidence,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
}

var testStatusByKind = map[patterns.Kind]TestStatus{
	patterns.KindTestPassed: TestStatusPassed,
	patterns.KindTestFailed: TestStatusFailed,
	patterns.KindTestFlaky:  TestStatusFlaky,
}

// ResolveTestStatus applies the same chronological walk to test-run chatter:
// the latest message with a test signal decides the status.
func ResolveTestStatus(msgs []domain.RawMessage) TestResult {
	result := TestResult{Status: TestStatusUnknown}
	Walk(msgs, func(m domain.RawMessage) {
		rule, ok := patterns.TestStatusTable.Best(m.Text)
		if !ok {
			return
		}
		result = TestResult{
			Status:    testStatusByKind[rule.Kind],
			Evidence:  domain.Excerpt(m.Text, resolutionExcerptLen),
			Timestamp: m.ID,
		}
	})
	return result
}
