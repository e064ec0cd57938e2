// Recording diagnostic sink for rxcore tests
// 记录型诊断接收器：断言被隔离的故障
package rxtest

import (
	"sync"
	"testing"

	"github.com/xinjiayu/rxcore"
)

// RecordingSink 记录所有上报的故障
type RecordingSink struct {
	mu     sync.Mutex
	faults []rxcore.Fault
}

// Report appends the fault.
func (s *RecordingSink) Report(fault rxcore.Fault) {
	s.mu.Lock()
	s.faults = append(s.faults, fault)
	s.mu.Unlock()
}

// Faults returns a snapshot copy of recorded faults.
func (s *RecordingSink) Faults() []rxcore.Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]rxcore.Fault, len(s.faults))
	copy(cp, s.faults)
	return cp
}

// Count 指定类别的故障数量
func (s *RecordingSink) Count(kind rxcore.FaultKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.faults {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// InstallSink makes a new RecordingSink the process-wide diagnostic sink for
// the duration of the test.
//
// Tests using it must not run in parallel with other tests that inspect faults.
func InstallSink(tb testing.TB) *RecordingSink {
	tb.Helper()
	sink := &RecordingSink{}
	old := rxcore.SetDiagnosticSink(sink)
	tb.Cleanup(func() { rxcore.SetDiagnosticSink(old) })
	return sink
}
