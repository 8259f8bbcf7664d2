package replay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geodiff-tools/registry-replay/metrics"
	"github.com/geodiff-tools/registry-replay/registry"
	"github.com/geodiff-tools/registry-replay/report"
)

// mockClient records every call and pops queued errors per call
// signature ("insert", "update:<key>", "delete:<key>").
type mockClient struct {
	mu    sync.Mutex
	calls []string
	errs  map[string][]error
	hook  func(call string)
	gap   time.Duration
}

func (m *mockClient) invoke(call string) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	var err error
	if q := m.errs[call]; len(q) > 0 {
		err = q[0]
		m.errs[call] = q[1:]
	}
	hook := m.hook
	gap := m.gap
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if gap > 0 {
		time.Sleep(gap)
	}
	return err
}

func (m *mockClient) Create(ctx context.Context, fields map[string]any) (string, error) {
	if err := m.invoke("insert"); err != nil {
		return "", err
	}
	return "remote-id", nil
}

func (m *mockClient) Update(ctx context.Context, key string, fields map[string]any) error {
	return m.invoke("update:" + key)
}

func (m *mockClient) Delete(ctx context.Context, key string) error {
	return m.invoke("delete:" + key)
}

func (m *mockClient) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func fastOptions() Options {
	return Options{
		Concurrency:    1,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func transientErr(msg string) error {
	return &registry.Error{Transient: true, Status: 429, Message: msg}
}

func permanentErr(msg string) error {
	return &registry.Error{Status: 422, Message: msg}
}

func TestRunOutcomesMatchReportOrder(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpInsert, Key: "X", Fields: map[string]any{"n": 1}},
			{Op: report.OpDelete, Key: "A"},
			{Op: report.OpUpdate, Key: "B", Fields: map[string]any{"n": 2}},
			{Op: report.OpInsert, Key: "Y", Fields: map[string]any{"n": 3}},
			{Op: report.OpDelete, Key: "C"},
		},
	}

	client := &mockClient{}
	engine := NewEngine(client, fastOptions(), metrics.New())

	summary, err := engine.Run(context.Background(), rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Total != len(rep.Changes) {
		t.Fatalf("expected %d outcomes, got %d", len(rep.Changes), summary.Total)
	}
	for i, o := range summary.Outcomes {
		if o.Key != rep.Changes[i].Key || o.Op != rep.Changes[i].Op {
			t.Errorf("outcome %d is %s/%s, want %s/%s", i, o.Op, o.Key, rep.Changes[i].Op, rep.Changes[i].Key)
		}
		if o.Status != StatusApplied {
			t.Errorf("outcome %d status %s, want %s", i, o.Status, StatusApplied)
		}
	}
	if summary.Applied != 5 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("unexpected counts: %+v", summary)
	}
}

func TestRunConflictingReportMakesNoCalls(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpDelete, Key: "A"},
			{Op: report.OpInsert, Key: "A", Fields: map[string]any{"n": 1}},
		},
	}

	client := &mockClient{}
	engine := NewEngine(client, fastOptions(), metrics.New())

	_, err := engine.Run(context.Background(), rep)
	if err == nil {
		t.Fatal("expected conflict error but got none")
	}
	var conflict *report.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Key != "A" {
		t.Errorf("conflict key %q, want %q", conflict.Key, "A")
	}
	if calls := client.callList(); len(calls) != 0 {
		t.Errorf("expected zero registry calls, got %v", calls)
	}
}

func TestRunRetriesTransientThenApplies(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpUpdate, Key: "A", Fields: map[string]any{"n": 1}},
		},
	}

	client := &mockClient{
		errs: map[string][]error{
			"update:A": {transientErr("rate limited"), transientErr("rate limited")},
		},
	}
	engine := NewEngine(client, fastOptions(), metrics.New())

	summary, err := engine.Run(context.Background(), rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Outcomes[0].Status != StatusApplied {
		t.Fatalf("status %s, want %s (detail: %s)", summary.Outcomes[0].Status, StatusApplied, summary.Outcomes[0].Detail)
	}
	if calls := client.callList(); len(calls) != 3 {
		t.Errorf("expected 3 invocations (2 transient failures + success), got %d", len(calls))
	}
}

func TestRunPermanentErrorFailsWithoutRetry(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpDelete, Key: "A"},
		},
	}

	client := &mockClient{
		errs: map[string][]error{
			"delete:A": {permanentErr("unknown key"), permanentErr("unknown key"), permanentErr("unknown key")},
		},
	}
	engine := NewEngine(client, fastOptions(), metrics.New())

	summary, err := engine.Run(context.Background(), rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out := summary.Outcomes[0]
	if out.Status != StatusFailed {
		t.Fatalf("status %s, want %s", out.Status, StatusFailed)
	}
	if !strings.Contains(out.Detail, "unknown key") {
		t.Errorf("detail %q does not carry the registry message", out.Detail)
	}
	if calls := client.callList(); len(calls) != 1 {
		t.Errorf("expected exactly 1 invocation, got %d", len(calls))
	}
}

func TestRunRetryExhaustionFails(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpUpdate, Key: "A", Fields: map[string]any{"n": 1}},
		},
	}

	client := &mockClient{
		errs: map[string][]error{
			"update:A": {transientErr("timeout"), transientErr("timeout"), transientErr("timeout")},
		},
	}
	engine := NewEngine(client, fastOptions(), metrics.New())

	summary, err := engine.Run(context.Background(), rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Outcomes[0].Status != StatusFailed {
		t.Fatalf("status %s, want %s", summary.Outcomes[0].Status, StatusFailed)
	}
	if calls := client.callList(); len(calls) != 3 {
		t.Errorf("expected 3 invocations before giving up, got %d", len(calls))
	}
}

func TestRunRecordFailureDoesNotBlockSiblings(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpDelete, Key: "A"},
			{Op: report.OpDelete, Key: "B"},
			{Op: report.OpInsert, Key: "C", Fields: map[string]any{"n": 1}},
		},
	}

	client := &mockClient{
		errs: map[string][]error{
			"delete:A": {permanentErr("rejected")},
		},
	}
	engine := NewEngine(client, fastOptions(), metrics.New())

	summary, err := engine.Run(context.Background(), rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []Status{StatusFailed, StatusApplied, StatusApplied}
	for i, status := range want {
		if summary.Outcomes[i].Status != status {
			t.Errorf("outcome %d status %s, want %s", i, summary.Outcomes[i].Status, status)
		}
	}
	if summary.Applied != 2 || summary.Failed != 1 {
		t.Errorf("unexpected counts: %+v", summary)
	}
}

func TestRunBucketBarrier(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpInsert, Key: "i1", Fields: map[string]any{"n": 1}},
			{Op: report.OpDelete, Key: "d1"},
			{Op: report.OpUpdate, Key: "u1", Fields: map[string]any{"n": 2}},
			{Op: report.OpInsert, Key: "i2", Fields: map[string]any{"n": 3}},
			{Op: report.OpDelete, Key: "d2"},
			{Op: report.OpUpdate, Key: "u2", Fields: map[string]any{"n": 4}},
			{Op: report.OpDelete, Key: "d3"},
		},
	}

	client := &mockClient{gap: 2 * time.Millisecond}
	opts := fastOptions()
	opts.Concurrency = 4
	engine := NewEngine(client, opts, metrics.New())

	summary, err := engine.Run(context.Background(), rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Applied != len(rep.Changes) {
		t.Fatalf("expected all applied, got %+v", summary)
	}

	phase := func(call string) int {
		switch {
		case strings.HasPrefix(call, "delete:"):
			return 0
		case strings.HasPrefix(call, "update:"):
			return 1
		default:
			return 2
		}
	}
	calls := client.callList()
	for i := 1; i < len(calls); i++ {
		if phase(calls[i]) < phase(calls[i-1]) {
			t.Fatalf("bucket order violated: %v", calls)
		}
	}
}

func TestRunWorkedExample(t *testing.T) {
	rep, err := report.Parse([]byte(`{"changes":[{"op":"delete","key":"A"},{"op":"insert","key":"B","fields":{"x":1}}]}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	client := &mockClient{}
	engine := NewEngine(client, fastOptions(), metrics.New())

	summary, err := engine.Run(context.Background(), rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Total != 2 || summary.Applied != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	want := []Outcome{
		{Key: "A", Op: report.OpDelete, Status: StatusApplied},
		{Key: "B", Op: report.OpInsert, Status: StatusApplied},
	}
	for i, w := range want {
		if summary.Outcomes[i] != w {
			t.Errorf("outcome %d = %+v, want %+v", i, summary.Outcomes[i], w)
		}
	}
}

func TestRunEmptyReport(t *testing.T) {
	client := &mockClient{}
	engine := NewEngine(client, fastOptions(), metrics.New())

	summary, err := engine.Run(context.Background(), report.Report{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Total != 0 || summary.Applied != 0 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.Outcomes == nil || len(summary.Outcomes) != 0 {
		t.Errorf("expected empty outcome list, got %#v", summary.Outcomes)
	}
}

func TestRunDryRunSkipsEverything(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpDelete, Key: "A"},
			{Op: report.OpInsert, Key: "B", Fields: map[string]any{"n": 1}},
		},
	}

	client := &mockClient{}
	opts := fastOptions()
	opts.DryRun = true
	engine := NewEngine(client, opts, metrics.New())

	summary, err := engine.Run(context.Background(), rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Skipped != 2 || summary.Applied != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	for _, o := range summary.Outcomes {
		if o.Status != StatusSkipped || o.Detail != "dry run" {
			t.Errorf("unexpected outcome: %+v", o)
		}
	}
	if calls := client.callList(); len(calls) != 0 {
		t.Errorf("expected zero registry calls, got %v", calls)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := report.Report{
		Changes: []report.ChangeRecord{{Op: report.OpDelete, Key: "A"}},
	}
	engine := NewEngine(&mockClient{}, fastOptions(), metrics.New())

	if _, err := engine.Run(ctx, rep); err == nil {
		t.Fatal("expected error for pre-cancelled context")
	}
}

func TestRunCancellationSkipsUndispatchedRecords(t *testing.T) {
	rep := report.Report{
		Changes: []report.ChangeRecord{
			{Op: report.OpDelete, Key: "A"},
			{Op: report.OpDelete, Key: "B"},
			{Op: report.OpDelete, Key: "C"},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &mockClient{
		hook: func(call string) {
			if call == "delete:A" {
				cancel()
				// Keep the only worker busy so the dispatcher observes
				// the cancellation before another record can be sent.
				time.Sleep(50 * time.Millisecond)
			}
		},
	}
	engine := NewEngine(client, fastOptions(), metrics.New())

	summary, err := engine.Run(ctx, rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Outcomes[0].Status != StatusApplied {
		t.Errorf("in-flight record should finish as Applied, got %+v", summary.Outcomes[0])
	}
	for _, o := range summary.Outcomes[1:] {
		if o.Status != StatusSkipped {
			t.Errorf("undispatched record %s should be Skipped, got %s", o.Key, o.Status)
		}
	}
	if calls := client.callList(); len(calls) != 1 {
		t.Errorf("expected a single registry call, got %v", calls)
	}
}
