package batch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example.com/schcgate/internal/common"
	"example.com/schcgate/internal/ingest"
	"example.com/schcgate/internal/schc"
	"example.com/schcgate/internal/schc/schctest"
)

type countingRecorder struct {
	mu      sync.Mutex
	devices map[string]string
}

func (c *countingRecorder) Record(device string, res schc.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.devices == nil {
		c.devices = map[string]string{}
	}
	c.devices[device] = res.Outcome()
}

func (c *countingRecorder) Close() {}

func messages(t *testing.T, n int) map[string][]schc.RawFragment {
	t.Helper()
	out := make(map[string][]schc.RawFragment, n)
	fr := schctest.New()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("msg-%02d", i)
		frags, err := fr.Fragment([]byte(fmt.Sprintf("reading %d from station %d, sensor array nominal", i*7, i)))
		if err != nil {
			t.Fatal(err)
		}
		if i%4 == 3 {
			frags = frags[1:]
		}
		out[name] = schctest.Raw(frags, name)
	}
	return out
}

func newEngine(t *testing.T) *schc.Engine {
	t.Helper()
	e, err := schc.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestRunnerRun(t *testing.T) {
	msgs := messages(t, 12)
	metrics := common.NewMetrics()
	rec := &countingRecorder{}
	runner := NewRunner(newEngine(t), WithConcurrency(3), WithMetrics(metrics), WithRecorder(rec))

	var emitted []string
	outcomes, err := runner.Run(context.Background(), SliceJobs(msgs), func(o Outcome) error {
		emitted = append(emitted, o.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 12 || len(emitted) != 12 {
		t.Fatalf("outcomes = %d, emitted = %d", len(outcomes), len(emitted))
	}
	failed := 0
	for i, o := range outcomes {
		if want := fmt.Sprintf("msg-%02d", i); o.Name != want {
			t.Fatalf("outcome %d name = %q, want %q", i, o.Name, want)
		}
		if !o.Result.Success {
			failed++
			if !schc.IsKind(o.Result.Error, schc.KindIncompleteSequence) {
				t.Fatalf("%s: error = %v", o.Name, o.Result.Error)
			}
		}
	}
	if failed != 3 {
		t.Fatalf("failed = %d, want 3", failed)
	}
	snap := metrics.Snapshot()
	if snap.Messages != 12 || snap.Verified != 9 || snap.Outcomes["IncompleteSequence"] != 3 {
		t.Fatalf("metrics = %+v", snap)
	}
	if len(rec.devices) != 12 {
		t.Fatalf("recorded = %d", len(rec.devices))
	}
}

func TestRunnerEmitErrorStops(t *testing.T) {
	runner := NewRunner(newEngine(t), WithConcurrency(1))
	stop := errors.New("client went away")
	calls := 0
	_, err := runner.Run(context.Background(), SliceJobs(messages(t, 6)), func(Outcome) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Fatalf("emit calls = %d, want 1", calls)
	}
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := NewRunner(newEngine(t))
	_, err := runner.Run(ctx, SliceJobs(messages(t, 3)), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type brokenSupplier struct{}

func (brokenSupplier) Next() (schc.RawFragment, error) { return schc.RawFragment{}, errors.New("disk gone") }

func TestRunnerSupplierFailure(t *testing.T) {
	runner := NewRunner(newEngine(t))
	outcomes, err := runner.Run(context.Background(), []Job{{Name: "broken", Supplier: brokenSupplier{}}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcomes[0].Error != "disk gone" || outcomes[0].Result.Success {
		t.Fatalf("outcome = %+v", outcomes[0])
	}
}

func writeRecord(t *testing.T, dir, name string, frag []byte) {
	t.Helper()
	inner, _ := json.Marshal(map[string]interface{}{
		"Packets": []map[string]string{{"TerminalId": "00aa11bb22cc33dd", "Value": hex.EncodeToString(frag)}},
	})
	body, _ := json.Marshal(map[string]string{"Data": string(inner)})
	rec, _, err := ingest.NewRecord(body, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(rec)
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirJobs(t *testing.T) {
	root := t.TempDir()
	fr := schctest.New()
	for i, text := range []string{"first message over the satellite link", "second"} {
		dir := filepath.Join(root, fmt.Sprintf("dev%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		frags, err := fr.Fragment([]byte(text))
		if err != nil {
			t.Fatal(err)
		}
		for j, f := range frags {
			writeRecord(t, dir, fmt.Sprintf("data_%02d.json", len(frags)-j), f)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "dev1", "zz.json"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	jobs, err := DirJobs(root)
	if err != nil {
		t.Fatalf("DirJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Name != "dev0" || jobs[1].Name != "dev1" {
		t.Fatalf("jobs = %+v", jobs)
	}
	outcomes, err := NewRunner(newEngine(t), WithConcurrency(2)).Run(context.Background(), jobs, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcomes[0].Result.Success || outcomes[0].Result.Message.Value != "first message over the satellite link" {
		t.Fatalf("dev0 = %+v", outcomes[0].Result)
	}
	if !outcomes[1].Result.Success || len(outcomes[1].Skipped) != 1 {
		t.Fatalf("dev1 = %+v", outcomes[1])
	}
}
