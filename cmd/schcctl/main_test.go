package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"example.com/schcgate/internal/ingest"
	"example.com/schcgate/internal/report"
	"example.com/schcgate/internal/schc"
	"example.com/schcgate/internal/schc/schctest"
	"example.com/schcgate/internal/telemetry"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func writeMessageDir(t *testing.T, dir, text string, drop int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	frags, err := schctest.New().Fragment([]byte(text))
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	for i, f := range frags {
		if i == drop {
			continue
		}
		inner, _ := json.Marshal(map[string]any{
			"Packets": []map[string]string{{"TerminalId": "1122334455667788", "Value": hex.EncodeToString(f)}},
		})
		body, _ := json.Marshal(map[string]string{"Data": string(inner)})
		rec, _, err := ingest.NewRecord(body, ts.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("NewRecord: %v", err)
		}
		data, _ := json.Marshal(rec)
		// Reverse file order so the directory listing is not the fragment order.
		name := fmt.Sprintf("data_%02d.json", len(frags)-i)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
}

func TestRunReassembleFromRecords(t *testing.T) {
	out := captureStdout(t)
	root := t.TempDir()
	in := filepath.Join(root, "records")
	writeMessageDir(t, in, "pressure=1013hPa wind=12kt gust=20kt", -1)

	resultPath := filepath.Join(root, "result.json")
	pdfPath := filepath.Join(root, "result.pdf")
	res, err := runReassemble(reassembleOptions{
		in:       in,
		out:      resultPath,
		pdf:      pdfPath,
		lang:     "es",
		ruleID:   -1,
		layout:   schc.DefaultLayout,
		deviceID: "flex_55667788",
	})
	if err != nil {
		t.Fatalf("runReassemble: %v", err)
	}
	if !res.Success || res.Message.Value != "pressure=1013hPa wind=12kt gust=20kt" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(out.String(), "Outcome: Verified") {
		t.Fatalf("output = %s", out.String())
	}
	rep, err := report.LoadResultJSON(resultPath)
	if err != nil {
		t.Fatalf("LoadResultJSON: %v", err)
	}
	if rep.DeviceID != "flex_55667788" || rep.Source != in {
		t.Fatalf("report = %+v", rep)
	}
	if info, err := os.Stat(pdfPath); err != nil || info.Size() == 0 {
		t.Fatalf("pdf missing: %v", err)
	}

	pdf2 := filepath.Join(root, "again.pdf")
	if err := runReport(resultPath, pdf2, "en"); err != nil {
		t.Fatalf("runReport: %v", err)
	}
	if _, err := os.Stat(pdf2); err != nil {
		t.Fatalf("report pdf: %v", err)
	}
}

func TestRunReassembleHexList(t *testing.T) {
	out := captureStdout(t)
	res, err := runReassemble(reassembleOptions{
		hexList: "7f4a17b156,41576f726c64000000",
		lang:    "en",
		ruleID:  1,
		layout:  schc.DefaultLayout,
	})
	if err != nil {
		t.Fatalf("runReassemble: %v", err)
	}
	if res.Success || !schc.IsKind(res.Error, schc.KindIncompleteSequence) {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(out.String(), "Missing FCNs: [0]") {
		t.Fatalf("output = %s", out.String())
	}
	// Both fragments carry rule id 1 in the header.
	if len(res.Anomalies) != 0 {
		t.Fatalf("anomalies = %+v", res.Anomalies)
	}

	if _, err := runReassemble(reassembleOptions{lang: "en", layout: schc.DefaultLayout}); err == nil {
		t.Fatalf("expected error without --in or --hex")
	}
	if _, err := runReassemble(reassembleOptions{hexList: "zz", lang: "en", ruleID: -1, layout: schc.DefaultLayout}); err == nil {
		t.Fatalf("expected error for bad hex")
	}
}

func TestRunBatch(t *testing.T) {
	out := captureStdout(t)
	root := t.TempDir()
	in := filepath.Join(root, "in")
	writeMessageDir(t, filepath.Join(in, "alpha"), "alpha station report, all sensors nominal", -1)
	writeMessageDir(t, filepath.Join(in, "beta"), "beta station report, battery low warning", 0)
	outDir := filepath.Join(root, "out")

	err := runBatch(in, outDir, 2, false, true, schc.DefaultLayout, false, telemetry.Nop{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	alpha, err := report.LoadResultJSON(filepath.Join(outDir, "alpha", "result.json"))
	if err != nil {
		t.Fatalf("alpha result: %v", err)
	}
	if alpha.Outcome != "Verified" {
		t.Fatalf("alpha outcome = %s", alpha.Outcome)
	}
	beta, err := report.LoadResultJSON(filepath.Join(outDir, "beta", "result.json"))
	if err != nil {
		t.Fatalf("beta result: %v", err)
	}
	if beta.Outcome != string(schc.KindIncompleteSequence) || len(beta.Result.MissingFCNs) != 1 {
		t.Fatalf("beta = %+v", beta)
	}
	text := out.String()
	if !strings.Contains(text, "Messages: 1 verified, 1 failed") || !strings.Contains(text, "Metrics:") {
		t.Fatalf("output = %s", text)
	}
}

func TestPrintFragment(t *testing.T) {
	f, err := schc.DecodeFragment([]byte{0x7F, 0x4A, 0x17, 0xB1, 0x56, 'h', 'i'}, "x")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	printFragment(&buf, f)
	text := buf.String()
	for _, want := range []string{"FCN", "63", "0x4A17B156", "6869"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestFragmentCmdRoundTrip(t *testing.T) {
	out := captureStdout(t)
	fragmentCmd([]string{"--text", "Hello World"})
	lines := strings.Fields(out.String())
	if len(lines) != 1 {
		t.Fatalf("fragments = %v", lines)
	}
	res, err := runReassemble(reassembleOptions{hexList: strings.Join(lines, ","), lang: "en", ruleID: -1, layout: schc.DefaultLayout})
	if err != nil {
		t.Fatalf("runReassemble: %v", err)
	}
	if !res.Success || res.Message.Value != "Hello World" {
		t.Fatalf("result = %+v", res)
	}
}

func TestLayoutFlags(t *testing.T) {
	rule, fcn := uint(3), uint(5)
	layout, err := layoutFlags{ruleBits: &rule, fcnBits: &fcn}.layout()
	if err != nil || layout.FCNBits != 5 {
		t.Fatalf("layout = %+v, %v", layout, err)
	}
	fcn = 6
	if _, err := (layoutFlags{ruleBits: &rule, fcnBits: &fcn}).layout(); err == nil {
		t.Fatalf("expected error for 9-bit header")
	}
}
