package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"example.com/schcgate/internal/batch"
	"example.com/schcgate/internal/common"
	"example.com/schcgate/internal/ingest"
	"example.com/schcgate/internal/report"
	"example.com/schcgate/internal/schc"
	"example.com/schcgate/internal/schc/schctest"
	"example.com/schcgate/internal/telemetry"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "fragment":
		fragmentCmd(os.Args[2:])
	case "reassemble":
		reassembleCmd(os.Args[2:])
	case "batch":
		batchCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`schcctl %s (built %s) <command> [options]

Commands:
  decode     --hex <fragment hex> [--rule-bits 2 --fcn-bits 6]
  fragment   (--text <message> | --hex <payload hex>) [--mtu 20] [--rule-id 1]
  reassemble (--in <record dir> | --hex <hex,hex,...>) [--out <result.json>] [--pdf <report.pdf>] [--lang en|es] [--no-depad] [--rule-id <n>]
  batch      --in <records root> --out-dir <dir> [--concurrency N] [--progress] [--metrics] [--influx-url <url> ...]
  report     --result <result.json> --pdf <report.pdf> [--lang en|es]
`, version, buildDate)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type layoutFlags struct {
	ruleBits *uint
	fcnBits  *uint
}

func addLayoutFlags(fs *flag.FlagSet) layoutFlags {
	return layoutFlags{
		ruleBits: fs.Uint("rule-bits", uint(schc.DefaultLayout.RuleIDBits), "rule id width in bits"),
		fcnBits:  fs.Uint("fcn-bits", uint(schc.DefaultLayout.FCNBits), "FCN width in bits"),
	}
}

func (l layoutFlags) layout() (schc.Layout, error) {
	if *l.ruleBits > 8 || *l.fcnBits > 8 {
		return schc.Layout{}, fmt.Errorf("%w: widths must be at most 8 bits", schc.ErrInvalidLayout)
	}
	layout := schc.Layout{RuleIDBits: uint8(*l.ruleBits), FCNBits: uint8(*l.fcnBits)}
	return layout, layout.Validate()
}

func decodeCmd(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	hexValue := fs.String("hex", "", "fragment bytes as hex")
	lf := addLayoutFlags(fs)
	fs.Parse(args)
	if *hexValue == "" {
		fail("required: --hex")
	}
	layout, err := lf.layout()
	if err != nil {
		fail("layout: %v", err)
	}
	data, err := ingest.DecodeValue(*hexValue)
	if err != nil {
		fail("decode: %v", err)
	}
	f, err := layout.DecodeFragment(data, "cli")
	if err != nil {
		fail("decode: %v", err)
	}
	printFragment(stdout, f)
}

func printFragment(w io.Writer, f schc.Fragment) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Rule ID\t%d\n", f.RuleID)
	fmt.Fprintf(tw, "FCN\t%d\n", f.FCN)
	fmt.Fprintf(tw, "Final\t%v\n", f.IsFinal)
	if f.IsFinal {
		fmt.Fprintf(tw, "RCS\t0x%08X\n", f.Checksum)
	}
	fmt.Fprintf(tw, "Payload\t%d bytes\n", f.PayloadLen())
	fmt.Fprintf(tw, "Payload hex\t%s\n", hex.EncodeToString(f.Payload()))
	tw.Flush()
}

func fragmentCmd(args []string) {
	fs := flag.NewFlagSet("fragment", flag.ExitOnError)
	text := fs.String("text", "", "message text")
	hexPayload := fs.String("hex", "", "message bytes as hex")
	mtu := fs.Int("mtu", schctest.DefaultMTU, "fragment size in bytes")
	ruleID := fs.Uint("rule-id", 1, "rule id written to every header")
	noPad := fs.Bool("no-pad", false, "do not zero-pad fragments to the MTU")
	lf := addLayoutFlags(fs)
	fs.Parse(args)
	if (*text == "") == (*hexPayload == "") {
		fail("exactly one of --text or --hex is required")
	}
	layout, err := lf.layout()
	if err != nil {
		fail("layout: %v", err)
	}
	msg := []byte(*text)
	if *hexPayload != "" {
		msg, err = ingest.DecodeValue(*hexPayload)
		if err != nil {
			fail("payload: %v", err)
		}
	}
	if *ruleID >= 1<<layout.RuleIDBits {
		fail("rule id %d does not fit in %d bits", *ruleID, layout.RuleIDBits)
	}
	fr := schctest.Fragmenter{MTU: *mtu, RuleID: uint8(*ruleID), Layout: layout, NoPad: *noPad}
	frags, err := fr.Fragment(msg)
	if err != nil {
		fail("fragment: %v", err)
	}
	for _, f := range frags {
		fmt.Fprintln(stdout, hex.EncodeToString(f))
	}
}

type reassembleOptions struct {
	in       string
	hexList  string
	out      string
	pdf      string
	lang     string
	noDepad  bool
	ruleID   int
	layout   schc.Layout
	deviceID string
}

func reassembleCmd(args []string) {
	fs := flag.NewFlagSet("reassemble", flag.ExitOnError)
	var opts reassembleOptions
	fs.StringVar(&opts.in, "in", "", "directory of stored webhook records")
	fs.StringVar(&opts.hexList, "hex", "", "comma-separated fragment hex values")
	fs.StringVar(&opts.out, "out", "", "write the result JSON here")
	fs.StringVar(&opts.pdf, "pdf", "", "write a PDF report here")
	fs.StringVar(&opts.lang, "lang", "en", "report language (en, es)")
	fs.BoolVar(&opts.noDepad, "no-depad", false, "keep trailing zero bytes of every fragment")
	fs.IntVar(&opts.ruleID, "rule-id", -1, "expected rule id; mismatches are reported as anomalies")
	fs.StringVar(&opts.deviceID, "device", "", "device id recorded in the report")
	lf := addLayoutFlags(fs)
	fs.Parse(args)
	layout, err := lf.layout()
	if err != nil {
		fail("layout: %v", err)
	}
	opts.layout = layout
	res, err := runReassemble(opts)
	if err != nil {
		fail("reassemble: %v", err)
	}
	if !res.Success {
		os.Exit(2)
	}
}

func engineOptions(layout schc.Layout, noDepad bool, ruleID int) []schc.Option {
	opts := []schc.Option{schc.WithLayout(layout)}
	if noDepad {
		opts = append(opts, schc.WithDepadder(schc.NoDepadding))
	}
	if ruleID >= 0 {
		if ruleID > 255 {
			ruleID = 255
		}
		opts = append(opts, schc.WithExpectedRuleID(uint8(ruleID)))
	}
	return opts
}

func runReassemble(opts reassembleOptions) (schc.Result, error) {
	if (opts.in == "") == (opts.hexList == "") {
		return schc.Result{}, errors.New("exactly one of --in or --hex is required")
	}
	lang, err := report.ParseLanguage(opts.lang)
	if err != nil {
		return schc.Result{}, err
	}
	engine, err := schc.NewEngine(engineOptions(opts.layout, opts.noDepad, opts.ruleID)...)
	if err != nil {
		return schc.Result{}, err
	}

	var supplier schc.Supplier
	source := opts.in
	var dir *ingest.DirSupplier
	if opts.in != "" {
		dir, err = ingest.OpenDir(opts.in)
		if err != nil {
			return schc.Result{}, err
		}
		supplier = dir
	} else {
		source = "cli"
		var raw []schc.RawFragment
		for i, v := range strings.Split(opts.hexList, ",") {
			data, err := ingest.DecodeValue(v)
			if err != nil {
				return schc.Result{}, fmt.Errorf("fragment %d: %w", i, err)
			}
			raw = append(raw, schc.RawFragment{Data: data, Ref: fmt.Sprintf("arg-%d", i)})
		}
		supplier = schc.NewSliceSupplier(raw...)
	}

	res, err := engine.RunSupplier(supplier)
	if err != nil {
		return res, err
	}
	if dir != nil {
		for _, s := range dir.Skipped {
			fmt.Fprintf(stdout, "Skipped %s: %s\n", s.Path, s.Error)
		}
	}
	printResult(stdout, res)

	rep := report.NewResultReport("schcctl", source, engine.Layout(), res, time.Now())
	rep.DeviceID = opts.deviceID
	if opts.out != "" {
		if err := report.SaveResultJSON(rep, opts.out); err != nil {
			return res, fmt.Errorf("write result: %w", err)
		}
		fmt.Fprintln(stdout, "Wrote result:", opts.out)
	}
	if opts.pdf != "" {
		if err := report.SaveResultPDF(rep, opts.pdf, lang); err != nil {
			return res, fmt.Errorf("write pdf: %w", err)
		}
		fmt.Fprintln(stdout, "Wrote PDF:", opts.pdf)
	}
	return res, nil
}

func printResult(w io.Writer, res schc.Result) {
	fmt.Fprintf(w, "Outcome: %s (fragments=%d", res.Outcome(), res.Fragments)
	if res.Sequence != nil {
		fmt.Fprintf(w, ", sequence=%v", res.Sequence)
	}
	fmt.Fprintln(w, ")")
	if len(res.MissingFCNs) > 0 {
		fmt.Fprintf(w, "Missing FCNs: %v\n", res.MissingFCNs)
	}
	if res.Checksum != nil {
		fmt.Fprintln(w, "Checksum:", res.Checksum)
	}
	for _, a := range res.Anomalies {
		fmt.Fprintf(w, "Anomaly: %s fcn=%d %s\n", a.Kind, a.FCN, a.Message)
	}
	for _, m := range res.Malformed {
		fmt.Fprintf(w, "Malformed: %s %s\n", m.Ref, m.Message)
	}
	if res.Message != nil {
		label := "Message"
		if res.Message.BestEffort {
			label = "Message (unverified)"
		}
		fmt.Fprintf(w, "%s [%s]: %s\n", label, res.Message.Kind, res.Message.Value)
	} else if res.Error != nil {
		fmt.Fprintln(w, "Error:", res.Error.Message)
	}
}

type influxFlags struct {
	url    *string
	token  *string
	org    *string
	bucket *string
}

func (f influxFlags) recorder() telemetry.Recorder {
	if *f.url == "" {
		return telemetry.Nop{}
	}
	return telemetry.NewInflux(*f.url, *f.token, *f.org, *f.bucket)
}

func batchCmd(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := fs.String("in", ".", "root directory; each sub-directory holding records is one message")
	outDir := fs.String("out-dir", "out", "results directory")
	concurrency := fs.Int("concurrency", runtime.NumCPU(), "maximum concurrent messages")
	progressFlag := fs.Bool("progress", false, "display progress updates")
	metricsFlag := fs.Bool("metrics", false, "print batch metrics")
	noDepad := fs.Bool("no-depad", false, "keep trailing zero bytes of every fragment")
	verbose := fs.Bool("v", false, "log every message")
	influx := influxFlags{
		url:    fs.String("influx-url", "", "InfluxDB URL for reassembly telemetry"),
		token:  fs.String("influx-token", "", "InfluxDB token"),
		org:    fs.String("influx-org", "", "InfluxDB organization"),
		bucket: fs.String("influx-bucket", "schc", "InfluxDB bucket"),
	}
	lf := addLayoutFlags(fs)
	fs.Parse(args)
	layout, err := lf.layout()
	if err != nil {
		fail("layout: %v", err)
	}
	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	recorder := influx.recorder()
	defer recorder.Close()
	if err := runBatch(*inDir, *outDir, *concurrency, *progressFlag, *metricsFlag, layout, *noDepad, recorder, logger); err != nil {
		fail("batch: %v", err)
	}
}

func runBatch(inDir, outDir string, concurrency int, progress, showMetrics bool, layout schc.Layout, noDepad bool, recorder telemetry.Recorder, logger zerolog.Logger) error {
	engine, err := schc.NewEngine(engineOptions(layout, noDepad, -1)...)
	if err != nil {
		return err
	}
	jobs, err := batch.DirJobs(inDir)
	if err != nil {
		return err
	}
	metrics := common.NewMetrics()
	runner := batch.NewRunner(engine,
		batch.WithConcurrency(concurrency),
		batch.WithMetrics(metrics),
		batch.WithRecorder(recorder),
		batch.WithLogger(logger),
	)
	var stopProgress func()
	if progress {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	outcomes, err := runner.Run(context.Background(), jobs, nil)
	if stopProgress != nil {
		stopProgress()
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MESSAGE\tOUTCOME\tFRAGMENTS\tBYTES\tRESULT")
	for _, o := range outcomes {
		outcome := o.Result.Outcome()
		if o.Error != "" {
			outcome = "SupplierError"
		}
		dest := filepath.Join(outDir, filepath.FromSlash(o.Name), "result.json")
		rep := report.NewResultReport("schcctl", filepath.Join(inDir, filepath.FromSlash(o.Name)), layout, o.Result, time.Now())
		if err := report.SaveResultJSON(rep, dest); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", o.Name, outcome, o.Result.Fragments, o.Result.PayloadLength, dest)
	}
	tw.Flush()
	snap := metrics.Snapshot()
	fmt.Fprintf(stdout, "Messages: %d verified, %d failed (%s)\n", snap.Verified, snap.Failed(), snap.OutcomeSummary())
	if showMetrics {
		fmt.Fprintf(stdout, "Metrics: duration=%s fragments=%d payload=%s rate=%.1f msg/s\n",
			snap.Duration.Round(time.Millisecond),
			snap.Fragments,
			common.FormatBytes(snap.Bytes),
			snap.MessagesPerSecond(),
		)
	}
	return nil
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	resultPath := fs.String("result", "", "result.json written by reassemble or batch")
	pdfPath := fs.String("pdf", "", "output PDF")
	lang := fs.String("lang", "en", "report language (en, es)")
	fs.Parse(args)
	if *resultPath == "" || *pdfPath == "" {
		fail("required: --result and --pdf")
	}
	if err := runReport(*resultPath, *pdfPath, *lang); err != nil {
		fail("report: %v", err)
	}
}

func runReport(resultPath, pdfPath, lang string) error {
	l, err := report.ParseLanguage(lang)
	if err != nil {
		return err
	}
	rep, err := report.LoadResultJSON(resultPath)
	if err != nil {
		return fmt.Errorf("load result: %w", err)
	}
	if err := report.SaveResultPDF(rep, pdfPath, l); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	fmt.Fprintln(stdout, "Wrote PDF:", pdfPath)
	return nil
}
