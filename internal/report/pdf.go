package report

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/schcgate/internal/schc"
)

const qrImageName = "payload-qr"

// SaveResultPDF renders rep into a PDF file in the requested language.
func SaveResultPDF(rep ResultReport, out string, lang Language) error {
	pdf, err := renderResultPDF(rep, lang)
	if err != nil {
		return err
	}
	return pdf.OutputFileAndClose(out)
}

// WriteResultPDF renders rep into w.
func WriteResultPDF(w io.Writer, rep ResultReport, lang Language) error {
	pdf, err := renderResultPDF(rep, lang)
	if err != nil {
		return err
	}
	return pdf.Output(w)
}

type pdfWriter struct {
	pdf *gofpdf.Fpdf
	tr  Translator
	enc func(string) string
}

func renderResultPDF(rep ResultReport, lang Language) (*gofpdf.Fpdf, error) {
	tr := NewTranslator(lang)
	pdf := gofpdf.New("P", "mm", "A4", "")
	w := &pdfWriter{pdf: pdf, tr: tr, enc: pdf.UnicodeTranslatorFromDescriptor("")}
	title := tr.T("title")
	pdf.SetTitle(title, true)
	pdf.SetAuthor(emptyFallback(rep.Tool, "schcgate"), true)
	pdf.SetCreator("schcgate", true)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	w.title(title)
	w.summary(rep)
	w.checksum(rep.Result)
	w.message(rep.Result)
	w.anomalies(rep.Result)
	if rep.PayloadSHA256 != "" {
		if err := w.payloadHash(rep.PayloadSHA256); err != nil {
			return nil, err
		}
	}
	if pdf.Err() {
		return nil, pdf.Error()
	}
	return pdf, nil
}

func (w *pdfWriter) title(title string) {
	w.pdf.SetFont("Helvetica", "B", 18)
	w.pdf.Cell(0, 10, w.enc(title))
	w.pdf.Ln(12)
}

func (w *pdfWriter) heading(key string) {
	w.pdf.SetFont("Helvetica", "B", 12)
	w.pdf.Cell(0, 8, w.enc(w.tr.T(key)))
	w.pdf.Ln(9)
}

func (w *pdfWriter) rows(items [][2]string) {
	w.pdf.SetFont("Helvetica", "", 11)
	for _, item := range items {
		w.pdf.CellFormat(55, 6, w.enc(item[0]), "", 0, "L", false, 0, "")
		w.pdf.MultiCell(0, 6, w.enc(emptyFallback(item[1], "-")), "", "L", false)
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) summary(rep ResultReport) {
	res := rep.Result
	t := w.tr
	w.heading("summary")
	items := [][2]string{
		{t.T("source"), rep.Source},
	}
	if rep.DeviceID != "" {
		items = append(items, [2]string{t.T("device"), rep.DeviceID})
	}
	items = append(items,
		[2]string{t.T("generated"), rep.GeneratedAt.Format(time.RFC3339)},
		[2]string{t.T("layout"), t.Layout(rep.Layout)},
		[2]string{t.T("outcome"), t.Pass(res.Success) + " (" + t.Outcome(rep.Outcome) + ")"},
		[2]string{t.T("fragments"), strconv.Itoa(res.Fragments)},
		[2]string{t.T("sequence"), t.FCNs(res.Sequence)},
		[2]string{t.T("missing"), t.FCNs(res.MissingFCNs)},
		[2]string{t.T("payloadLength"), t.Bytes(res.PayloadLength)},
	)
	if res.Error != nil {
		items = append(items, [2]string{t.T("error"), res.Error.Message})
	}
	w.rows(items)
}

func (w *pdfWriter) checksum(res schc.Result) {
	t := w.tr
	w.heading("checksum")
	if res.Checksum == nil {
		w.rows([][2]string{{t.T("checksum"), t.T("notReached")}})
		return
	}
	c := res.Checksum
	w.rows([][2]string{
		{t.T("expected"), t.Checksum(c.Expected)},
		{t.T("computed"), t.Checksum(c.Actual)},
		{t.T("checksum"), t.Pass(c.Verified)},
	})
}

func (w *pdfWriter) message(res schc.Result) {
	w.heading("message")
	if res.Message == nil {
		w.pdf.SetFont("Helvetica", "", 11)
		w.pdf.MultiCell(0, 6, w.enc(w.tr.T("noMessage")), "", "L", false)
		w.pdf.Ln(4)
		return
	}
	label := w.tr.T("messageText")
	if !res.Message.IsText() {
		label = w.tr.T("messageHex")
	}
	w.pdf.SetFont("Helvetica", "B", 10)
	w.pdf.MultiCell(0, 5, w.enc(label), "", "L", false)
	w.pdf.SetFont("Courier", "", 10)
	w.pdf.MultiCell(0, 5, w.enc(emptyFallback(res.Message.Value, "-")), "1", "L", false)
	if res.Message.BestEffort {
		w.pdf.SetFont("Helvetica", "I", 9)
		w.pdf.MultiCell(0, 5, w.enc(w.tr.T("bestEffort")), "", "L", false)
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) anomalies(res schc.Result) {
	w.heading("anomalies")
	if len(res.Anomalies) == 0 && len(res.Malformed) == 0 {
		w.pdf.SetFont("Helvetica", "", 11)
		w.pdf.MultiCell(0, 6, w.enc(w.tr.T("noAnomalies")), "", "L", false)
		w.pdf.Ln(4)
		return
	}
	widths := []float64{40, 16, 50, 74}
	if len(res.Anomalies) > 0 {
		w.tableHeader(widths, "col.kind", "col.fcn", "col.ref", "col.detail")
		w.pdf.SetFont("Helvetica", "", 9)
		for _, a := range res.Anomalies {
			renderTableRow(w.pdf, widths, []string{string(a.Kind), strconv.Itoa(a.FCN), w.enc(a.Ref), w.enc(a.Message)}, 5)
		}
		w.pdf.Ln(4)
	}
	if len(res.Malformed) > 0 {
		w.pdf.SetFont("Helvetica", "B", 10)
		w.pdf.MultiCell(0, 5, w.enc(w.tr.T("malformed")), "", "L", false)
		w.pdf.SetFont("Helvetica", "", 9)
		for _, m := range res.Malformed {
			w.pdf.MultiCell(0, 4, w.enc(emptyFallback(m.Ref, "?")+": "+m.Message), "", "L", false)
		}
		w.pdf.Ln(4)
	}
}

func (w *pdfWriter) tableHeader(widths []float64, headers ...string) {
	w.pdf.SetFillColor(240, 240, 240)
	w.pdf.SetFont("Helvetica", "B", 10)
	for i, key := range headers {
		w.pdf.CellFormat(widths[i], 7, w.enc(w.tr.T(key)), "1", 0, "L", true, 0, "")
	}
	w.pdf.Ln(-1)
}

func (w *pdfWriter) payloadHash(hash string) error {
	png, err := PayloadHashToQR(hash, 256)
	if err != nil {
		return err
	}
	w.heading("payloadHash")
	w.pdf.SetFont("Courier", "", 8)
	w.pdf.MultiCell(0, 4, hash, "", "L", false)
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	w.pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
	w.pdf.ImageOptions(qrImageName, w.pdf.GetX(), w.pdf.GetY()+2, 35, 35, true, opts, 0, "")
	return nil
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		lines := pdf.SplitText(emptyFallback(strings.TrimSpace(val), "-"), widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
