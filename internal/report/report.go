package report

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"example.com/schcgate/internal/common"
	"example.com/schcgate/internal/schc"
)

// ResultReport is the persisted form of one reassembly run.
type ResultReport struct {
	Tool          string      `json:"tool"`
	GeneratedAt   time.Time   `json:"generatedAt"`
	Source        string      `json:"source"`
	DeviceID      string      `json:"deviceId,omitempty"`
	Layout        schc.Layout `json:"layout"`
	Outcome       string      `json:"outcome"`
	PayloadSHA256 string      `json:"payloadSha256,omitempty"`
	Result        schc.Result `json:"result"`
}

// NewResultReport wraps res with its provenance. The payload hash is only
// set when there is a payload to hash.
func NewResultReport(tool, source string, layout schc.Layout, res schc.Result, at time.Time) ResultReport {
	rep := ResultReport{
		Tool:        tool,
		GeneratedAt: at.UTC(),
		Source:      source,
		Layout:      layout,
		Outcome:     res.Outcome(),
		Result:      res,
	}
	if res.Payload != nil {
		rep.PayloadSHA256 = common.Sha256Hex(res.Payload)
	}
	return rep
}

func SaveResultJSON(rep ResultReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(out, b, 0644)
}

func LoadResultJSON(path string) (ResultReport, error) {
	var rep ResultReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		return rep, err
	}
	if rep.Outcome == "" {
		return rep, errors.New("report: missing outcome")
	}
	return rep, nil
}
