// Package telemetry publishes reassembly outcomes as InfluxDB points.
package telemetry

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/influxdata/influxdb-client-go/api/write"

	"example.com/schcgate/internal/schc"
)

const Measurement = "schc.reassembly"

// Recorder receives one call per finished message.
type Recorder interface {
	Record(device string, res schc.Result)
	Close()
}

// Point builds the point written for res.
func Point(device string, res schc.Result, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"fragments":     res.Fragments,
		"missing":       len(res.MissingFCNs),
		"payload_bytes": res.PayloadLength,
		"anomalies":     len(res.Anomalies),
		"malformed":     len(res.Malformed),
		"verified":      res.Success,
	}
	return influxdb2.NewPoint(Measurement,
		map[string]string{
			"device":  device,
			"outcome": res.Outcome(),
		},
		fields, ts)
}

// Influx writes points through an asynchronous write API.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	now      func() time.Time
}

// NewInflux connects to the server at url. Writes are batched and sent in the
// background by the client.
func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	return &Influx{client: client, writeAPI: client.WriteAPI(org, bucket), now: time.Now}
}

// NewInfluxWithAPI wraps an existing write API.
func NewInfluxWithAPI(w api.WriteAPI) *Influx {
	return &Influx{writeAPI: w, now: time.Now}
}

func (i *Influx) Record(device string, res schc.Result) {
	i.writeAPI.WritePoint(Point(device, res, i.now()))
}

// Errors exposes asynchronous write failures.
func (i *Influx) Errors() <-chan error {
	return i.writeAPI.Errors()
}

func (i *Influx) Close() {
	i.writeAPI.Flush()
	if i.client != nil {
		i.client.Close()
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(string, schc.Result) {}
func (Nop) Close()                     {}
