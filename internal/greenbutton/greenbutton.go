// Package greenbutton parses Green Button (ESPI) interval exports as
// utilities hand them out, namespace prefixes and all.
package greenbutton

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"time"
)

// ErrNoReadings marks an export without a single usable interval.
var ErrNoReadings = errors.New("no interval readings found")

// Reading is one metered interval.
type Reading struct {
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Kwh       float64 `json:"kWh" yaml:"kwh"`
}

// MonthlyUsage is the kWh sum for one calendar month.
type MonthlyUsage struct {
	Month string  `json:"month" yaml:"month"`
	Kwh   float64 `json:"kWh" yaml:"kwh"`
}

// Usage is a parsed Green Button export.
type Usage struct {
	ESIID     string         `json:"esiid,omitempty" yaml:"esiid,omitempty"`
	Readings  []Reading      `json:"readings,omitempty" yaml:"readings,omitempty"`
	Monthly   []MonthlyUsage `json:"monthlyUsage" yaml:"monthly_usage"`
	AnnualKwh float64        `json:"annualKwh" yaml:"annual_kwh"`
}

// intervalReading matches the ESPI element regardless of namespace
// prefix, since unqualified field names bind to any namespace.
type intervalReading struct {
	TimePeriod struct {
		Start int64 `xml:"start"`
	} `xml:"timePeriod"`
	Value int64 `xml:"value"`
}

var (
	esiidRun      = regexp.MustCompile(`[0-9]{10,22}`)
	esiidFallback = regexp.MustCompile(`ESIID[:\s]*([0-9]{10,22})`)
)

// Parse reads a Green Button XML export and aggregates it into monthly
// and annual kWh. Unreadable elements are skipped rather than failing
// the whole export; meter values are Wh and converted here.
func Parse(r io.Reader) (*Usage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	usage := &Usage{
		Readings: make([]Reading, 0, 512),
		Monthly:  make([]MonthlyUsage, 0, 12),
	}

	var parseErr error
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep what was collected, exports are often truncated.
			parseErr = err
			break
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "IntervalReading":
			var ir intervalReading
			if err := decoder.DecodeElement(&ir, &start); err != nil {
				continue
			}
			if ir.TimePeriod.Start == 0 {
				continue
			}
			usage.Readings = append(usage.Readings, Reading{
				Timestamp: ir.TimePeriod.Start,
				Kwh:       float64(ir.Value) / 1000,
			})

		case "ServiceDeliveryPoint":
			if usage.ESIID != "" {
				continue
			}
			var sdp struct {
				Inner string `xml:",innerxml"`
			}
			if err := decoder.DecodeElement(&sdp, &start); err != nil {
				continue
			}
			usage.ESIID = esiidRun.FindString(sdp.Inner)
		}
	}

	if usage.ESIID == "" {
		if m := esiidFallback.FindSubmatch(data); m != nil {
			usage.ESIID = string(m[1])
		}
	}

	if len(usage.Readings) == 0 {
		if parseErr != nil {
			return nil, fmt.Errorf("parse green button export: %w", parseErr)
		}
		return nil, ErrNoReadings
	}

	months := make(map[string]float64)
	total := 0.0
	for _, reading := range usage.Readings {
		month := time.Unix(reading.Timestamp, 0).UTC().Format("2006-01")
		months[month] += reading.Kwh
		total += reading.Kwh
	}

	keys := make([]string, 0, len(months))
	for month := range months {
		keys = append(keys, month)
	}
	sort.Strings(keys)

	for _, month := range keys {
		usage.Monthly = append(usage.Monthly, MonthlyUsage{Month: month, Kwh: round1(months[month])})
	}
	usage.AnnualKwh = round1(total)

	return usage, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
