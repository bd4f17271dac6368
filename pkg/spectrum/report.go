package spectrum

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/xaionaro-go/datacounter"
)

type BandReport struct {
	LowHz    float64
	HighHz   float64
	BeforeDB float64
	AfterDB  float64
}

// ReductionDB is positive when the band got quieter.
func (b BandReport) ReductionDB() float64 {
	return b.BeforeDB - b.AfterDB
}

type Report struct {
	Bands []BandReport
}

// Compare builds a report from two analyzers with the same band layout.
func Compare(before, after *Analyzer) (Report, error) {
	if before.BandCount != after.BandCount || before.SampleRate != after.SampleRate {
		return Report{}, fmt.Errorf(
			"incompatible analyzers: %d bands @ %vHz vs %d bands @ %vHz",
			before.BandCount, before.SampleRate, after.BandCount, after.SampleRate,
		)
	}
	beforeLevels, afterLevels := before.BandLevels(), after.BandLevels()
	r := Report{Bands: make([]BandReport, before.BandCount)}
	for i := range r.Bands {
		low, high := before.BandRange(i)
		r.Bands[i] = BandReport{
			LowHz:    low,
			HighHz:   high,
			BeforeDB: beforeLevels[i],
			AfterDB:  afterLevels[i],
		}
	}
	return r, nil
}

func (r Report) WriteTo(w io.Writer) (int64, error) {
	counter := datacounter.NewWriterCounter(w)
	tw := tabwriter.NewWriter(counter, 0, 0, 2, ' ', tabwriter.AlignRight)
	if _, err := fmt.Fprintf(tw, "band\tfrom, Hz\tto, Hz\tbefore, dB\tafter, dB\treduction, dB\t\n"); err != nil {
		return int64(counter.Count()), err
	}
	for i, b := range r.Bands {
		_, err := fmt.Fprintf(tw, "%d\t%.0f\t%.0f\t%.1f\t%.1f\t%.1f\t\n", i, b.LowHz, b.HighHz, b.BeforeDB, b.AfterDB, b.ReductionDB())
		if err != nil {
			return int64(counter.Count()), err
		}
	}
	err := tw.Flush()
	return int64(counter.Count()), err
}
