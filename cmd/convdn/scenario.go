package main

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tallisward/convdn/pkg/dollarneutral"
	"github.com/tallisward/convdn/pkg/models"
)

// scenario is an offline computation input: the three series inline
// plus the engine parameters. Useful for replaying a platform extract
// without any network access.
type scenario struct {
	Convertible    string             `yaml:"convertible"`
	Underlying     string             `yaml:"underlying"`
	Method         string             `yaml:"method"`
	AnchorDate     string             `yaml:"anchor_date"`
	DeltaOverride  *float64           `yaml:"delta_override"`
	UseOldestDelta bool               `yaml:"use_oldest_delta"`
	CBClose        map[string]float64 `yaml:"cb_close"`
	UdlyClose      map[string]float64 `yaml:"udly_close"`
	Delta          map[string]float64 `yaml:"ud_delta"`
	Nuke           map[string]float64 `yaml:"nuke"`
}

func loadScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

func (s *scenario) toInput() (dollarneutral.Input, error) {
	in := dollarneutral.Input{
		Method:         models.Method(s.Method),
		DeltaOverride:  s.DeltaOverride,
		UseOldestDelta: s.UseOldestDelta,
	}
	if in.Method == "" {
		in.Method = models.MethodDelta
	}

	var err error
	if in.CBClose, err = seriesFromYAML(s.CBClose); err != nil {
		return in, fmt.Errorf("cb_close: %w", err)
	}
	if in.UdlyClose, err = seriesFromYAML(s.UdlyClose); err != nil {
		return in, fmt.Errorf("udly_close: %w", err)
	}
	if in.Delta, err = seriesFromYAML(s.Delta); err != nil {
		return in, fmt.Errorf("ud_delta: %w", err)
	}
	if len(s.Nuke) > 0 {
		if in.NukeSeries, err = seriesFromYAML(s.Nuke); err != nil {
			return in, fmt.Errorf("nuke: %w", err)
		}
	}

	if s.AnchorDate != "" {
		anchor, err := time.Parse("2006-01-02", s.AnchorDate)
		if err != nil {
			return in, fmt.Errorf("anchor_date: %w", err)
		}
		in.AnchorDate = &anchor
	}

	return in, nil
}

func seriesFromYAML(m map[string]float64) (*models.TimeSeries, error) {
	ts := models.NewTimeSeries()
	for d, v := range m {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("bad date %q: %w", d, err)
		}
		ts.Set(parsed, v)
	}
	return ts, nil
}

func runCompute(cmd *cobra.Command, args []string) {
	s, err := loadScenario(scenarioFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	in, err := s.toInput()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	table, err := dollarneutral.Compute(in)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	printTable(os.Stdout, s.Convertible, table)
}

func printTable(out *os.File, convertible string, table *models.Table) {
	if convertible != "" {
		fmt.Fprintf(out, "%s  (method %s, anchor %s, D0 %.4f)\n",
			convertible, table.Method, table.Anchor.Date.Format("2006-01-02"), table.Anchor.Delta)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "date\tcb_close\tudly_close\tud_delta\tnuke\tdn")
	for _, r := range table.Rows {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%s\t%s\n",
			r.Date.Format("2006-01-02"), r.CBClose, r.UdlyClose, r.Delta,
			formatValue(r.Nuke), formatValue(r.DN))
	}
	w.Flush()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}
