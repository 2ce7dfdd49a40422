// Package fixtures loads the local deal catalog and reshapes its BOE sheets
// into runs.
package fixtures

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed deals.yaml
var defaultDeals []byte

// Klass values as written on the BOE sheet.
const (
	KlassHardVeto = "Hard Veto"
	KlassSoft     = "Soft"
)

// Sheet decisions. PASS_WITH_NOTES advances with open soft findings.
const (
	SheetPass          = "PASS"
	SheetPassWithNotes = "PASS_WITH_NOTES"
	SheetFail          = "FAIL"
)

// File is the top-level shape of a fixtures file.
type File struct {
	Deals []Deal `yaml:"deals"`
}

// Deal is a fixture deal with its BOE sheets, most recent first.
type Deal struct {
	ID           string    `yaml:"id"`
	Name         string    `yaml:"name"`
	Address      string    `yaml:"address"`
	Neighborhood string    `yaml:"neighborhood"`
	Stage        string    `yaml:"stage"`
	Ask          float64   `yaml:"ask"`
	UpdatedDate  time.Time `yaml:"updated_date"`
	Notes        []string  `yaml:"notes"`
	Runs         []Sheet   `yaml:"runs"`
}

// Sheet is one BOE run as it appears on the sheet, with display-formatted
// values.
type Sheet struct {
	ID                string            `yaml:"id"`
	Timestamp         time.Time         `yaml:"timestamp"`
	Author            string            `yaml:"author"`
	Decision          string            `yaml:"decision"`
	MaxBid            float64           `yaml:"max_bid"`
	BindingConstraint string            `yaml:"binding_constraint"`
	DeltaToAsk        float64           `yaml:"delta_to_ask"`
	Y1DSCR            float64           `yaml:"y1_dscr"`
	YOC               float64           `yaml:"yoc"`
	ExitCap           float64           `yaml:"exit_cap"`
	ExpenseRatio      float64           `yaml:"expense_ratio"`
	Inputs            map[string]string `yaml:"inputs"`
	Outputs           map[string]string `yaml:"outputs"`
	Tests             []Row             `yaml:"tests"`
}

// Row is a single test line on a sheet.
type Row struct {
	Name      string `yaml:"name"`
	Klass     string `yaml:"klass"`
	Threshold string `yaml:"threshold"`
	Actual    string `yaml:"actual"`
	Result    string `yaml:"result"`
}

// Load decodes a fixtures file.
func Load(r io.Reader) ([]Deal, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, eris.Wrap(err, "fixtures: decode")
	}
	seen := make(map[string]bool, len(f.Deals))
	for _, d := range f.Deals {
		if d.ID == "" {
			return nil, eris.New("fixtures: deal without id")
		}
		if seen[d.ID] {
			return nil, eris.Errorf("fixtures: duplicate deal %s", d.ID)
		}
		seen[d.ID] = true
	}
	return f.Deals, nil
}

// LoadFile reads fixtures from path, or the embedded catalog when path is
// empty.
func LoadFile(path string) ([]Deal, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fixtures: read %s", path)
	}
	return Load(bytes.NewReader(b))
}

// Default returns the embedded deal catalog.
func Default() ([]Deal, error) {
	return Load(bytes.NewReader(defaultDeals))
}

// Find returns the deal with the given id.
func Find(deals []Deal, id string) (*Deal, bool) {
	for i := range deals {
		if deals[i].ID == id {
			return &deals[i], true
		}
	}
	return nil, false
}
