package config

import (
	"errors"
	"fmt"

	"github.com/sweeney/fmtxd/internal/logic"
)

// ErrUnknownRegion is returned for a region name not in the table.
var ErrUnknownRegion = errors.New("unknown region")

// Region is a broadcast band plan.
type Region struct {
	Name          string
	Bounds        logic.Bounds
	PreemphasisUs int
}

// Band edges shared by every region, in kHz.
const (
	BandMin = 88100
	BandMax = 107900
)

var regions = map[string]Region{
	"eu":    {Name: "eu", Bounds: logic.Bounds{Min: BandMin, Max: BandMax, Step: 100}, PreemphasisUs: 50},
	"eu-75": {Name: "eu-75", Bounds: logic.Bounds{Min: BandMin, Max: BandMax, Step: 100}, PreemphasisUs: 75},
	"us":    {Name: "us", Bounds: logic.Bounds{Min: BandMin, Max: BandMax, Step: 200}, PreemphasisUs: 75},
	"us-50": {Name: "us-50", Bounds: logic.Bounds{Min: BandMin, Max: BandMax, Step: 200}, PreemphasisUs: 50},
}

// LookupRegion returns the band plan for name.
func LookupRegion(name string) (Region, error) {
	r, ok := regions[name]
	if !ok {
		return Region{}, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
	}
	return r, nil
}
