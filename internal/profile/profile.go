// Package profile enumerates the vendor device families this toolkit
// speaks and the GATT endpoints each one lives on. The per-family
// codecs and session clients live in the subpackages; this package is
// the directory the CLI and the scanner use to recognize and address
// them.
package profile

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blemux/internal/bledb"
	"github.com/srg/blemux/internal/profile/bpmonitor"
	"github.com/srg/blemux/internal/profile/glucometer"
	"github.com/srg/blemux/internal/profile/oximeter"
	"github.com/srg/blemux/internal/profile/scale"
	"github.com/srg/blemux/internal/profile/tracker"
)

// Endpoints names the GATT surface of one family: the service that
// identifies it and the characteristics commands and events travel on.
// Command is empty for stream-only families.
type Endpoints struct {
	Service string
	Command string
	Events  string
}

// Family describes one supported vendor device family.
type Family struct {
	// Name is the stable key used on the command line and in config.
	Name string
	// Title is the human-readable family name for listings.
	Title     string
	Endpoints Endpoints
}

// families keeps registration order so listings and generated help stay
// in the order the families were added, not map order.
var families = func() *orderedmap.OrderedMap[string, Family] {
	m := orderedmap.New[string, Family]()
	for _, f := range []Family{
		{
			Name:  "scale",
			Title: "Body composition scale",
			Endpoints: Endpoints{
				Service: scale.ServiceUUID,
				Command: scale.CommandUUID,
				Events:  scale.MeasurementUUID,
			},
		},
		{
			Name:  "tracker",
			Title: "Fitness tracker band",
			Endpoints: Endpoints{
				Service: tracker.ServiceUUID,
				Command: tracker.CommandUUID,
				Events:  tracker.EventUUID,
			},
		},
		{
			Name:  "bpm",
			Title: "Blood pressure monitor",
			Endpoints: Endpoints{
				Service: bpmonitor.ServiceUUID,
				Command: bpmonitor.CommandUUID,
				Events:  bpmonitor.MeasurementUUID,
			},
		},
		{
			Name:  "glucose",
			Title: "Blood glucose meter",
			Endpoints: Endpoints{
				Service: glucometer.ServiceUUID,
				Command: glucometer.CommandUUID,
				Events:  glucometer.RecordUUID,
			},
		},
		{
			Name:  "oximeter",
			Title: "Pulse oximeter",
			Endpoints: Endpoints{
				Service: oximeter.ServiceUUID,
				Events:  oximeter.StreamUUID,
			},
		},
	} {
		m.Set(f.Name, f)
	}
	return m
}()

// Families returns the supported families in registration order.
func Families() []Family {
	out := make([]Family, 0, families.Len())
	for pair := families.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Lookup returns the family registered under name.
func Lookup(name string) (Family, bool) {
	f, ok := families.Get(name)
	return f, ok
}

// Identify returns the first registered family whose service UUID
// appears in the advertised service list. UUIDs are compared in
// normalized form, so 16-bit shorthand and full 128-bit spellings
// match.
func Identify(serviceUUIDs []string) (Family, bool) {
	advertised := make(map[string]struct{}, len(serviceUUIDs))
	for _, u := range serviceUUIDs {
		advertised[bledb.NormalizeUUID(u)] = struct{}{}
	}
	for pair := families.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := advertised[bledb.NormalizeUUID(pair.Value.Endpoints.Service)]; ok {
			return pair.Value, true
		}
	}
	return Family{}, false
}
