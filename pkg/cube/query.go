// Package cube defines the wire types for the semantic layer's REST query
// protocol. The agent builds Query values, the executor posts them to the
// /load endpoint, and the semantic layer answers with a ResultSet.
package cube

import (
	"encoding/json"
	"fmt"
)

// Filter operators accepted by the semantic layer.
const (
	OpEquals   = "equals"
	OpContains = "contains"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpSet      = "set"
	OpNotSet   = "notSet"
)

// Query is the canonical structured query exchanged with the semantic layer.
type Query struct {
	Measures       []string          `json:"measures,omitempty"`
	Dimensions     []string          `json:"dimensions,omitempty"`
	TimeDimensions []TimeDimension   `json:"timeDimensions,omitempty"`
	Filters        []Filter          `json:"filters,omitempty"`
	Order          map[string]string `json:"order,omitempty"`
	Limit          int               `json:"limit,omitempty"`
}

// TimeDimension groups a time field with an aggregation granularity.
type TimeDimension struct {
	Dimension   string    `json:"dimension"`
	Granularity string    `json:"granularity,omitempty"`
	DateRange   DateRange `json:"dateRange,omitempty"`
}

// DateRange is either a relative expression ("last quarter") or an
// absolute [from, to] pair. A single value marshals as a bare string and
// a pair as a two-element array, the two forms the layer accepts.
type DateRange []string

func (d DateRange) MarshalJSON() ([]byte, error) {
	if len(d) == 1 {
		return json.Marshal(d[0])
	}
	return json.Marshal([]string(d))
}

func (d *DateRange) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*d = DateRange{single}
		return nil
	}
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("dateRange must be a string or an array of strings")
	}
	*d = DateRange(pair)
	return nil
}

// Filter restricts a query by a single member.
type Filter struct {
	Member   string   `json:"member"`
	Operator string   `json:"operator"`
	Values   []string `json:"values,omitempty"`
}

// IsEmpty reports whether the query selects nothing at all.
func (q *Query) IsEmpty() bool {
	return len(q.Measures) == 0 && len(q.Dimensions) == 0 && len(q.TimeDimensions) == 0
}

// Members returns every field name the query references, in a fixed order:
// measures, dimensions, time dimensions, then filter members.
func (q *Query) Members() []string {
	members := make([]string, 0, len(q.Measures)+len(q.Dimensions)+len(q.TimeDimensions)+len(q.Filters))
	members = append(members, q.Measures...)
	members = append(members, q.Dimensions...)
	for _, td := range q.TimeDimensions {
		members = append(members, td.Dimension)
	}
	for _, f := range q.Filters {
		members = append(members, f.Member)
	}
	return members
}

// Clone returns a deep copy of the query.
func (q *Query) Clone() *Query {
	out := &Query{
		Measures:   append([]string(nil), q.Measures...),
		Dimensions: append([]string(nil), q.Dimensions...),
		Limit:      q.Limit,
	}
	for _, td := range q.TimeDimensions {
		ctd := TimeDimension{Dimension: td.Dimension, Granularity: td.Granularity}
		ctd.DateRange = append(DateRange(nil), td.DateRange...)
		out.TimeDimensions = append(out.TimeDimensions, ctd)
	}
	for _, f := range q.Filters {
		cf := Filter{Member: f.Member, Operator: f.Operator}
		cf.Values = append([]string(nil), f.Values...)
		out.Filters = append(out.Filters, cf)
	}
	if q.Order != nil {
		out.Order = make(map[string]string, len(q.Order))
		for k, v := range q.Order {
			out.Order[k] = v
		}
	}
	return out
}

// CompactJSON renders the query as a single-line JSON document. Map keys are
// marshaled in sorted order, so identical queries produce identical bytes.
func (q *Query) CompactJSON() string {
	data, err := json.Marshal(q)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Row is a single result record keyed by fully-qualified member name.
type Row = map[string]interface{}

// ResultSet is the envelope returned by the /load endpoint.
type ResultSet struct {
	Data  []Row  `json:"data"`
	Error string `json:"error,omitempty"`
}
