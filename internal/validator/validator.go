package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	commonerrors "github.com/Nik853/semantic-layer-agent/internal/common/errors"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/internal/common/metrics"
	"github.com/Nik853/semantic-layer-agent/internal/schema"
	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

// querySchema is the structural contract for generated queries. Member
// names are checked separately against the live catalogue; this layer
// only rejects shapes that cannot be a query at all.
const querySchema = `{
	"type": "object",
	"properties": {
		"measures": {"type": "array", "items": {"type": "string"}},
		"dimensions": {"type": "array", "items": {"type": "string"}},
		"timeDimensions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"dimension": {"type": "string"},
					"granularity": {"type": "string"},
					"dateRange": {"type": ["string", "array"], "items": {"type": "string"}}
				},
				"required": ["dimension"]
			}
		},
		"filters": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"member": {"type": "string"},
					"operator": {"type": "string"},
					"values": {"type": "array"}
				},
				"required": ["member", "operator"]
			}
		},
		"order": {"type": "object", "additionalProperties": {"type": "string"}},
		"limit": {"type": "integer", "minimum": 0}
	}
}`

var validOperators = map[string]bool{
	cube.OpEquals:   true,
	cube.OpContains: true,
	cube.OpGt:       true,
	cube.OpGte:      true,
	cube.OpLt:       true,
	cube.OpLte:      true,
	cube.OpSet:      true,
	cube.OpNotSet:   true,
}

var validGranularities = map[string]bool{
	"day": true, "week": true, "month": true, "quarter": true, "year": true,
}

// Report records what validation changed, for the trace log.
type Report struct {
	Dropped  []string          // members removed because nothing in the catalogue matched
	Resolved map[string]string // fuzzy renames, original -> canonical
}

// Validator turns raw model output into an executable query.
type Validator struct {
	index        *schema.Index
	compiled     *gojsonschema.Schema
	defaultLimit int
	maxLimit     int
	logger       logger.Logger
}

// New compiles the structural schema once. The limits come from config:
// defaultLimit fills in a missing limit, maxLimit clamps runaways.
func New(ix *schema.Index, defaultLimit, maxLimit int, log logger.Logger) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(querySchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile query schema: %w", err)
	}
	return &Validator{
		index:        ix,
		compiled:     compiled,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       log,
	}, nil
}

// Validate runs the full pipeline: loose parse, key normalization,
// structural check, member resolution against the catalogue, and limit
// clamping. Validation is idempotent: feeding a validated query back in
// returns it unchanged.
func (v *Validator) Validate(raw string) (*cube.Query, *Report, error) {
	obj, ok := ParseLoose(raw)
	if !ok {
		return nil, nil, commonerrors.NewMalformedQueryError(raw, fmt.Errorf("output is not a JSON object"))
	}

	normalizeKeys(obj)

	result, err := v.compiled.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return nil, nil, commonerrors.NewMalformedQueryError(raw, err)
	}
	if !result.Valid() {
		return nil, nil, commonerrors.NewMalformedQueryError(raw, fmt.Errorf("query shape invalid: %s", schemaErrors(result)))
	}

	query, err := decodeQuery(obj)
	if err != nil {
		return nil, nil, commonerrors.NewMalformedQueryError(raw, err)
	}

	report := &Report{Resolved: make(map[string]string)}
	v.resolveMembers(query, report)

	if query.IsEmpty() {
		return nil, nil, commonerrors.NewEmptyQueryError(report.Dropped)
	}

	if query.Limit <= 0 {
		query.Limit = v.defaultLimit
	} else if query.Limit > v.maxLimit {
		v.logger.WithFields(map[string]interface{}{
			"requested": query.Limit,
			"clamped":   v.maxLimit,
		}).Warn("Query limit clamped")
		query.Limit = v.maxLimit
	}

	if len(report.Dropped) > 0 {
		metrics.DroppedMembers.Add(float64(len(report.Dropped)))
		v.logger.WithFields(map[string]interface{}{
			"dropped": report.Dropped,
		}).Warn("Dropped unknown members from generated query")
	}

	return query, report, nil
}

// normalizeKeys rewrites near-miss key spellings in place before the
// structural check: orderBy becomes order, and the array order form
// [["member","desc"]] becomes the canonical map form.
func normalizeKeys(obj map[string]interface{}) {
	if v, ok := obj["orderBy"]; ok {
		if _, exists := obj["order"]; !exists {
			obj["order"] = v
		}
		delete(obj, "orderBy")
	}

	if arr, ok := obj["order"].([]interface{}); ok {
		order := make(map[string]interface{}, len(arr))
		for _, entry := range arr {
			pair, ok := entry.([]interface{})
			if !ok || len(pair) != 2 {
				continue
			}
			member, mok := pair[0].(string)
			dir, dok := pair[1].(string)
			if mok && dok {
				order[member] = dir
			}
		}
		obj["order"] = order
	}

	// Float limits arrive when models emit 100.0.
	if f, ok := obj["limit"].(float64); ok && f == float64(int(f)) {
		obj["limit"] = int(f)
	}
}

func decodeQuery(obj map[string]interface{}) (*cube.Query, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal query object: %w", err)
	}
	var q cube.Query
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to decode query: %w", err)
	}
	return &q, nil
}

// resolveMembers maps every referenced member onto the catalogue,
// keeping fuzzy matches and dropping the rest.
func (v *Validator) resolveMembers(q *cube.Query, report *Report) {
	q.Measures = v.resolveList(q.Measures, report)
	q.Dimensions = v.resolveList(q.Dimensions, report)

	timeDims := q.TimeDimensions[:0]
	for _, td := range q.TimeDimensions {
		name, ok := v.resolve(td.Dimension, report)
		if !ok {
			continue
		}
		td.Dimension = name
		if td.Granularity != "" && !validGranularities[strings.ToLower(td.Granularity)] {
			td.Granularity = ""
		} else {
			td.Granularity = strings.ToLower(td.Granularity)
		}
		timeDims = append(timeDims, td)
	}
	q.TimeDimensions = timeDims
	if len(q.TimeDimensions) == 0 {
		q.TimeDimensions = nil
	}

	filters := q.Filters[:0]
	for _, f := range q.Filters {
		name, ok := v.resolve(f.Member, report)
		if !ok {
			continue
		}
		if !validOperators[f.Operator] {
			report.Dropped = append(report.Dropped, f.Member+" (operator "+f.Operator+")")
			continue
		}
		if f.Operator != cube.OpSet && f.Operator != cube.OpNotSet && len(f.Values) == 0 {
			report.Dropped = append(report.Dropped, f.Member+" (no values)")
			continue
		}
		f.Member = name
		filters = append(filters, f)
	}
	q.Filters = filters
	if len(q.Filters) == 0 {
		q.Filters = nil
	}

	if len(q.Order) > 0 {
		order := make(map[string]string, len(q.Order))
		for member, dir := range q.Order {
			name, ok := v.resolve(member, report)
			if !ok {
				continue
			}
			dir = strings.ToLower(dir)
			if dir != "asc" && dir != "desc" {
				dir = "asc"
			}
			order[name] = dir
		}
		if len(order) == 0 {
			order = nil
		}
		q.Order = order
	}
}

func (v *Validator) resolveList(names []string, report *Report) []string {
	if len(names) == 0 {
		return nil
	}
	out := names[:0]
	for _, n := range names {
		if name, ok := v.resolve(n, report); ok {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (v *Validator) resolve(name string, report *Report) (string, bool) {
	canonical, ok := v.index.ResolveField(name)
	if !ok {
		report.Dropped = append(report.Dropped, name)
		return "", false
	}
	if canonical != name {
		report.Resolved[name] = canonical
	}
	return canonical, true
}

func schemaErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
