package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Nik853/semantic-layer-agent/internal/schema"
	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

type examplesFile struct {
	Examples []exampleEntry `yaml:"examples"`
}

type exampleEntry struct {
	Question string        `yaml:"question"`
	Intent   string        `yaml:"intent"`
	Tags     []string      `yaml:"tags"`
	Query    *exampleQuery `yaml:"query"`
}

// exampleQuery mirrors cube.Query with yaml tags; the wire type itself
// only carries json tags.
type exampleQuery struct {
	Measures       []string          `yaml:"measures"`
	Dimensions     []string          `yaml:"dimensions"`
	TimeDimensions []exampleTimeDim  `yaml:"time_dimensions"`
	Filters        []exampleFilter   `yaml:"filters"`
	Order          map[string]string `yaml:"order"`
	Limit          int               `yaml:"limit"`
}

type exampleTimeDim struct {
	Dimension   string `yaml:"dimension"`
	Granularity string `yaml:"granularity"`
	DateRange   string `yaml:"date_range"`
}

type exampleFilter struct {
	Member   string   `yaml:"member"`
	Operator string   `yaml:"operator"`
	Values   []string `yaml:"values"`
}

// LoadExamples reads the curated example library from YAML. A missing
// file yields an empty library.
func LoadExamples(path string) ([]schema.Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read examples %s: %w", path, err)
	}

	var file examplesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse examples %s: %w", path, err)
	}

	examples := make([]schema.Example, 0, len(file.Examples))
	for i, e := range file.Examples {
		if e.Question == "" {
			return nil, fmt.Errorf("example %d has no question", i)
		}
		examples = append(examples, schema.Example{
			Question: e.Question,
			Intent:   e.Intent,
			Tags:     e.Tags,
			Query:    e.Query.toWire(),
		})
	}
	return examples, nil
}

func (q *exampleQuery) toWire() *cube.Query {
	if q == nil {
		return nil
	}
	out := &cube.Query{
		Measures:   q.Measures,
		Dimensions: q.Dimensions,
		Order:      q.Order,
		Limit:      q.Limit,
	}
	for _, td := range q.TimeDimensions {
		wire := cube.TimeDimension{
			Dimension:   td.Dimension,
			Granularity: td.Granularity,
		}
		if td.DateRange != "" {
			wire.DateRange = cube.DateRange{td.DateRange}
		}
		out.TimeDimensions = append(out.TimeDimensions, wire)
	}
	for _, f := range q.Filters {
		out.Filters = append(out.Filters, cube.Filter{
			Member:   f.Member,
			Operator: f.Operator,
			Values:   f.Values,
		})
	}
	return out
}
