package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/Nik853/semantic-layer-agent/internal/common/errors"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/internal/schema"
	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	ix, err := schema.NewIndex([]schema.Field{
		{Name: "Issues.count", Kind: schema.KindMeasure, Entity: "Issues"},
		{Name: "Issues.status", Kind: schema.KindDimension, Entity: "Issues"},
		{Name: "Issues.priority", Kind: schema.KindDimension, Entity: "Issues"},
		{Name: "Issues.createdAt", Kind: schema.KindTimeDimension, Entity: "Issues"},
	}, nil)
	require.NoError(t, err)

	v, err := New(ix, 100, 10000, logger.NewTestLogger(t))
	require.NoError(t, err)
	return v
}

func TestValidateCleanQuery(t *testing.T) {
	v := testValidator(t)

	q, report, err := v.Validate(`{"measures":["Issues.count"],"dimensions":["Issues.status"],"limit":50}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Issues.count"}, q.Measures)
	assert.Equal(t, []string{"Issues.status"}, q.Dimensions)
	assert.Equal(t, 50, q.Limit)
	assert.Empty(t, report.Dropped)
	assert.Empty(t, report.Resolved)
}

func TestValidateRepairsFencedOutput(t *testing.T) {
	v := testValidator(t)

	raw := "Here is the query:\n```json\n{\"measures\": [\"Issues.count\"],}\n```\nHope that helps!"
	q, _, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Issues.count"}, q.Measures)
}

func TestValidateRepairsTypographicQuotes(t *testing.T) {
	v := testValidator(t)

	q, _, err := v.Validate(`{“measures”: [“Issues.count”]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Issues.count"}, q.Measures)
}

func TestValidateBalancesTruncatedOutput(t *testing.T) {
	v := testValidator(t)

	q, _, err := v.Validate(`{"measures": ["Issues.count"], "dimensions": ["Issues.status"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Issues.status"}, q.Dimensions)
}

func TestValidateNormalizesOrderBy(t *testing.T) {
	v := testValidator(t)

	q, _, err := v.Validate(`{"measures":["Issues.count"],"orderBy":[["Issues.count","DESC"]]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Issues.count": "desc"}, q.Order)
}

func TestValidateResolvesFuzzyMembers(t *testing.T) {
	v := testValidator(t)

	q, report, err := v.Validate(`{"measures":["Issues.Count"],"dimensions":["Issues.statuses"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Issues.count"}, q.Measures)
	assert.Equal(t, []string{"Issues.status"}, q.Dimensions)
	assert.Equal(t, "Issues.count", report.Resolved["Issues.Count"])
	assert.Equal(t, "Issues.status", report.Resolved["Issues.statuses"])
}

func TestValidateDropsUnknownMembers(t *testing.T) {
	v := testValidator(t)

	q, report, err := v.Validate(`{
		"measures": ["Issues.count", "Issues.velocityQuotient"],
		"filters": [{"member": "Issues.imaginaryField", "operator": "equals", "values": ["x"]}]
	}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Issues.count"}, q.Measures)
	assert.Nil(t, q.Filters)
	assert.ElementsMatch(t, []string{"Issues.velocityQuotient", "Issues.imaginaryField"}, report.Dropped)
}

func TestValidateEmptyAfterDropping(t *testing.T) {
	v := testValidator(t)

	_, _, err := v.Validate(`{"measures":["Issues.velocityQuotient"]}`)
	require.Error(t, err)

	se, ok := commonerrors.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeEmptyQuery, se.Code)
	assert.Equal(t, []string{"Issues.velocityQuotient"}, se.Metadata["dropped"])
}

func TestValidateFiltersAloneAreEmpty(t *testing.T) {
	v := testValidator(t)

	_, _, err := v.Validate(`{"filters":[{"member":"Issues.status","operator":"equals","values":["Done"]}]}`)
	require.Error(t, err)

	se, ok := commonerrors.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeEmptyQuery, se.Code)
}

func TestValidateMalformedOutput(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"prose only", "I cannot answer that question."},
		{"not an object", `["Issues.count"]`},
		{"wrong member type", `{"measures": [42]}`},
		{"filter without operator", `{"measures":["Issues.count"],"filters":[{"member":"Issues.status"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := v.Validate(tt.raw)
			require.Error(t, err)
			se, ok := commonerrors.AsStageError(err)
			require.True(t, ok)
			assert.Equal(t, commonerrors.ErrCodeMalformedQuery, se.Code)
		})
	}
}

func TestValidateLimitHandling(t *testing.T) {
	v := testValidator(t)

	q, _, err := v.Validate(`{"measures":["Issues.count"]}`)
	require.NoError(t, err)
	assert.Equal(t, 100, q.Limit, "missing limit takes the default")

	q, _, err = v.Validate(`{"measures":["Issues.count"],"limit":999999}`)
	require.NoError(t, err)
	assert.Equal(t, 10000, q.Limit, "oversized limit is clamped")

	q, _, err = v.Validate(`{"measures":["Issues.count"],"limit":100.0}`)
	require.NoError(t, err)
	assert.Equal(t, 100, q.Limit, "float limits are accepted when integral")
}

func TestValidateDropsInvalidFilterParts(t *testing.T) {
	v := testValidator(t)

	q, report, err := v.Validate(`{
		"measures": ["Issues.count"],
		"filters": [
			{"member": "Issues.status", "operator": "resembles", "values": ["Done"]},
			{"member": "Issues.priority", "operator": "equals", "values": []},
			{"member": "Issues.status", "operator": "set"}
		]
	}`)
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, cube.OpSet, q.Filters[0].Operator)
	assert.Len(t, report.Dropped, 2)
}

func TestValidateIsIdempotent(t *testing.T) {
	v := testValidator(t)

	q1, _, err := v.Validate(`{"measures":["Issues.Count"],"dimensions":["issues.statuses"],"orderBy":[["Issues.count","DESC"]],"limit":50000}`)
	require.NoError(t, err)

	q2, report, err := v.Validate(q1.CompactJSON())
	require.NoError(t, err)
	assert.Equal(t, q1, q2)
	assert.Empty(t, report.Dropped)
	assert.Empty(t, report.Resolved)
}

func TestValidateTimeDimensions(t *testing.T) {
	v := testValidator(t)

	q, _, err := v.Validate(`{
		"measures": ["Issues.count"],
		"timeDimensions": [{"dimension": "Issues.created_at", "granularity": "Month", "dateRange": "last 90 days"}]
	}`)
	require.NoError(t, err)
	require.Len(t, q.TimeDimensions, 1)
	assert.Equal(t, "Issues.createdAt", q.TimeDimensions[0].Dimension)
	assert.Equal(t, "month", q.TimeDimensions[0].Granularity)
	assert.Equal(t, cube.DateRange{"last 90 days"}, q.TimeDimensions[0].DateRange)

	q, _, err = v.Validate(`{
		"measures": ["Issues.count"],
		"timeDimensions": [{"dimension": "Issues.createdAt", "granularity": "fortnight"}]
	}`)
	require.NoError(t, err)
	assert.Equal(t, "", q.TimeDimensions[0].Granularity, "unknown granularity is stripped")
}

func TestValidateAcceptsAbsoluteDateRangePair(t *testing.T) {
	v := testValidator(t)

	q, _, err := v.Validate(`{
		"measures": ["Issues.count"],
		"timeDimensions": [{"dimension": "Issues.createdAt", "granularity": "month", "dateRange": ["2024-01-01", "2024-12-31"]}]
	}`)
	require.NoError(t, err)
	require.Len(t, q.TimeDimensions, 1)
	assert.Equal(t, cube.DateRange{"2024-01-01", "2024-12-31"}, q.TimeDimensions[0].DateRange)

	q2, report, err := v.Validate(q.CompactJSON())
	require.NoError(t, err)
	assert.Equal(t, q, q2, "pair form survives a validation round trip")
	assert.Empty(t, report.Dropped)
}
