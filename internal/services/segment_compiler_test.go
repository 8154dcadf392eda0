package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ratepro/internal/models"
)

var segmentNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedCompiler() *SegmentQueryCompiler {
	return &SegmentQueryCompiler{now: func() time.Time { return segmentNow }}
}

func daysAgo(n int) *time.Time {
	t := segmentNow.AddDate(0, 0, -n)
	return &t
}

func segmentContacts() []*models.Contact {
	return []*models.Contact{
		{Email: "ann@acme.io", Name: "Ann", Company: "Acme", Tags: "VIP, beta", Status: "active", ResponseCount: 12, AvgRating: 4.6, LastActivity: daysAgo(2)},
		{Email: "bob@globex.com", Name: "Bob", Company: "Globex", Tags: "beta", Status: "active", ResponseCount: 1, AvgRating: 2.1, LastActivity: daysAgo(45)},
		{Email: "cy@acme.io", Name: "Cy", Company: "ACME Corp", Status: "inactive", ResponseCount: 0},
	}
}

func names(cs []*models.Contact, seg *CompiledSegment) []string {
	var out []string
	for _, c := range cs {
		if seg.Matches(c) {
			out = append(out, c.Name)
		}
	}
	return out
}

func TestSegmentQueryCompiler_Matches(t *testing.T) {
	contacts := segmentContacts()
	tests := []struct {
		name string
		rule SegmentRule
		want []string
	}{
		{"empty rule matches all", SegmentRule{}, []string{"Ann", "Bob", "Cy"}},
		{"tag equals is case insensitive", SegmentRule{Conditions: []SegmentCondition{{FieldTags, OpEquals, "vip"}}}, []string{"Ann"}},
		{"tag not contains", SegmentRule{Conditions: []SegmentCondition{{FieldTags, OpNotContains, "beta"}}}, []string{"Cy"}},
		{"tags in", SegmentRule{Conditions: []SegmentCondition{{FieldTags, OpIn, []interface{}{"VIP", "gold"}}}}, []string{"Ann"}},
		{"tags exist", SegmentRule{Conditions: []SegmentCondition{{FieldTags, OpExists, false}}}, []string{"Cy"}},
		{"company contains", SegmentRule{Conditions: []SegmentCondition{{FieldCompany, OpContains, "acme"}}}, []string{"Ann", "Cy"}},
		{"company equals is exact", SegmentRule{Conditions: []SegmentCondition{{FieldCompany, OpEquals, "acme"}}}, nil},
		{"status in", SegmentRule{Conditions: []SegmentCondition{{FieldStatus, OpIn, "active, paused"}}}, []string{"Ann", "Bob"}},
		{"number greater than", SegmentRule{Conditions: []SegmentCondition{{FieldResponseCount, OpGreaterThan, "5"}}}, []string{"Ann"}},
		{"number not in", SegmentRule{Conditions: []SegmentCondition{{FieldResponseCount, OpNotIn, []interface{}{float64(0), float64(1)}}}}, []string{"Ann"}},
		{"active more than 30 days ago", SegmentRule{Conditions: []SegmentCondition{{FieldLastActivity, OpGreaterThan, 30}}}, []string{"Bob"}},
		{"active within 30 days", SegmentRule{Conditions: []SegmentCondition{{FieldLastActivity, OpLessThan, float64(30)}}}, []string{"Ann"}},
		{"after absolute date", SegmentRule{Conditions: []SegmentCondition{{FieldLastActivity, OpAfter, "2026-05-01"}}}, []string{"Ann"}},
		{"never active", SegmentRule{Conditions: []SegmentCondition{{FieldLastActivity, OpExists, "false"}}}, []string{"Cy"}},
		{"and", SegmentRule{Logic: LogicAnd, Conditions: []SegmentCondition{
			{FieldTags, OpContains, "beta"},
			{FieldAvgRating, OpLessThan, 3},
		}}, []string{"Bob"}},
		{"or", SegmentRule{Logic: "or", Conditions: []SegmentCondition{
			{FieldTags, OpContains, "vip"},
			{FieldStatus, OpEquals, "inactive"},
		}}, []string{"Ann", "Cy"}},
	}

	c := fixedCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg, err := c.Compile(tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(contacts, seg))
		})
	}
}

func TestSegmentQueryCompiler_Rejects(t *testing.T) {
	c := fixedCompiler()
	bad := []SegmentRule{
		{Logic: "XOR"},
		{Conditions: []SegmentCondition{{"birthday", OpEquals, "x"}}},
		{Conditions: []SegmentCondition{{FieldEmail, "matches", "x"}}},
		{Conditions: []SegmentCondition{{FieldEmail, OpGreaterThan, 3}}},
		{Conditions: []SegmentCondition{{FieldCreatedAt, OpEquals, "2026-01-01"}}},
		{Conditions: []SegmentCondition{{FieldAvgRating, OpContains, "4"}}},
		{Conditions: []SegmentCondition{{FieldResponseCount, OpGreaterThan, "many"}}},
		{Conditions: []SegmentCondition{{FieldEmail, OpContains, ""}}},
		{Conditions: []SegmentCondition{{FieldTags, OpIn, []interface{}{}}}},
		{Conditions: []SegmentCondition{{FieldLastActivity, OpBefore, "yesterday"}}},
	}
	for i, rule := range bad {
		_, err := c.Compile(rule)
		assert.True(t, errors.Is(err, ErrInputInvalid), "rule %d: %v", i, err)
	}
}

func TestSegmentQueryCompiler_CapturesNowOnce(t *testing.T) {
	calls := 0
	c := &SegmentQueryCompiler{now: func() time.Time {
		calls++
		return segmentNow.Add(time.Duration(calls) * time.Hour)
	}}
	seg, err := c.Compile(SegmentRule{Conditions: []SegmentCondition{
		{FieldLastActivity, OpGreaterThan, 1},
		{FieldCreatedAt, OpLessThan, 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, seg.clauses[0].at, seg.clauses[1].at)
	assert.Equal(t, segmentNow.Add(time.Hour), seg.CompiledAt())
}

func TestCompiledSegment_SQL(t *testing.T) {
	seg, err := fixedCompiler().Compile(SegmentRule{Logic: LogicOr, Conditions: []SegmentCondition{
		{FieldTags, OpEquals, "VIP"},
		{FieldName, OpContains, "50%"},
	}})
	require.NoError(t, err)

	where, args := seg.SQL()
	assert.Equal(t, `((',' || LOWER(COALESCE(tags, '')) || ',') LIKE ? ESCAPE '\' OR LOWER(name) LIKE ? ESCAPE '\')`, where)
	assert.Equal(t, []interface{}{"%,vip,%", `%50\%%`}, args)

	empty, err := fixedCompiler().Compile(SegmentRule{})
	require.NoError(t, err)
	where, args = empty.SQL()
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestCompiledSegment_Filter(t *testing.T) {
	seg, err := fixedCompiler().Compile(SegmentRule{Conditions: []SegmentCondition{
		{FieldTags, OpEquals, "vip"},
		{FieldAvgRating, OpGreaterThan, 4},
		{FieldLastActivity, OpGreaterThan, 30},
	}})
	require.NoError(t, err)

	filter := seg.Filter("tenant-1")
	assert.Equal(t, "tenant-1", filter["tenantId"])
	conds, ok := filter["$and"].(bson.A)
	require.True(t, ok)
	require.Len(t, conds, 3)
	assert.Equal(t, bson.M{"tags": primitive.Regex{Pattern: "^vip$", Options: "i"}}, conds[0])
	assert.Equal(t, bson.M{"avgRating": bson.M{"$gt": float64(4)}}, conds[1])
	assert.Equal(t, bson.M{"lastActivity": bson.M{"$lt": segmentNow.AddDate(0, 0, -30)}}, conds[2])

	empty, err := fixedCompiler().Compile(SegmentRule{})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"tenantId": "tenant-1"}, empty.Filter("tenant-1"))
}

func TestGormContactStore_ListBySegment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewGormContactStore(db)

	for _, c := range segmentContacts() {
		c.TenantID = "tenant-1"
		require.NoError(t, store.Create(ctx, c))
	}
	require.NoError(t, store.Create(ctx, &models.Contact{TenantID: "tenant-2", Name: "Other", Tags: "vip"}))

	compiler := fixedCompiler()
	cases := []struct {
		rule SegmentRule
		want int64
	}{
		{SegmentRule{}, 3},
		{SegmentRule{Conditions: []SegmentCondition{{FieldTags, OpEquals, "VIP"}}}, 1},
		{SegmentRule{Conditions: []SegmentCondition{{FieldTags, OpNotIn, []interface{}{"vip"}}}}, 2},
		{SegmentRule{Conditions: []SegmentCondition{{FieldCompany, OpContains, "ACME"}}}, 2},
		{SegmentRule{Conditions: []SegmentCondition{{FieldStatus, OpNotEquals, "active"}}}, 1},
		{SegmentRule{Conditions: []SegmentCondition{{FieldResponseCount, OpIn, []interface{}{float64(1), float64(12)}}}}, 2},
		{SegmentRule{Logic: LogicOr, Conditions: []SegmentCondition{
			{FieldAvgRating, OpGreaterThan, 4},
			{FieldLastActivity, OpExists, false},
		}}, 2},
		{SegmentRule{Conditions: []SegmentCondition{{FieldLastActivity, OpGreaterThan, 30}}}, 1},
	}
	for i, tc := range cases {
		seg, err := compiler.Compile(tc.rule)
		require.NoError(t, err)
		contacts, total, err := store.ListBySegment(ctx, "tenant-1", seg, 50)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, tc.want, total, "case %d", i)
		assert.Len(t, contacts, int(tc.want), "case %d", i)
		for _, c := range contacts {
			assert.True(t, seg.Matches(&c), "case %d: sql and predicate disagree on %s", i, c.Name)
		}
	}
}

func TestSegmentService_Preview(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewGormContactStore(db)
	for _, c := range segmentContacts() {
		c.TenantID = "tenant-1"
		require.NoError(t, store.Create(ctx, c))
	}

	svc := NewSegmentService(store)
	preview, err := svc.Preview(ctx, "tenant-1", SegmentRule{Conditions: []SegmentCondition{{FieldTags, OpContains, "beta"}}}, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, preview.Total)
	assert.Len(t, preview.Contacts, 1)
	assert.False(t, preview.CompiledAt.IsZero())

	_, err = svc.Preview(ctx, "", SegmentRule{}, 10)
	assert.True(t, errors.Is(err, ErrInputInvalid))

	_, err = svc.Preview(ctx, "tenant-1", SegmentRule{Logic: "NAND"}, 10)
	assert.True(t, errors.Is(err, ErrInputInvalid))
}

func TestGormContactStore_TimeConditionsAcrossZones(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewGormContactStore(db)

	// 09:30Z and 11:30Z, written in zones whose local text sorts the other way
	early := time.Date(2026, 4, 10, 14, 30, 0, 0, time.FixedZone("PKT", 5*3600))
	late := time.Date(2026, 4, 10, 6, 30, 0, 0, time.FixedZone("EST", -5*3600))
	contacts := []*models.Contact{
		{TenantID: "tenant-1", Name: "Early", LastActivity: &early},
		{TenantID: "tenant-1", Name: "Late", LastActivity: &late},
	}
	for _, c := range contacts {
		require.NoError(t, store.Create(ctx, c))
		assert.Equal(t, time.UTC, c.LastActivity.Location())
	}

	boundary := "2026-04-10T12:00:00+02:00"
	cases := []struct {
		op   SegmentOperator
		want string
	}{
		{OpAfter, "Late"},
		{OpBefore, "Early"},
	}
	for _, tc := range cases {
		seg, err := fixedCompiler().Compile(SegmentRule{Conditions: []SegmentCondition{{FieldLastActivity, tc.op, boundary}}})
		require.NoError(t, err)

		found, total, err := store.ListBySegment(ctx, "tenant-1", seg, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total, "%s", tc.op)
		require.Len(t, found, 1, "%s", tc.op)
		assert.Equal(t, tc.want, found[0].Name)
		assert.Equal(t, []string{tc.want}, names(contacts, seg))
	}
}
