package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"

	"ratepro/internal/models"
)

type SegmentField string

const (
	FieldEmail         SegmentField = "email"
	FieldPhone         SegmentField = "phone"
	FieldName          SegmentField = "name"
	FieldCompany       SegmentField = "company"
	FieldTags          SegmentField = "tags"
	FieldLastActivity  SegmentField = "lastActivity"
	FieldStatus        SegmentField = "status"
	FieldSegment       SegmentField = "segment"
	FieldResponseCount SegmentField = "responseCount"
	FieldAvgRating     SegmentField = "avgRating"
	FieldCreatedAt     SegmentField = "createdAt"
)

type SegmentOperator string

const (
	OpEquals      SegmentOperator = "equals"
	OpNotEquals   SegmentOperator = "notEquals"
	OpContains    SegmentOperator = "contains"
	OpNotContains SegmentOperator = "notContains"
	OpExists      SegmentOperator = "exists"
	OpGreaterThan SegmentOperator = "greaterThan"
	OpLessThan    SegmentOperator = "lessThan"
	OpIn          SegmentOperator = "in"
	OpNotIn       SegmentOperator = "notIn"
	OpBefore      SegmentOperator = "before"
	OpAfter       SegmentOperator = "after"
)

type SegmentLogic string

const (
	LogicAnd SegmentLogic = "AND"
	LogicOr  SegmentLogic = "OR"
)

type SegmentCondition struct {
	Field    SegmentField    `json:"field"`
	Operator SegmentOperator `json:"operator"`
	Value    interface{}     `json:"value,omitempty"`
}

// SegmentRule is a user-defined contact filter.
type SegmentRule struct {
	Logic      SegmentLogic       `json:"logic"`
	Conditions []SegmentCondition `json:"conditions"`
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindTags
	kindNumber
	kindTime
)

type fieldSpec struct {
	kind   fieldKind
	column string
	key    string
}

var segmentFields = map[SegmentField]fieldSpec{
	FieldEmail:         {kindString, "email", "email"},
	FieldPhone:         {kindString, "phone", "phone"},
	FieldName:          {kindString, "name", "name"},
	FieldCompany:       {kindString, "company", "company"},
	FieldStatus:        {kindString, "status", "status"},
	FieldSegment:       {kindString, "segment", "segment"},
	FieldTags:          {kindTags, "tags", "tags"},
	FieldResponseCount: {kindNumber, "response_count", "responseCount"},
	FieldAvgRating:     {kindNumber, "avg_rating", "avgRating"},
	FieldLastActivity:  {kindTime, "last_activity", "lastActivity"},
	FieldCreatedAt:     {kindTime, "created_at", "createdAt"},
}

func opSet(ops ...SegmentOperator) map[SegmentOperator]bool {
	m := make(map[SegmentOperator]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

var operatorsByKind = map[fieldKind]map[SegmentOperator]bool{
	kindString: opSet(OpEquals, OpNotEquals, OpContains, OpNotContains, OpExists, OpIn, OpNotIn),
	kindTags:   opSet(OpEquals, OpNotEquals, OpContains, OpNotContains, OpExists, OpIn, OpNotIn),
	kindNumber: opSet(OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpExists, OpIn, OpNotIn),
	kindTime:   opSet(OpBefore, OpAfter, OpGreaterThan, OpLessThan, OpExists),
}

var knownOperators = opSet(OpEquals, OpNotEquals, OpContains, OpNotContains, OpExists,
	OpGreaterThan, OpLessThan, OpIn, OpNotIn, OpBefore, OpAfter)

// segmentClause is one compiled condition with its value already coerced.
type segmentClause struct {
	field  SegmentField
	spec   fieldSpec
	op     SegmentOperator
	str    string
	strs   []string
	num    float64
	nums   []float64
	at     time.Time
	exists bool
}

// CompiledSegment evaluates a SegmentRule. Relative time conditions were
// resolved against the compile-time clock, so every evaluation agrees.
type CompiledSegment struct {
	logic   SegmentLogic
	clauses []segmentClause
	now     time.Time
}

// CompiledAt returns the time reference captured at compile time.
func (s *CompiledSegment) CompiledAt() time.Time { return s.now }

// SegmentQueryCompiler turns SegmentRules into CompiledSegments.
type SegmentQueryCompiler struct {
	now func() time.Time
}

func NewSegmentQueryCompiler() *SegmentQueryCompiler {
	return &SegmentQueryCompiler{now: time.Now}
}

func (c *SegmentQueryCompiler) Compile(rule SegmentRule) (*CompiledSegment, error) {
	logic := SegmentLogic(strings.ToUpper(string(rule.Logic)))
	if logic == "" {
		logic = LogicAnd
	}
	if logic != LogicAnd && logic != LogicOr {
		return nil, fmt.Errorf("%w: unknown segment logic %q", ErrInputInvalid, rule.Logic)
	}

	seg := &CompiledSegment{logic: logic, now: c.now()}
	for i, cond := range rule.Conditions {
		clause, err := compileCondition(cond, seg.now)
		if err != nil {
			return nil, fmt.Errorf("%w: condition %d: %v", ErrInputInvalid, i+1, err)
		}
		seg.clauses = append(seg.clauses, clause)
	}
	return seg, nil
}

func compileCondition(cond SegmentCondition, now time.Time) (segmentClause, error) {
	spec, ok := segmentFields[cond.Field]
	if !ok {
		return segmentClause{}, fmt.Errorf("unknown field %q", cond.Field)
	}
	if !knownOperators[cond.Operator] {
		return segmentClause{}, fmt.Errorf("unknown operator %q", cond.Operator)
	}
	if !operatorsByKind[spec.kind][cond.Operator] {
		return segmentClause{}, fmt.Errorf("operator %q is not supported for field %q", cond.Operator, cond.Field)
	}

	cl := segmentClause{field: cond.Field, spec: spec, op: cond.Operator}
	var err error
	switch cond.Operator {
	case OpExists:
		cl.exists, err = toBool(cond.Value)
	case OpIn, OpNotIn:
		if spec.kind == kindNumber {
			cl.nums, err = toNumberList(cond.Value)
		} else {
			cl.strs, err = toStringList(cond.Value)
		}
	case OpBefore, OpAfter:
		cl.at, err = toTime(cond.Value)
	case OpGreaterThan, OpLessThan:
		cl.num, err = toNumber(cond.Value)
		if err == nil && spec.kind == kindTime {
			// relative: value is a number of days before now
			cl.at = now.Add(-time.Duration(cl.num * float64(24*time.Hour)))
		}
	case OpEquals, OpNotEquals:
		if spec.kind == kindNumber {
			cl.num, err = toNumber(cond.Value)
		} else {
			cl.str, err = toString(cond.Value)
		}
	case OpContains, OpNotContains:
		cl.str, err = toString(cond.Value)
		if err == nil && cl.str == "" {
			err = fmt.Errorf("%s requires a non-empty value", cond.Operator)
		}
	}
	if err != nil {
		return segmentClause{}, fmt.Errorf("field %q: %v", cond.Field, err)
	}
	if spec.kind == kindTime {
		// contacts store UTC; sqlite compares timestamps as text
		cl.at = cl.at.UTC()
	}
	if spec.kind == kindTags {
		cl.str = strings.ToLower(cl.str)
		for i := range cl.strs {
			cl.strs[i] = strings.ToLower(cl.strs[i])
		}
	}
	return cl, nil
}

// Matches reports whether the contact belongs to the segment.
func (s *CompiledSegment) Matches(c *models.Contact) bool {
	if len(s.clauses) == 0 {
		return true
	}
	for _, cl := range s.clauses {
		hit := cl.matches(c)
		if s.logic == LogicOr && hit {
			return true
		}
		if s.logic == LogicAnd && !hit {
			return false
		}
	}
	return s.logic == LogicAnd
}

func (cl segmentClause) matches(c *models.Contact) bool {
	switch cl.spec.kind {
	case kindString:
		v := stringValue(c, cl.field)
		switch cl.op {
		case OpEquals:
			return v == cl.str
		case OpNotEquals:
			return v != cl.str
		case OpContains:
			return strings.Contains(strings.ToLower(v), strings.ToLower(cl.str))
		case OpNotContains:
			return !strings.Contains(strings.ToLower(v), strings.ToLower(cl.str))
		case OpExists:
			return (v != "") == cl.exists
		case OpIn:
			return containsString(cl.strs, v)
		case OpNotIn:
			return !containsString(cl.strs, v)
		}
	case kindTags:
		tags := c.TagList()
		for i := range tags {
			tags[i] = strings.ToLower(tags[i])
		}
		switch cl.op {
		case OpEquals, OpContains:
			return containsString(tags, cl.str)
		case OpNotEquals, OpNotContains:
			return !containsString(tags, cl.str)
		case OpExists:
			return (len(tags) > 0) == cl.exists
		case OpIn, OpNotIn:
			hit := false
			for _, t := range tags {
				if containsString(cl.strs, t) {
					hit = true
					break
				}
			}
			return hit == (cl.op == OpIn)
		}
	case kindNumber:
		v := numberValue(c, cl.field)
		switch cl.op {
		case OpEquals:
			return v == cl.num
		case OpNotEquals:
			return v != cl.num
		case OpGreaterThan:
			return v > cl.num
		case OpLessThan:
			return v < cl.num
		case OpExists:
			return (v != 0) == cl.exists
		case OpIn, OpNotIn:
			found := false
			for _, n := range cl.nums {
				if n == v {
					found = true
					break
				}
			}
			return found == (cl.op == OpIn)
		}
	case kindTime:
		v := timeValue(c, cl.field)
		if cl.op == OpExists {
			return (v != nil) == cl.exists
		}
		if v == nil {
			return false
		}
		switch cl.op {
		case OpBefore, OpGreaterThan:
			return v.Before(cl.at)
		case OpAfter, OpLessThan:
			return v.After(cl.at)
		}
	}
	return false
}

// Scope restricts a gorm query on contacts to the tenant and the segment.
func (s *CompiledSegment) Scope(tenantID string) func(*gorm.DB) *gorm.DB {
	where, args := s.SQL()
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("tenant_id = ?", tenantID)
		if where != "" {
			db = db.Where(where, args...)
		}
		return db
	}
}

// SQL renders the segment as a WHERE fragment with positional arguments.
func (s *CompiledSegment) SQL() (string, []interface{}) {
	if len(s.clauses) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(s.clauses))
	var args []interface{}
	for _, cl := range s.clauses {
		frag, a := cl.sql()
		parts = append(parts, frag)
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, " "+string(s.logic)+" ") + ")", args
}

func (cl segmentClause) sql() (string, []interface{}) {
	col := cl.spec.column
	switch cl.spec.kind {
	case kindString:
		switch cl.op {
		case OpEquals:
			return col + " = ?", []interface{}{cl.str}
		case OpNotEquals:
			return "(" + col + " IS NULL OR " + col + " <> ?)", []interface{}{cl.str}
		case OpContains:
			return "LOWER(" + col + ") LIKE ? ESCAPE '\\'", []interface{}{likePattern(cl.str)}
		case OpNotContains:
			return "(" + col + " IS NULL OR LOWER(" + col + ") NOT LIKE ? ESCAPE '\\')", []interface{}{likePattern(cl.str)}
		case OpExists:
			if cl.exists {
				return "(" + col + " IS NOT NULL AND " + col + " <> '')", nil
			}
			return "(" + col + " IS NULL OR " + col + " = '')", nil
		case OpIn:
			return col + " IN ?", []interface{}{cl.strs}
		case OpNotIn:
			return "(" + col + " IS NULL OR " + col + " NOT IN ?)", []interface{}{cl.strs}
		}
	case kindTags:
		tagExpr := "(',' || LOWER(COALESCE(" + col + ", '')) || ',') LIKE ? ESCAPE '\\'"
		switch cl.op {
		case OpEquals, OpContains:
			return tagExpr, []interface{}{tagPattern(cl.str)}
		case OpNotEquals, OpNotContains:
			return "NOT " + tagExpr, []interface{}{tagPattern(cl.str)}
		case OpExists:
			if cl.exists {
				return "(" + col + " IS NOT NULL AND " + col + " <> '')", nil
			}
			return "(" + col + " IS NULL OR " + col + " = '')", nil
		case OpIn, OpNotIn:
			parts := make([]string, len(cl.strs))
			args := make([]interface{}, len(cl.strs))
			for i, t := range cl.strs {
				parts[i] = tagExpr
				args[i] = tagPattern(t)
			}
			frag := "(" + strings.Join(parts, " OR ") + ")"
			if cl.op == OpNotIn {
				frag = "NOT " + frag
			}
			return frag, args
		}
	case kindNumber:
		switch cl.op {
		case OpEquals:
			return col + " = ?", []interface{}{cl.num}
		case OpNotEquals:
			return col + " <> ?", []interface{}{cl.num}
		case OpGreaterThan:
			return col + " > ?", []interface{}{cl.num}
		case OpLessThan:
			return col + " < ?", []interface{}{cl.num}
		case OpExists:
			if cl.exists {
				return "(" + col + " IS NOT NULL AND " + col + " <> 0)", nil
			}
			return "(" + col + " IS NULL OR " + col + " = 0)", nil
		case OpIn:
			return col + " IN ?", []interface{}{cl.nums}
		case OpNotIn:
			return col + " NOT IN ?", []interface{}{cl.nums}
		}
	case kindTime:
		switch cl.op {
		case OpExists:
			if cl.exists {
				return col + " IS NOT NULL", nil
			}
			return col + " IS NULL", nil
		case OpBefore, OpGreaterThan:
			return col + " < ?", []interface{}{cl.at}
		case OpAfter, OpLessThan:
			return col + " > ?", []interface{}{cl.at}
		}
	}
	return "1 = 0", nil
}

// Filter renders the segment as a MongoDB filter on the contacts collection.
func (s *CompiledSegment) Filter(tenantID string) bson.M {
	filter := bson.M{"tenantId": tenantID}
	if len(s.clauses) == 0 {
		return filter
	}
	conds := make(bson.A, 0, len(s.clauses))
	for _, cl := range s.clauses {
		conds = append(conds, cl.bson())
	}
	if s.logic == LogicOr {
		filter["$or"] = conds
	} else {
		filter["$and"] = conds
	}
	return filter
}

func (cl segmentClause) bson() bson.M {
	key := cl.spec.key
	switch cl.spec.kind {
	case kindString:
		switch cl.op {
		case OpEquals:
			return bson.M{key: cl.str}
		case OpNotEquals:
			return bson.M{key: bson.M{"$ne": cl.str}}
		case OpContains:
			return bson.M{key: containsRegex(cl.str)}
		case OpNotContains:
			return bson.M{key: bson.M{"$not": containsRegex(cl.str)}}
		case OpExists:
			if cl.exists {
				return bson.M{key: bson.M{"$exists": true, "$nin": bson.A{nil, ""}}}
			}
			return bson.M{key: bson.M{"$in": bson.A{nil, ""}}}
		case OpIn:
			return bson.M{key: bson.M{"$in": cl.strs}}
		case OpNotIn:
			return bson.M{key: bson.M{"$nin": cl.strs}}
		}
	case kindTags:
		switch cl.op {
		case OpEquals, OpContains:
			return bson.M{key: exactRegex(cl.str)}
		case OpNotEquals, OpNotContains:
			return bson.M{key: bson.M{"$not": exactRegex(cl.str)}}
		case OpExists:
			return bson.M{key + ".0": bson.M{"$exists": cl.exists}}
		case OpIn, OpNotIn:
			patterns := make(bson.A, len(cl.strs))
			for i, t := range cl.strs {
				patterns[i] = exactRegex(t)
			}
			if cl.op == OpIn {
				return bson.M{key: bson.M{"$in": patterns}}
			}
			return bson.M{key: bson.M{"$nin": patterns}}
		}
	case kindNumber:
		switch cl.op {
		case OpEquals:
			return bson.M{key: cl.num}
		case OpNotEquals:
			return bson.M{key: bson.M{"$ne": cl.num}}
		case OpGreaterThan:
			return bson.M{key: bson.M{"$gt": cl.num}}
		case OpLessThan:
			return bson.M{key: bson.M{"$lt": cl.num}}
		case OpExists:
			if cl.exists {
				return bson.M{key: bson.M{"$exists": true, "$nin": bson.A{nil, 0}}}
			}
			return bson.M{key: bson.M{"$in": bson.A{nil, 0}}}
		case OpIn:
			return bson.M{key: bson.M{"$in": cl.nums}}
		case OpNotIn:
			return bson.M{key: bson.M{"$nin": cl.nums}}
		}
	case kindTime:
		switch cl.op {
		case OpExists:
			if cl.exists {
				return bson.M{key: bson.M{"$ne": nil}}
			}
			return bson.M{key: nil}
		case OpBefore, OpGreaterThan:
			return bson.M{key: bson.M{"$lt": cl.at}}
		case OpAfter, OpLessThan:
			return bson.M{key: bson.M{"$gt": cl.at}}
		}
	}
	return bson.M{"_id": bson.M{"$exists": false}}
}

func stringValue(c *models.Contact, f SegmentField) string {
	switch f {
	case FieldEmail:
		return c.Email
	case FieldPhone:
		return c.Phone
	case FieldName:
		return c.Name
	case FieldCompany:
		return c.Company
	case FieldStatus:
		return c.Status
	case FieldSegment:
		return c.Segment
	}
	return ""
}

func numberValue(c *models.Contact, f SegmentField) float64 {
	switch f {
	case FieldResponseCount:
		return float64(c.ResponseCount)
	case FieldAvgRating:
		return c.AvgRating
	}
	return 0
}

func timeValue(c *models.Contact, f SegmentField) *time.Time {
	switch f {
	case FieldLastActivity:
		return c.LastActivity
	case FieldCreatedAt:
		if c.CreatedAt.IsZero() {
			return nil
		}
		t := c.CreatedAt
		return &t
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(v string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(v)) + "%"
}

func tagPattern(tag string) string {
	return "%," + likeEscaper.Replace(tag) + ",%"
}

func containsRegex(v string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(v), Options: "i"}
}

func exactRegex(v string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(v) + "$", Options: "i"}
}

func toBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case nil:
		return true, nil
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("expected a boolean, got %q", t)
		}
		return b, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64, int, int64, bool, json.Number:
		return fmt.Sprint(t), nil
	case nil:
		return "", fmt.Errorf("a value is required")
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}

func toNumber(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q", t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func toStringList(v interface{}) ([]string, error) {
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []interface{}:
		for _, item := range t {
			s, err := toString(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("expected a non-empty list")
	}
	return out, nil
}

func toNumberList(v interface{}) ([]float64, error) {
	var items []interface{}
	switch t := v.(type) {
	case []interface{}:
		items = t
	case []float64:
		if len(t) == 0 {
			return nil, fmt.Errorf("expected a non-empty list")
		}
		return append([]float64(nil), t...), nil
	case []int:
		for _, n := range t {
			items = append(items, n)
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("expected a non-empty list")
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		n, err := toNumber(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t != nil {
			return *t, nil
		}
	case float64:
		return time.UnixMilli(int64(t)), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("expected a timestamp, got %q", t)
	}
	return time.Time{}, fmt.Errorf("expected a timestamp, got %T", v)
}
