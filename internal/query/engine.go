// Package query filters a room dataset and reduces it to counts and aggregates.
package query

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/af-corp/facility-assistant/internal/rooms"
)

var ErrInvalidRequest = errors.New("invalid request")

// Type is the reduction applied to the candidate rooms.
type Type string

const (
	TypeCount  Type = "count"
	TypeFilter Type = "filter"
	TypeSum    Type = "sum"
	TypeAvg    Type = "avg"
	TypeMin    Type = "min"
	TypeMax    Type = "max"
)

// Types lists every supported reduction in catalog order.
var Types = []Type{TypeAvg, TypeCount, TypeFilter, TypeMax, TypeMin, TypeSum}

// ParseType resolves a reduction name case-insensitively.
func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

func (t Type) needsParameter() bool {
	switch t {
	case TypeSum, TypeAvg, TypeMin, TypeMax:
		return true
	}
	return false
}

// Filter restricts the candidate set. Empty clauses match every room.
type Filter struct {
	Level  string `json:"level,omitempty"`
	Status string `json:"status,omitempty"`
}

// Request is one aggregation over a dataset.
type Request struct {
	Type      Type    `json:"type"`
	Filter    *Filter `json:"filter,omitempty"`
	Parameter string  `json:"parameter,omitempty"`
}

// Result carries the reduced value and the room names that produced it.
// Value is nil for filter requests and for min/max when no candidate has a value.
type Result struct {
	Value *float64 `json:"value,omitempty"`
	Rooms []string `json:"rooms,omitempty"`
}

// DefaultParameters maps the parameter names exposed to the model onto dataset attributes.
var DefaultParameters = map[string]string{
	"area":        "Area",
	"co2":         "CO2",
	"humidity":    "Humidity",
	"temperature": "Temperature",
}

// Engine evaluates requests. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	parameters map[string]string
}

// NewEngine returns an engine over the given parameter map, or DefaultParameters when
// params is empty. Parameter names are matched case-insensitively.
func NewEngine(params map[string]string) *Engine {
	if len(params) == 0 {
		params = DefaultParameters
	}
	m := make(map[string]string, len(params))
	for name, attr := range params {
		m[strings.ToLower(name)] = attr
	}
	return &Engine{parameters: m}
}

// Parameters returns the accepted parameter names, sorted.
func (e *Engine) Parameters() []string {
	names := make([]string, 0, len(e.parameters))
	for name := range e.parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attribute returns the dataset attribute a parameter name projects.
func (e *Engine) Attribute(parameter string) (string, bool) {
	attr, ok := e.parameters[strings.ToLower(parameter)]
	return attr, ok
}

var defaultEngine = NewEngine(nil)

// Evaluate runs req against ds with the default parameter map.
func Evaluate(req Request, ds *rooms.Dataset) (Result, error) {
	return defaultEngine.Evaluate(req, ds)
}

// Evaluate selects the rooms matching req.Filter and reduces them by req.Type.
// A nil or empty dataset yields an empty result rather than an error.
func (e *Engine) Evaluate(req Request, ds *rooms.Dataset) (Result, error) {
	typ, ok := ParseType(string(req.Type))
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown aggregation type %q", ErrInvalidRequest, req.Type)
	}

	var attr string
	if typ.needsParameter() {
		if req.Parameter == "" {
			return Result{}, fmt.Errorf("%w: %s requires a parameter", ErrInvalidRequest, typ)
		}
		if attr, ok = e.Attribute(req.Parameter); !ok {
			return Result{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidRequest, req.Parameter)
		}
	}

	candidates := selectRooms(ds, req.Filter)

	switch typ {
	case TypeCount:
		n := float64(len(candidates))
		return Result{Value: &n, Rooms: names(candidates)}, nil
	case TypeFilter:
		return Result{Rooms: names(candidates)}, nil
	case TypeSum, TypeAvg:
		res := sumOrAvg(typ, candidates, attr)
		if math.IsInf(*res.Value, 0) {
			return Result{}, fmt.Errorf("%w: %s of %s is out of range", ErrInvalidRequest, typ, req.Parameter)
		}
		return res, nil
	default:
		return extreme(typ, candidates, attr), nil
	}
}

func selectRooms(ds *rooms.Dataset, f *Filter) []rooms.Record {
	var out []rooms.Record
	for _, r := range ds.Records() {
		if f == nil || (matches(r.Attributes, rooms.AttrLevel, f.Level) && matches(r.Attributes, rooms.AttrStatus, f.Status)) {
			out = append(out, r)
		}
	}
	return out
}

func matches(attrs rooms.Attributes, name, want string) bool {
	if want == "" {
		return true
	}
	got, ok := attrs.Text(name)
	return ok && strings.EqualFold(got, want)
}

func sumOrAvg(typ Type, candidates []rooms.Record, attr string) Result {
	var (
		total    float64
		contribs []string
	)
	for _, r := range candidates {
		if v, ok := r.Attributes.Float(attr); ok {
			total += v
			contribs = append(contribs, r.Name)
		}
	}
	value := total
	if typ == TypeAvg {
		value = 0
		if len(contribs) > 0 {
			value = total / float64(len(contribs))
		}
	}
	return Result{Value: &value, Rooms: contribs}
}

func extreme(typ Type, candidates []rooms.Record, attr string) Result {
	var (
		best  float64
		found bool
		tied  []string
	)
	for _, r := range candidates {
		v, ok := r.Attributes.Float(attr)
		if !ok {
			continue
		}
		switch {
		case !found, typ == TypeMax && v > best, typ == TypeMin && v < best:
			best, found = v, true
			tied = append(tied[:0], r.Name)
		case v == best:
			tied = append(tied, r.Name)
		}
	}
	if !found {
		return Result{}
	}
	return Result{Value: &best, Rooms: tied}
}

func names(records []rooms.Record) []string {
	if len(records) == 0 {
		return nil
	}
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}
