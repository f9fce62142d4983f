package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Row exposes field values to the evaluator. Projected pool rows and plain
// value maps both satisfy it.
type Row interface {
	Lookup(field string) (any, bool)
}

// Values adapts a plain map to Row.
type Values map[string]any

// Lookup implements Row.
func (v Values) Lookup(field string) (any, bool) {
	val, ok := v[field]
	return val, ok
}

// Evaluator evaluates normalised trees against rows. It never fails: an
// invalid regex is logged once and treated as a non-match. Compiled
// patterns are cached, so one Evaluator should be shared.
type Evaluator struct {
	logger *slog.Logger

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewEvaluator returns an Evaluator logging to logger (slog.Default when nil).
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger, patterns: make(map[string]*regexp.Regexp)}
}

// Evaluate reports whether row satisfies n.
func (e *Evaluator) Evaluate(n Node, row Row) bool {
	switch t := n.(type) {
	case Rule:
		return e.evaluateRule(t, row)
	case Group:
		if len(t.Children) == 0 {
			return true
		}
		if t.Mode == ModeAny {
			for _, c := range t.Children {
				if e.Evaluate(c, row) {
					return true
				}
			}
			return false
		}
		for _, c := range t.Children {
			if !e.Evaluate(c, row) {
				return false
			}
		}
		return true
	default:
		// Unknown shapes fail open.
		return true
	}
}

// Filter returns the rows satisfying n, in input order.
func Filter[R Row](e *Evaluator, n Node, rows []R) []R {
	var out []R
	for _, r := range rows {
		if e.Evaluate(n, r) {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many rows satisfy n.
func Count[R Row](e *Evaluator, n Node, rows []R) int {
	count := 0
	for _, r := range rows {
		if e.Evaluate(n, r) {
			count++
		}
	}
	return count
}

func (e *Evaluator) evaluateRule(r Rule, row Row) bool {
	var actual string
	if row != nil {
		if v, ok := row.Lookup(r.Field); ok {
			actual = Stringify(v)
		}
	}
	switch r.Operator {
	case OpNotEquals:
		return fold(actual) != fold(r.Value)
	case OpRegex:
		re := e.compile(fold(r.Value))
		if re == nil {
			return false
		}
		return re.MatchString(actual)
	case OpGreater, OpLess:
		a, okA := parseNumber(actual)
		b, okB := parseNumber(r.Value)
		if !okA || !okB {
			return false
		}
		if r.Operator == OpGreater {
			return a > b
		}
		return a < b
	default:
		return fold(actual) == fold(r.Value)
	}
}

func (e *Evaluator) compile(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.patterns[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		e.logger.Warn("invalid rule pattern treated as non-match", "pattern", pattern, "error", err)
		re = nil
	}
	e.patterns[pattern] = re
	return re
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Stringify renders a field value the way rules compare it: lists and
// objects join their elements with ", ", nil is empty.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, len(t))
		for i, el := range t {
			parts[i] = Stringify(el)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = Stringify(t[k])
		}
		return strings.Join(parts, ", ")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
