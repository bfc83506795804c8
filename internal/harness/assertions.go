package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Order    int    // Delivery permutation
	Replica  string // Replica the assertion failed on
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s (order %d", e.Type, e.Order)
	if e.Replica != "" {
		fmt.Fprintf(&buf, ", replica %s", e.Replica)
	}
	buf.WriteString(")\n")
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	return buf.String()
}

// evaluate checks every assertion against order k and records failures.
func (h *Harness) evaluate(order int, digests []string, want string) {
	for _, a := range h.scenario.Assertions {
		if a.Type == AssertConverged {
			if err := assertConverged(order, h.scenario.Replicas, digests, want); err != nil {
				h.fail(err.Error())
			}
			continue
		}
		for _, r := range h.replicas {
			if err := assertReplica(order, r, a); err != nil {
				h.fail(err.Error())
			}
		}
	}
}

func assertConverged(order int, ids, digests []string, want string) error {
	for i, d := range digests {
		if d != want {
			return &AssertionError{
				Type:     AssertConverged,
				Order:    order,
				Replica:  ids[i],
				Expected: "digest " + short(want),
				Actual:   "digest " + short(d),
			}
		}
	}
	return nil
}

func assertReplica(order int, r *replica, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Order: order, Replica: r.id, Expected: expected, Actual: actual}
	}

	switch a.Type {
	case AssertElement:
		el, ok := r.eng.Element(a.ID)
		if !ok {
			return fail("element "+a.ID+" to exist", "absent")
		}
		if mismatches := matchElement(el, a.Expect); len(mismatches) > 0 {
			return fail(fmt.Sprintf("element %s with %v", a.ID, a.Expect), strings.Join(mismatches, "; "))
		}
	case AssertAbsent:
		if _, ok := r.eng.Element(a.ID); ok {
			return fail("element "+a.ID+" to be absent", "live")
		}
	case AssertCount:
		if n := len(r.eng.Snapshot()); n != a.Count {
			return fail(fmt.Sprintf("%d live elements", a.Count), fmt.Sprintf("%d", n))
		}
	case AssertPending:
		if n := r.eng.PendingLen(); n != a.Count {
			return fail(fmt.Sprintf("%d pending", a.Count), fmt.Sprintf("%d", n))
		}
	}
	return nil
}

// matchElement compares the listed fields of el and returns a description
// of each mismatch, sorted by field.
func matchElement(el board.Element, expect map[string]any) []string {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		want := expect[k]
		got, ok := elementField(el, k)
		if !ok {
			out = append(out, fmt.Sprintf("%s: unknown field", k))
			continue
		}
		if !valuesEqual(got, want) {
			out = append(out, fmt.Sprintf("%s: want %v, got %v", k, want, got))
		}
	}
	return out
}

func elementField(el board.Element, key string) (any, bool) {
	switch key {
	case "x":
		return el.Position.X, true
	case "y":
		return el.Position.Y, true
	case "w":
		return el.Size.W, true
	case "h":
		return el.Size.H, true
	case "type":
		return string(el.Type), true
	case "parent":
		return el.ParentID, true
	case "version":
		return el.Version, true
	}
	if name, ok := strings.CutPrefix(key, "style."); ok {
		v, present := el.Style[name]
		if !present {
			return nil, true
		}
		return fromValue(v), true
	}
	return nil, false
}

// fromValue unwraps a board value into plain Go values.
func fromValue(v board.Value) any {
	switch val := v.(type) {
	case board.String:
		return string(val)
	case board.Number:
		return float64(val)
	case board.Bool:
		return bool(val)
	default:
		return val
	}
}

// valuesEqual compares with numeric coercion, since YAML decodes whole
// numbers as int.
func valuesEqual(got, want any) bool {
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		return gf == wf
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
