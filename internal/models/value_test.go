package models

import (
	"encoding/json"
	"testing"
)

func TestFieldsPreserveDocumentOrder(t *testing.T) {
	input := `{"zeta":1,"alpha":{"b":true,"a":[1,"x",null]},"mid":"value"}`

	var fields Fields
	if err := json.Unmarshal([]byte(input), &fields); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keys := fields.Keys()
	if len(keys) != 3 || keys[0] != "zeta" || keys[1] != "alpha" || keys[2] != "mid" {
		t.Fatalf("unexpected key order: %v", keys)
	}

	nested, ok := fields.Get("alpha")
	if !ok || nested.Kind() != KindMap {
		t.Fatalf("expected nested map, got %v", nested.Kind())
	}
	inner, _ := nested.AsFields()
	if got := inner.Keys(); got[0] != "b" || got[1] != "a" {
		t.Fatalf("unexpected nested order: %v", got)
	}

	out, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != input {
		t.Fatalf("expected %s, got %s", input, out)
	}
}

func TestFieldsSetKeepsFirstPosition(t *testing.T) {
	var f Fields
	f.Set("a", Int(1))
	f.Set("b", Int(2))
	f.Set("a", Int(3))

	if got := f.Keys(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected keys: %v", got)
	}
	v, _ := f.Get("a")
	if n, _ := v.AsNumber(); n != 3 {
		t.Fatalf("expected overwritten value 3, got %v", n)
	}
}

func TestFieldsCloneIsDeep(t *testing.T) {
	var inner Fields
	inner.Set("host", String("core-router-1"))
	var outer Fields
	outer.Set("inner", Map(inner))

	clone := outer.Clone()
	inner.Set("host", String("edge-router-3"))

	v, _ := clone.Get("inner")
	f, _ := v.AsFields()
	if host, _ := f.GetString("host"); host != "core-router-1" {
		t.Fatalf("clone shares state with source: %s", host)
	}
	if !clone.Equal(outer) {
		t.Fatalf("expected clone to equal source")
	}
}

func TestValueRejectsTrailingData(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"a":1}`), &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := v.UnmarshalJSON([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestRankedHypothesesValidate(t *testing.T) {
	valid := RankedHypotheses{
		Hypotheses: []string{"fiber cut", "power loss"},
		Confidence: map[string]float64{"fiber cut": 0.7, "power loss": 0.2},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]RankedHypotheses{
		"empty":      {},
		"mismatch":   {Hypotheses: []string{"a"}, Confidence: map[string]float64{"b": 0.5}},
		"extra key":  {Hypotheses: []string{"a"}, Confidence: map[string]float64{"a": 0.5, "b": 0.1}},
		"range":      {Hypotheses: []string{"a"}, Confidence: map[string]float64{"a": 1.2}},
		"negative":   {Hypotheses: []string{"a"}, Confidence: map[string]float64{"a": -0.1}},
		"duplicate":  {Hypotheses: []string{"a", "a"}, Confidence: map[string]float64{"a": 0.5}},
		"blank text": {Hypotheses: []string{" "}, Confidence: map[string]float64{" ": 0.5}},
	}
	for name, tc := range cases {
		if err := tc.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestMaxSeverity(t *testing.T) {
	if got := MaxSeverity(SeverityInfo, SeverityCritical, SeverityWarning); got != SeverityCritical {
		t.Fatalf("expected critical, got %s", got)
	}
	if got := MaxSeverity(); got != SeverityInfo {
		t.Fatalf("expected info default, got %s", got)
	}
}

func TestAlertTagRejectsBlankAndNonString(t *testing.T) {
	alert := Alert{Tags: NewFields("incident", "  ", "other", 3)}
	if _, ok := alert.Tag("incident"); ok {
		t.Fatalf("blank tag should not be usable")
	}
	if _, ok := alert.Tag("other"); ok {
		t.Fatalf("numeric tag should not be usable")
	}
}
