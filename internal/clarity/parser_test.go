package clarity

import (
	"errors"
	"testing"
)

func TestParseTupleFlat(t *testing.T) {
	got, err := ParseTuple(`(tuple (event "bet-placed") (outcome true) (amount u5000000))`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if ev, _ := got.String("event"); ev != "bet-placed" {
		t.Errorf("event = %q, want bet-placed", ev)
	}
	if outcome, ok := got.Bool("outcome"); !ok || !outcome {
		t.Errorf("outcome = %v/%v, want true", outcome, ok)
	}
	if amount, ok := got.Uint("amount"); !ok || amount != 5000000 {
		t.Errorf("amount = %d/%v, want 5000000", amount, ok)
	}
}

func TestParseTupleNestedValueSpans(t *testing.T) {
	// A naive split on the next closing paren corrupts nested fields;
	// the parser must balance depth, including parens inside strings.
	repr := `(tuple
		(event "market-resolved")
		(winner (some u1))
		(meta (tuple (oracle 'ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG) (note "see (a)")))
		(payout u12340000))`

	got, err := ParseTuple(repr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("top-level keys = %d, want 4", len(got))
	}

	if winner, ok := got.Uint("winner"); !ok || winner != 1 {
		t.Errorf("winner = %d/%v, want unwrapped (some u1)", winner, ok)
	}

	meta, ok := got.Sub("meta")
	if !ok {
		t.Fatalf("meta should decode as nested tuple, got %+v", got["meta"])
	}
	if oracle, ok := meta.Principal("oracle"); !ok || oracle != "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG" {
		t.Errorf("oracle = %q/%v", oracle, ok)
	}
	if note, _ := meta.String("note"); note != "see (a)" {
		t.Errorf("note = %q, parens inside strings must not affect balancing", note)
	}

	if payout, _ := got.Uint("payout"); payout != 12340000 {
		t.Errorf("payout = %d, want 12340000", payout)
	}
}

func TestParseTupleLiteralForms(t *testing.T) {
	repr := `(tuple (a u42) (b -7) (c "hi \"there\"") (d false) (e 'SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE) (f none) (g (err u100)))`
	got, err := ParseTuple(repr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if v := got["b"]; v.Kind != KindInt || v.Int != -7 {
		t.Errorf("b = %+v, want int -7", v)
	}
	if s, _ := got.String("c"); s != `hi "there"` {
		t.Errorf("c = %q", s)
	}
	if v := got["e"]; v.Kind != KindPrincipal {
		t.Errorf("e = %+v, want principal", v)
	}
	// Unclassifiable spans are retained raw, not dropped.
	if v := got["f"]; v.Kind != KindRaw || v.Str != "none" {
		t.Errorf("f = %+v, want raw none", v)
	}
	if v := got["g"]; v.Kind != KindRaw || v.Str != "(err u100)" {
		t.Errorf("g = %+v, want raw fallback span", v)
	}
}

func TestParseTupleWrapperKeywordsAreWholeAtoms(t *testing.T) {
	// a group whose head merely shares a wrapper keyword's prefix is a
	// raw span, not a (some ...) or (ok ...) unwrap
	repr := `(tuple (a (something u1)) (b (okay u2)) (c (some u3)) (d (ok u4)))`
	got, err := ParseTuple(repr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if v := got["a"]; v.Kind != KindRaw || v.Str != "(something u1)" {
		t.Errorf("a = %+v, want raw (something u1)", v)
	}
	if v := got["b"]; v.Kind != KindRaw || v.Str != "(okay u2)" {
		t.Errorf("b = %+v, want raw (okay u2)", v)
	}
	if v, ok := got.Uint("c"); !ok || v != 3 {
		t.Errorf("c = %d/%v, want unwrapped (some u3)", v, ok)
	}
	if v, ok := got.Uint("d"); !ok || v != 4 {
		t.Errorf("d = %d/%v, want unwrapped (ok u4)", v, ok)
	}
}

func TestParseTupleFailsClosed(t *testing.T) {
	inputs := []string{
		"",
		"(list u1 u2)",
		"(tuple (event",
		`(tuple (event "unterminated))`,
		"(tuple (event u1)) trailing",
		"(tuple event u1)",
	}
	for _, in := range inputs {
		got, err := ParseTuple(in)
		if err == nil {
			t.Errorf("ParseTuple(%q) should fail", in)
		}
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseTuple(%q) error %v should wrap ErrMalformed", in, err)
		}
		if len(got) != 0 {
			t.Errorf("ParseTuple(%q) must not return partial results, got %v", in, got)
		}
	}
}

func TestParseTupleDeepNesting(t *testing.T) {
	repr := `(tuple (deep (tuple (mid (tuple (leaf u9))))))`
	got, err := ParseTuple(repr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	deep, _ := got.Sub("deep")
	mid, _ := deep.Sub("mid")
	if leaf, ok := mid.Uint("leaf"); !ok || leaf != 9 {
		t.Fatalf("leaf = %d/%v, want 9", leaf, ok)
	}
}
