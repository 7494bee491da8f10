package cip

import "testing"

func TestParseSimpleSymbol(t *testing.T) {
	tp, err := Parse("Tag1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tp.Steps) != 1 || tp.Steps[0].Kind != StepSymbolic || tp.Steps[0].Name != "Tag1" {
		t.Fatalf("unexpected steps: %+v", tp.Steps)
	}
	if tp.String() != "Tag1" {
		t.Fatalf("String() = %q, want %q", tp.String(), "Tag1")
	}
}

func TestParseMemberAccess(t *testing.T) {
	tp, err := Parse("Tag1.Member2.Sub")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"Tag1", "Member2", "Sub"}
	if len(tp.Steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(tp.Steps), len(want))
	}
	for i, name := range want {
		if tp.Steps[i].Kind != StepSymbolic || tp.Steps[i].Name != name {
			t.Fatalf("step %d = %+v, want symbolic %q", i, tp.Steps[i], name)
		}
	}
}

func TestParseProgramScope(t *testing.T) {
	tp, err := Parse("Program:MainProgram.Tag1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tp.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(tp.Steps))
	}
	if tp.Steps[0].Kind != StepProgram || tp.Steps[0].Name != "MainProgram" {
		t.Fatalf("step 0 = %+v, want Program step MainProgram", tp.Steps[0])
	}
	if tp.Steps[1].Kind != StepSymbolic || tp.Steps[1].Name != "Tag1" {
		t.Fatalf("step 1 = %+v, want symbolic Tag1", tp.Steps[1])
	}
}

func TestParseProgramNotAtStartRejected(t *testing.T) {
	_, err := Parse("Tag1.Program:Foo")
	if err == nil {
		t.Fatal("expected error for Program: not at the start of the path")
	}
	if _, ok := err.(*SyntaxError); !ok {
		if _, ok := err.(*SemanticError); !ok {
			t.Fatalf("got %T, want SyntaxError or SemanticError", err)
		}
	}
}

func TestParseElementIndex(t *testing.T) {
	tp, err := Parse("Tag1[5]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tp.Steps) != 2 || tp.Steps[1].Kind != StepElement {
		t.Fatalf("unexpected steps: %+v", tp.Steps)
	}
	if len(tp.Steps[1].Indices) != 1 || tp.Steps[1].Indices[0] != 5 {
		t.Fatalf("indices = %v, want [5]", tp.Steps[1].Indices)
	}
}

func TestParseRank3Array(t *testing.T) {
	tp, err := Parse("Tag1[1,2,3]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	indices := tp.Steps[1].Indices
	if len(indices) != 3 || indices[0] != 1 || indices[1] != 2 || indices[2] != 3 {
		t.Fatalf("indices = %v, want [1 2 3]", indices)
	}
}

func TestParseRank4ArrayRejected(t *testing.T) {
	_, err := Parse("Tag1[1,2,3,4]")
	if err == nil {
		t.Fatal("expected error for rank-4 array")
	}
	se, ok := err.(*SemanticError)
	if !ok {
		t.Fatalf("got %T, want *SemanticError", err)
	}
	t.Logf("got expected semantic error: %v", se)
}

func TestParseBitSelector(t *testing.T) {
	tp, err := Parse("Tag1.5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	bit, ok := tp.Bit()
	if !ok || bit != 5 {
		t.Fatalf("Bit() = (%d, %v), want (5, true)", bit, ok)
	}
}

func TestParseBitSelectorMaximum(t *testing.T) {
	tp, err := Parse("Tag1.63")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	bit, ok := tp.Bit()
	if !ok || bit != 63 {
		t.Fatalf("Bit() = (%d, %v), want (63, true)", bit, ok)
	}
}

func TestParseBitSelectorOutOfRangeRejected(t *testing.T) {
	_, err := Parse("Tag1.64")
	if err == nil {
		t.Fatal("expected error for bit index 64")
	}
	if _, ok := err.(*SemanticError); !ok {
		t.Fatalf("got %T, want *SemanticError", err)
	}
}

func TestParseBitSelectorMustBeLastStep(t *testing.T) {
	_, err := Parse("Tag1.5.Member")
	if err == nil {
		t.Fatal("expected error when a bit selector is followed by another step")
	}
	if _, ok := err.(*SemanticError); !ok {
		t.Fatalf("got %T, want *SemanticError", err)
	}
}

func TestParseNoBitOnPlainPath(t *testing.T) {
	tp, err := Parse("Tag1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := tp.Bit(); ok {
		t.Fatal("Bit() reported a bit selector on a plain path")
	}
}

func TestParseEmptyPathRejected(t *testing.T) {
	_, err := Parse("")
	if err == nil {
		t.Fatal("expected error for empty tag path")
	}
	if _, ok := err.(*SyntaxError); !ok {
		t.Fatalf("got %T, want *SyntaxError", err)
	}
}

func TestParseWhitespaceRejected(t *testing.T) {
	_, err := Parse("Tag 1")
	if err == nil {
		t.Fatal("expected error for a path containing whitespace")
	}
	if _, ok := err.(*SyntaxError); !ok {
		t.Fatalf("got %T, want *SyntaxError", err)
	}
}

func TestParseMalformedSyntaxRejected(t *testing.T) {
	cases := []string{
		"Tag1.",
		"Tag1[",
		"Tag1[1,2",
		"1Tag",
		"Tag1..Member",
	}
	for _, text := range cases {
		_, err := Parse(text)
		if err == nil {
			t.Errorf("Parse(%q): expected an error, got none", text)
			continue
		}
		if _, ok := err.(*SyntaxError); !ok {
			t.Errorf("Parse(%q) = %T, want *SyntaxError", text, err)
		}
	}
}

func TestWithoutBitStripsTrailingBit(t *testing.T) {
	tp, err := Parse("Tag1.Member.5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	stripped := tp.WithoutBit()
	if len(stripped.Steps) != 2 {
		t.Fatalf("got %d steps after WithoutBit, want 2", len(stripped.Steps))
	}
	for _, s := range stripped.Steps {
		if s.Kind == StepBit {
			t.Fatal("WithoutBit left a StepBit step in place")
		}
	}
	if _, ok := stripped.Bit(); ok {
		t.Fatal("stripped path still reports a bit selector")
	}
}

func TestWithoutBitNoOpWhenNoBit(t *testing.T) {
	tp, err := Parse("Tag1.Member")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	stripped := tp.WithoutBit()
	if len(stripped.Steps) != len(tp.Steps) {
		t.Fatalf("WithoutBit changed step count from %d to %d with no bit present", len(tp.Steps), len(stripped.Steps))
	}
}
