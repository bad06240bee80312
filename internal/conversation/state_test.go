package conversation

import (
	"errors"
	"strings"
	"testing"
)

func TestThreeInputsReachSubmitting(t *testing.T) {
	inputs := [][3]string{
		{"Paris", "IDF", "FR"},
		{"  São Paulo ", "SP", "Brazil  "},
		{"x", "y", "z"},
	}

	for _, in := range inputs {
		s := New()

		tr, err := s.Advance(in[0])
		if err != nil || tr.Prompt != PromptState || tr.Submit {
			t.Fatalf("city step: %+v %v", tr, err)
		}
		tr, err = s.Advance(in[1])
		if err != nil || tr.Prompt != PromptCountry || tr.Submit {
			t.Fatalf("state step: %+v %v", tr, err)
		}
		tr, err = s.Advance(in[2])
		if err != nil || !tr.Submit {
			t.Fatalf("country step: %+v %v", tr, err)
		}

		if s.Step() != Submitting {
			t.Fatalf("expected Submitting, got %s", s.Step())
		}
		want := SearchParams{City: strings.TrimSpace(in[0]), State: strings.TrimSpace(in[1]), Country: strings.TrimSpace(in[2])}
		if s.Params() != want {
			t.Fatalf("expected %+v, got %+v", want, s.Params())
		}
		if !s.Params().Complete() {
			t.Fatal("expected complete params")
		}
	}
}

func TestBlankInputIsNoOp(t *testing.T) {
	s := New()
	for step := 0; step < 3; step++ {
		before, beforeParams := s.Step(), s.Params()
		for _, blank := range []string{"", "   ", "\t\n"} {
			if _, err := s.Advance(blank); !errors.Is(err, ErrEmptyInput) {
				t.Fatalf("expected ErrEmptyInput, got %v", err)
			}
			if s.Step() != before || s.Params() != beforeParams {
				t.Fatalf("blank input changed state at step %s", before)
			}
		}
		s.Advance("v")
	}
}

func TestAdvanceFromSubmittingIsRejected(t *testing.T) {
	s := New()
	s.Advance("Paris")
	s.Advance("IDF")
	s.Advance("FR")

	if _, err := s.Advance("again"); !errors.Is(err, ErrNotAccepting) {
		t.Fatalf("expected ErrNotAccepting, got %v", err)
	}
	if s.Params().Country != "FR" {
		t.Fatal("submitting params must not change")
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.Advance("Paris")
	s.Advance("IDF")

	if got := s.Reset(); got != PromptCity {
		t.Fatalf("expected initial prompt, got %q", got)
	}
	if s.Step() != AwaitingCity || s.Params() != (SearchParams{}) {
		t.Fatalf("expected fresh state, got %s %+v", s.Step(), s.Params())
	}
}

func TestRestore(t *testing.T) {
	s := New()
	if err := s.Restore(SearchParams{City: "Paris"}); err == nil {
		t.Fatal("expected incomplete params to be rejected")
	}
	if s.Step() != AwaitingCity {
		t.Fatal("failed restore must not change state")
	}

	p := SearchParams{City: "Paris", State: "IDF", Country: "FR"}
	if err := s.Restore(p); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if s.Step() != Submitting || s.Params() != p {
		t.Fatalf("expected Submitting with %+v, got %s %+v", p, s.Step(), s.Params())
	}
}
