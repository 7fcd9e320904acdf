package partcraft

import (
	"reflect"
	"testing"
)

func TestStepOrdering(t *testing.T) {
	if !(Pull < Overlay && Overlay < Build && Build < Stage && Stage < Prime) {
		t.Fatal("steps are not totally ordered as Pull < Overlay < Build < Stage < Prime")
	}
}

func TestPreviousSteps(t *testing.T) {
	cases := []struct {
		step Step
		want []Step
	}{
		{Pull, nil},
		{Overlay, []Step{Pull}},
		{Build, []Step{Pull, Overlay}},
		{Stage, []Step{Pull, Overlay, Build}},
		{Prime, []Step{Pull, Overlay, Build, Stage}},
	}
	for _, tc := range cases {
		if got := tc.step.PreviousSteps(); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s.PreviousSteps() = %v, want %v", tc.step, got, tc.want)
		}
	}
}

func TestNextSteps(t *testing.T) {
	cases := []struct {
		step Step
		want []Step
	}{
		{Pull, []Step{Overlay, Build, Stage, Prime}},
		{Overlay, []Step{Build, Stage, Prime}},
		{Build, []Step{Stage, Prime}},
		{Stage, []Step{Prime}},
		{Prime, nil},
	}
	for _, tc := range cases {
		if got := tc.step.NextSteps(); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s.NextSteps() = %v, want %v", tc.step, got, tc.want)
		}
	}
}

func TestDependencyPrerequisiteStep(t *testing.T) {
	cases := []struct {
		step     Step
		want     Step
		wantOK   bool
	}{
		{Pull, 0, false},
		{Overlay, 0, false},
		{Build, Stage, true},
		{Stage, Stage, true},
		{Prime, Prime, true},
	}
	for _, tc := range cases {
		got, ok := DependencyPrerequisiteStep(tc.step)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("DependencyPrerequisiteStep(%s) = (%s, %v), want (%s, %v)", tc.step, got, ok, tc.want, tc.wantOK)
		}
	}
}
