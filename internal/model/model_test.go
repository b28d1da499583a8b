package model

import "testing"

func TestParseStage(t *testing.T) {
	cases := map[string]Stage{
		"0":               StageSeed,
		"7":               StageConsumed,
		"plant_flowering": StagePlantFlowering,
		" Processed ":     StageProcessed,
		"plant_harvested": StagePlantHarvested,
	}
	for in, want := range cases {
		got, err := ParseStage(in)
		if err != nil {
			t.Fatalf("ParseStage(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseStage(%q) = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"8", "flowering", "", "-1"} {
		if _, err := ParseStage(bad); err == nil {
			t.Fatalf("ParseStage(%q) expected error", bad)
		}
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Cultivator")
	if err != nil || r != RoleCultivator {
		t.Fatalf("ParseRole: got %q, %v", r, err)
	}
	if _, err := ParseRole("superuser"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	loc := "greenhouse-2"
	a := Asset{Location: &loc, Attributes: []Attribute{{TraitType: "strain", Value: "haze"}}}
	cp := a.Clone()
	*cp.Location = "moved"
	cp.Attributes[0].Value = "kush"
	if *a.Location != "greenhouse-2" {
		t.Fatalf("clone aliased location")
	}
	if a.Attributes[0].Value != "haze" {
		t.Fatalf("clone aliased attributes")
	}
}
