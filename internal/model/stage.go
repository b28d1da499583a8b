package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is a position in the fixed seed-to-consumption lifecycle. The integer
// values are published in notifications and must never be renumbered.
type Stage uint32

const (
	StageSeed Stage = iota
	StageGerminated
	StagePlantVegetative
	StagePlantFlowering
	StagePlantHarvested
	StageProcessed
	StageDistributed
	StageConsumed
)

var stageNames = [...]string{
	StageSeed:            "seed",
	StageGerminated:      "germinated",
	StagePlantVegetative: "plant_vegetative",
	StagePlantFlowering:  "plant_flowering",
	StagePlantHarvested:  "plant_harvested",
	StageProcessed:       "processed",
	StageDistributed:     "distributed",
	StageConsumed:        "consumed",
}

// Valid reports whether s is one of the eight defined stages.
func (s Stage) Valid() bool {
	return int(s) < len(stageNames)
}

func (s Stage) String() string {
	if !s.Valid() {
		return "stage(" + strconv.FormatUint(uint64(s), 10) + ")"
	}
	return stageNames[s]
}

// ParseStage accepts either the stable integer encoding or the snake_case name.
func ParseStage(v string) (Stage, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if n, err := strconv.ParseUint(v, 10, 32); err == nil {
		s := Stage(n)
		if !s.Valid() {
			return 0, fmt.Errorf("unknown stage %d", n)
		}
		return s, nil
	}
	for i, name := range stageNames {
		if name == v {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", v)
}
