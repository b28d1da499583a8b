// Package lifecycle encodes the fixed seed-to-consumption stage graph and the
// role that may move an asset into each stage.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
)

// ErrInvalidTarget is returned by RequiredRole for stages that can never be
// entered through a transition.
var ErrInvalidTarget = errors.New("invalid target stage")

var requiredRoles = map[model.Stage]model.Role{
	model.StageGerminated:      model.RoleCultivator,
	model.StagePlantVegetative: model.RoleCultivator,
	model.StagePlantFlowering:  model.RoleCultivator,
	model.StagePlantHarvested:  model.RoleCultivator,
	model.StageProcessed:       model.RoleProcessor,
	model.StageDistributed:     model.RoleDispensary,
	model.StageConsumed:        model.RoleDispensary,
}

// Stages returns the lifecycle in order, Seed first.
func Stages() []model.Stage {
	out := make([]model.Stage, 0, int(model.StageConsumed)+1)
	for s := model.StageSeed; s <= model.StageConsumed; s++ {
		out = append(out, s)
	}
	return out
}

// Successor returns the single stage reachable from s. ok is false for the
// terminal stage and for undefined stages.
func Successor(s model.Stage) (next model.Stage, ok bool) {
	if !s.Valid() || IsTerminal(s) {
		return 0, false
	}
	return s + 1, true
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s model.Stage) bool {
	return s == model.StageConsumed
}

// CanTransition reports whether to is the immediate successor of from.
func CanTransition(from, to model.Stage) bool {
	next, ok := Successor(from)
	return ok && next == to
}

// RequiredRole maps a target stage to the role allowed to cause entry into it.
// Authorization follows the kind of action, not possession of the asset.
func RequiredRole(to model.Stage) (model.Role, error) {
	role, ok := requiredRoles[to]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidTarget, to)
	}
	return role, nil
}
