package manifest

import (
	"github.com/bilusteknoloji/pixi/internal/pixierr"
)

// validateEnvironmentRefs checks that every environment's feature list names
// a feature that actually exists.
func (ws *Workspace) validateEnvironmentRefs() error {
	for envName, env := range ws.Environments {
		for _, featureName := range env.FeatureNames {
			if _, ok := ws.Features[featureName]; !ok {
				return &pixierr.ManifestError{Kind: "UnknownFeatureRef", Location: "environments." + envName + " -> " + featureName}
			}
		}
	}

	return nil
}

// validateCycles checks that no feature's task graph contains a depends-on
// cycle. Each feature is checked independently, since depends-on only ever
// names tasks local to the same environment's merged task table and a task
// belonging to a single feature is the finest-grained unit we can validate
// before merge.
func (ws *Workspace) validateCycles() error {
	for _, f := range ws.Features {
		if err := validateTaskCycles(f.Name, f.Tasks); err != nil {
			return err
		}

		for _, override := range f.Targets {
			if err := validateTaskCycles(f.Name, override.Tasks); err != nil {
				return err
			}
		}
	}

	return nil
}

const (
	taskStateUnvisited = 0
	taskStateVisiting  = 1
	taskStateDone      = 2
)

func validateTaskCycles(featureName string, tasks map[string]*Task) error {
	state := make(map[string]int, len(tasks))

	var visit func(name string, path []string) error

	visit = func(name string, path []string) error {
		switch state[name] {
		case taskStateDone:
			return nil
		case taskStateVisiting:
			return &pixierr.ManifestError{Kind: "CycleInDependsOn", Location: "feature." + featureName + ".tasks." + name}
		}

		t, ok := tasks[name]
		if !ok {
			return nil
		}

		state[name] = taskStateVisiting

		for _, dep := range t.DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}

		state[name] = taskStateDone

		return nil
	}

	for name := range tasks {
		if state[name] == taskStateUnvisited {
			if err := visit(name, nil); err != nil {
				return err
			}
		}
	}

	return nil
}
