package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pixi/internal/lockfile"
)

func newTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree [package]",
		Short: "Show the dependency tree recorded in the lockfile for an environment",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTree,
	}

	cmd.Flags().String("platform", "", "Target platform (default: host platform)")

	return cmd
}

// runTree reads pixi.lock (never the network) and renders the recorded
// dependency graph for one (environment, platform) slice, optionally
// rooted at a single package name.
func runTree(cmd *cobra.Command, args []string) error {
	g := parseGlobalFlags(cmd)
	logger := newLogger(g.verbose)

	s, err := loadWorkspace(g, logger)
	if err != nil {
		return err
	}

	platform, err := resolvePlatformFlag(cmd, s.ws)
	if err != nil {
		return err
	}

	lf, err := lockfile.Read(lockfilePath(s.ws))
	if err != nil {
		return err
	}

	slice, ok := lf.Slice(g.environment, platform)
	if !ok {
		return fmt.Errorf("no lockfile entry for %s/%s; run `pixi lock` first", g.environment, platform)
	}

	byName := make(map[string]lockfile.Record, len(slice.Records))
	for _, r := range slice.Records {
		byName[r.Name()] = r
	}

	roots := sortedNames(byName)
	if len(args) == 1 {
		if _, ok := byName[args[0]]; !ok {
			return fmt.Errorf("package %q is not in the %s/%s lockfile slice", args[0], g.environment, platform)
		}

		roots = []string{args[0]}
	}

	printed := map[string]bool{}
	for _, name := range roots {
		printNode(name, byName, 0, printed)
	}

	return nil
}

func printNode(name string, byName map[string]lockfile.Record, depth int, printed map[string]bool) {
	rec, ok := byName[name]
	if !ok {
		fmt.Printf("%s%s (not in lockfile)\n", strings.Repeat("  ", depth), name)

		return
	}

	version := recordVersion(rec)
	fmt.Printf("%s%s %s\n", strings.Repeat("  ", depth), name, version)

	if printed[name] && depth > 0 {
		return
	}

	printed[name] = true

	for _, dep := range recordDependencyNames(rec) {
		if dep == name {
			continue
		}

		printNode(dep, byName, depth+1, printed)
	}
}

func recordVersion(r lockfile.Record) string {
	switch r.Kind {
	case lockfile.RecordConda:
		return r.Conda.Version
	case lockfile.RecordPyPIWheel, lockfile.RecordPyPISource:
		return r.PyPI.Version
	case lockfile.RecordSourceBuilt:
		return r.SourceBuilt.Produced.Version
	default:
		return ""
	}
}

// recordDependencyNames extracts the leading package name from each of a
// record's raw dependency strings (conda `depends`, PyPI `requires-dist`),
// good enough for tree rendering without re-parsing full MatchSpec/PEP 508
// grammar just to print a name.
func recordDependencyNames(r lockfile.Record) []string {
	var raw []string

	switch r.Kind {
	case lockfile.RecordConda:
		raw = r.Conda.Depends
	case lockfile.RecordPyPIWheel, lockfile.RecordPyPISource:
		raw = r.PyPI.RequiresDist
	case lockfile.RecordSourceBuilt:
		raw = r.SourceBuilt.Produced.Depends
	}

	names := make([]string, 0, len(raw))

	for _, d := range raw {
		fields := strings.Fields(d)
		if len(fields) == 0 {
			continue
		}

		name := fields[0]
		if cut := strings.IndexAny(name, "<>=!~;(["); cut >= 0 {
			name = name[:cut]
		}

		if name != "" {
			names = append(names, name)
		}
	}

	return names
}

func sortedNames(byName map[string]lockfile.Record) []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
