package linker

import (
	"errors"
	"slices"
)

var errNoOutput = errors.New("linker: spec has no output path")

// Shared links with "-shared" as on ELF platforms.
type Shared struct {
	ID string
}

func (a Shared) Platform() string { return a.ID }

func (a Shared) BuildLinkCommands(spec Spec) (Plan, error) {
	return singleInvocation(spec, []string{"-shared"})
}

// Bundle links a loadable bundle that resolves host symbols at load time.
type Bundle struct{}

func (Bundle) Platform() string { return "darwin" }

func (Bundle) BuildLinkCommands(spec Spec) (Plan, error) {
	return singleInvocation(spec, []string{"-bundle", "-undefined", "dynamic_lookup"})
}

func singleInvocation(spec Spec, mode []string) (Plan, error) {
	if spec.Output() == "" {
		return Plan{}, errNoOutput
	}
	args := slices.Clone(mode)
	args = append(args, spec.ExtraFlags()...)
	args = append(args, "-o", spec.Output())
	args = append(args, spec.StartupObjects()...)
	args = append(args, spec.Objects()...)
	args = append(args, searchFlags(spec.SearchPaths())...)
	args = append(args, libFlags(spec.Libraries())...)
	args = append(args, bagFlags(spec, nil)...)
	return Plan{Invocations: []Invocation{{Program: spec.Linker(), Args: args}}}, nil
}

func searchFlags(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = "-L" + p
	}
	return out
}

func libFlags(libs []string) []string {
	out := make([]string, len(libs))
	for i, l := range libs {
		out[i] = "-l" + l
	}
	return out
}

// bagFlags renders the flag bag in key order, skipping consumed keys.
func bagFlags(spec Spec, consumed map[string]bool) []string {
	var out []string
	for _, k := range spec.FlagKeys() {
		if consumed[k] {
			continue
		}
		v, _ := spec.Flag(k)
		if v == "" {
			out = append(out, "-Wl,"+k)
		} else {
			out = append(out, "-Wl,"+k+"="+v)
		}
	}
	return out
}
