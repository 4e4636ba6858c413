package linker

import (
	"encoding/binary"
	"fmt"
	"path"
	"strings"

	"github.com/starford/idlforge/internal/checksum"
)

// Flag bag keys understood by ImportLib.
const (
	FlagDefFile   = "def_file"
	FlagScriptOut = "script_path"
)

// ImportLib links against the host runtime through an import library, as
// GNU toolchains on Windows require. DLLs there are not relocatable by
// default, so each module gets its own image base derived from its name.
type ImportLib struct{}

func (ImportLib) Platform() string { return "windows-gnu" }

func (ImportLib) BuildLinkCommands(spec Spec) (Plan, error) {
	if spec.Output() == "" {
		return Plan{}, errNoOutput
	}
	var plan Plan
	consumed := map[string]bool{FlagDefFile: true, FlagScriptOut: true}

	args := []string{"-o", spec.Output(), "-Wl,--image-base," + ImageBase(spec.Output()), "-shared"}
	args = append(args, spec.ExtraFlags()...)

	libs := libFlags(spec.Libraries())
	if host := HostToken(spec.HostImport()); host != "" {
		libs = append([]string{"-l" + host}, libs...)
	}

	var other []string
	if len(spec.StartupObjects()) > 0 {
		other = append(other, "-nostartfiles")
	}
	other = append(other, bagFlags(spec, consumed)...)

	if def, ok := spec.Flag(FlagDefFile); ok && def != "" {
		exp := strings.TrimSuffix(def, path.Ext(def)) + ".exp"
		plan.Invocations = append(plan.Invocations, Invocation{
			Program: "dlltool",
			Args:    []string{"--def", def, "--output-exp", exp, "--dllname", path.Base(toSlash(spec.Output()))},
		})
		other = append(other, exp)
		plan.Byproducts = append(plan.Byproducts, exp)
	}

	if spec.Scripted() {
		scriptPath, ok := spec.Flag(FlagScriptOut)
		if !ok || scriptPath == "" {
			scriptPath = strings.TrimSuffix(spec.Output(), path.Ext(spec.Output())) + ".lds"
		}
		plan.Files = append(plan.Files, File{Path: scriptPath, Content: linkScript(spec, libs)})
		args = append(args, scriptPath)
		args = append(args, other...)
	} else {
		args = append(args, searchFlags(spec.SearchPaths())...)
		args = append(args, spec.StartupObjects()...)
		args = append(args, spec.Objects()...)
		args = append(args, other...)
		args = append(args, libs...)
	}

	plan.Invocations = append(plan.Invocations, Invocation{Program: spec.Linker(), Args: args})
	return plan, nil
}

// linkScript renders a GNU ld script carrying the search paths, startup
// file, objects and libraries in place of their flattened flag lists.
func linkScript(spec Spec, libs []string) []byte {
	var b strings.Builder
	for _, p := range spec.SearchPaths() {
		fmt.Fprintf(&b, "SEARCH_DIR(%s)\n", p)
	}
	objects := spec.Objects()
	startup := spec.StartupObjects()
	// ld accepts a single STARTUP file; the rest lead the object list.
	if len(startup) > 0 {
		fmt.Fprintf(&b, "STARTUP(%s)\n", startup[0])
		objects = append(startup[1:], objects...)
	}
	fmt.Fprintf(&b, "INPUT(%s)\n", strings.Join(objects, ","))
	if len(libs) > 0 {
		fmt.Fprintf(&b, "INPUT(%s)\n", strings.Join(libs, " "))
	}
	return []byte(b.String())
}

// HostToken reduces a host runtime import library reference such as
// "C:/runtime/lib/libhost530.dll.a" to the bare linker token "host530".
func HostToken(ref string) string {
	if ref == "" {
		return ""
	}
	name := path.Base(toSlash(ref))
	name = strings.TrimPrefix(name, "lib")
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// ImageBase derives a load address from the output basename. The first
// eight bytes of its SHA-256 digest are split into two words and XORed;
// folding the halves of the result gives the 16-bit selector of a
// 64K-aligned base.
func ImageBase(output string) string {
	d := checksum.Digest([]byte(path.Base(toSlash(output))))
	x := binary.BigEndian.Uint32(d[0:4]) ^ binary.BigEndian.Uint32(d[4:8])
	return fmt.Sprintf("0x%04x0000", baseSelector(x))
}

// baseSelector folds x to 16 bits. Zero would map the module at address
// zero, so it falls back to a fixed selector.
func baseSelector(x uint32) uint32 {
	v := (x >> 16) ^ (x & 0xffff)
	if v == 0 {
		return 0x1000
	}
	return v
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
