package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/starford/idlforge/internal/catalog"
	"github.com/starford/idlforge/internal/emit"
	"github.com/starford/idlforge/internal/linker"
	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/toolchain"
)

// DefaultStages returns the seven build stages in order.
func DefaultStages() []Stage {
	return []Stage{
		{Name: StageParseModel, Gates: parseGates, Action: parseModel},
		{Name: StageGenerateCore, Gates: coreGates, Action: generateCore},
		{Name: StageGenerateHost, Gates: hostGates, Action: generateHost},
		{Name: StageTranspileGlue, Gates: transpileGates, Action: transpileGlue},
		{Name: StageCompileSources, Gates: compileGates, Action: compileSource, Concurrent: true},
		{Name: StageLink, Gates: linkGates, Action: link},
		{Name: StageBootstrapStub, Gates: stubGates, Action: writeStub},
	}
}

func parseGates(bc *BuildContext) ([]Gate, error) {
	inputs := append(bc.Catalog.IDLSources(), bc.Catalog.Templates()...)
	return []Gate{{
		Name:    "hierarchy",
		Inputs:  inputs,
		Outputs: []models.ArtifactRef{models.Generated(bc.Catalog.HierarchyFile())},
	}}, nil
}

func parseModel(_ context.Context, bc *BuildContext, g Gate) error {
	c := bc.Compiler()
	layout := bc.Catalog.Layout()
	for _, dir := range layout.SourceDirs {
		c.AddSourceDir(dir)
	}
	for _, dir := range layout.IncludeDirs {
		c.AddIncludeDir(dir)
	}
	model, err := c.Build()
	if err != nil {
		return err
	}
	data, err := model.Marshal()
	if err != nil {
		return fmt.Errorf("serialize hierarchy: %w", err)
	}
	if _, err := bc.Store.WriteIfChanged(bc.Catalog.HierarchyFile(), data); err != nil {
		return err
	}
	bc.setModel(model)
	bc.AddCleanup(bc.Catalog.HierarchyFile())
	return nil
}

func coreGates(bc *BuildContext) ([]Gate, error) {
	return []Gate{{
		Name:   "core",
		Inputs: []models.ArtifactRef{models.Generated(bc.Catalog.HierarchyFile())},
		Outputs: []models.ArtifactRef{
			models.StampDir(bc.Catalog.CoreIncludeDir()),
			models.StampDir(bc.Catalog.CoreSourceDir()),
			models.Generated(bc.Catalog.CoreMarker()),
		},
	}}, nil
}

func generateCore(_ context.Context, bc *BuildContext, g Gate) error {
	model, err := bc.Model()
	if err != nil {
		return err
	}
	for _, dir := range []string{bc.Catalog.CoreIncludeDir(), bc.Catalog.CoreSourceDir()} {
		if err := bc.Store.Mkdir(dir); err != nil {
			return err
		}
	}
	changed, err := bc.Core.WriteAllModified(model, bc.Settings.Header, bc.Settings.Footer)
	if err != nil {
		return err
	}
	if err := markDone(bc, bc.Catalog.CoreMarker()); err != nil {
		return err
	}
	bc.Logger.Debug("pipeline: core generated", slog.Bool("changed", changed))
	bc.AddCleanup(bc.Catalog.CoreIncludeDir(), bc.Catalog.CoreSourceDir(), bc.Catalog.CoreMarker())
	return nil
}

// markDone rewrites a completion marker. It must be the last write of an
// action, so that any earlier failure leaves the marker older than the
// gate's inputs.
func markDone(bc *BuildContext, marker string) error {
	return bc.Store.Write(marker, []byte(bc.Settings.Module+"\n"))
}

func hostGates(bc *BuildContext) ([]Gate, error) {
	inputs := []models.ArtifactRef{models.Generated(bc.Catalog.HierarchyFile())}
	for _, p := range bc.Host.Inputs() {
		inputs = append(inputs, models.Source(p))
	}
	return []Gate{{
		Name:   "host",
		Inputs: inputs,
		Outputs: []models.ArtifactRef{
			models.StampDir(bc.Catalog.HostDir()),
			models.Generated(bc.Catalog.HostMarker()),
		},
	}}, nil
}

func generateHost(_ context.Context, bc *BuildContext, g Gate) error {
	model, err := bc.Model()
	if err != nil {
		return err
	}
	if err := bc.Store.Mkdir(bc.Catalog.HostDir()); err != nil {
		return err
	}
	if _, _, err := bc.Host.WriteAllModified(model, bc.Settings.Header, bc.Settings.Footer); err != nil {
		return err
	}
	if err := markDone(bc, bc.Catalog.HostMarker()); err != nil {
		return err
	}
	bc.AddCleanup(bc.Catalog.HostDir(), bc.Catalog.HostMarker())
	return nil
}

func transpileGates(bc *BuildContext) ([]Gate, error) {
	files, err := bc.Catalog.GlueFiles()
	if err != nil {
		return nil, err
	}
	templates := bc.Catalog.Templates()
	gates := make([]Gate, 0, len(files))
	for _, f := range files {
		gates = append(gates, Gate{
			Name:    filepath.Base(f),
			Inputs:  append([]models.ArtifactRef{models.Generated(f)}, templates...),
			Outputs: []models.ArtifactRef{models.Generated(bc.Catalog.TranspiledPath(f))},
		})
	}
	return gates, nil
}

func transpileGlue(_ context.Context, bc *BuildContext, g Gate) error {
	glue := g.Inputs[0].Path
	out := g.Outputs[0].Path
	if _, err := bc.Transpiler.Transpile(glue, out); err != nil {
		return err
	}
	bc.AddCleanup(out)
	return nil
}

// compileGates gives every unit its own gate. Objects are always rewritten
// by the compiler, so these gates are never touched.
func compileGates(bc *BuildContext) ([]Gate, error) {
	units, err := bc.Catalog.CompileUnits()
	if err != nil {
		return nil, err
	}
	gates := make([]Gate, 0, len(units))
	for _, u := range units {
		inputs := []models.ArtifactRef{models.Source(u.Source)}
		for _, d := range u.Deps {
			inputs = append(inputs, models.Source(d))
		}
		gates = append(gates, Gate{
			Name:    relName(bc, u.Source),
			Inputs:  inputs,
			Outputs: []models.ArtifactRef{models.Object(u.Object)},
			Touch:   emptyTouch(),
		})
	}
	return gates, nil
}

func compileSource(ctx context.Context, bc *BuildContext, g Gate) error {
	obj := g.Outputs[0].Path
	if err := bc.Store.Mkdir(filepath.Dir(obj)); err != nil {
		return err
	}
	_, err := bc.Toolchain.Compile(ctx, toolchain.CompileRequest{
		Source:      g.Inputs[0].Path,
		Object:      obj,
		Flags:       bc.Settings.CFlags,
		IncludeDirs: bc.Catalog.HeaderSearchPath(),
	})
	if err != nil {
		_ = bc.Store.Remove(obj)
		return err
	}
	bc.AddCleanup(obj)
	return nil
}

// linkGates relinks on any object change and on any regeneration, since
// the generation stamp covers everything under the autogen tree.
func linkGates(bc *BuildContext) ([]Gate, error) {
	units, err := bc.Catalog.CompileUnits()
	if err != nil {
		return nil, err
	}
	var inputs []models.ArtifactRef
	for _, o := range catalog.Objects(units) {
		inputs = append(inputs, models.Object(o))
	}
	inputs = append(inputs, bc.Catalog.GenerationStamp())
	return []Gate{{
		Name:    filepath.Base(bc.Catalog.Library()),
		Inputs:  inputs,
		Outputs: []models.ArtifactRef{models.Library(bc.Catalog.Library())},
	}}, nil
}

// LinkSpec assembles the portable link description for objects.
func LinkSpec(bc *BuildContext, objects []string) linker.Spec {
	o := bc.Settings.Link
	o.Output = bc.Catalog.Library()
	o.Objects = objects
	return linker.NewSpec(o)
}

func link(ctx context.Context, bc *BuildContext, g Gate) error {
	var objects []string
	for _, in := range g.Inputs {
		if in.Kind == models.KindObject {
			objects = append(objects, in.Path)
		}
	}
	plan, err := bc.Linker.BuildLinkCommands(LinkSpec(bc, objects))
	if err != nil {
		return err
	}
	if err := bc.Store.Mkdir(filepath.Dir(bc.Catalog.Library())); err != nil {
		return err
	}
	for _, f := range plan.Files {
		if err := bc.Store.Write(f.Path, f.Content); err != nil {
			return err
		}
	}
	bc.AddCleanup(plan.Leftovers()...)
	for _, inv := range plan.Invocations {
		if err := bc.Toolchain.Run(ctx, inv); err != nil {
			return err
		}
	}
	bc.AddCleanup(bc.Catalog.Library())
	return nil
}

// LinkLeftovers lists the support files and byproducts the link stage
// writes for the configured platform, besides the library itself.
func LinkLeftovers(bc *BuildContext) ([]string, error) {
	plan, err := bc.Linker.BuildLinkCommands(LinkSpec(bc, nil))
	if err != nil {
		return nil, err
	}
	return plan.Leftovers(), nil
}

func stubGates(bc *BuildContext) ([]Gate, error) {
	return []Gate{{
		Name:    filepath.Base(bc.Catalog.Stub()),
		Inputs:  []models.ArtifactRef{models.Library(bc.Catalog.Library())},
		Outputs: []models.ArtifactRef{models.Generated(bc.Catalog.Stub())},
	}}, nil
}

// StubContent renders the bootstrap stub the host loader reads.
func StubContent(module, library string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", module)
	fmt.Fprintf(&b, "boot %s\n", emit.BootFunc(module))
	fmt.Fprintf(&b, "library %s\n", filepath.Base(library))
	return b.String()
}

func writeStub(_ context.Context, bc *BuildContext, g Gate) error {
	out := g.Outputs[0].Path
	if _, err := bc.Store.WriteIfChanged(out, []byte(StubContent(bc.Settings.Module, bc.Catalog.Library()))); err != nil {
		return err
	}
	bc.AddCleanup(out)
	return nil
}

func relName(bc *BuildContext, p string) string {
	if rel, err := filepath.Rel(bc.Store.Root(), p); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return p
}
