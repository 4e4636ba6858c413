package mcpserver

const contractURI = "idlforge://pipeline"

// PipelineContract describes the build stages for LLM consumers deciding
// which tool to call and how to read a report.
const PipelineContract = `# idlforge Build Pipeline

A build walks seven stages in fixed order. Each stage is guarded by one or
more gates; a gate is stale when an output is missing or an input is newer
than the oldest output. Only stale gates run their action. The .stamp
markers are written after a generator finished, so an interrupted
generation is redone on the next build.

| Stage | Inputs | Outputs |
|---|---|---|
| parse_model | *.cfh IDL files, header/footer templates | autogen/hierarchy.json |
| generate_core | autogen/hierarchy.json | autogen/include, autogen/source, autogen/.core.stamp |
| generate_host | autogen/hierarchy.json, glue generator inputs | autogen/host, autogen/.host.stamp |
| transpile_glue | one autogen/host/*.glue file, header/footer templates | autogen/glue/<name>.c |
| compile_sources | one C source + its quoted includes | one object file |
| link | every object + the autogen tree | the extension library |
| bootstrap_stub | the library | <library>.bs |

## Reading a report

- ` + "`" + `ran` + "`" + `: at least one action rewrote an output.
- ` + "`" + `touched` + "`" + `: the action produced byte-identical output; timestamps were
  advanced instead, so downstream gates see the change without content churn.
- ` + "`" + `skipped` + "`" + `: every gate was fresh.
- ` + "`" + `failed` + "`" + `: the build stopped here. Rerunning resumes from the first stale gate.

## Tools

- ` + "`" + `build_plan` + "`" + ` before ` + "`" + `run_build` + "`" + ` shows what a build would do.
- ` + "`" + `build_history` + "`" + ` with ` + "`" + `query` + "`" + ` finds past compile or link errors.
- ` + "`" + `read_artifact` + "`" + ` reads generated glue, e.g. ` + "`" + `autogen/glue/<Module>.c` + "`" + `.
`
