package compiler

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/ovniemu/internal/model"
)

//go:embed tables/*.cue
var tables embed.FS

const schemaFile = "tables/schema.cue"

// Schema compiles the model table schema in ctx.
func Schema(ctx *cue.Context) cue.Value {
	src, err := tables.ReadFile(schemaFile)
	if err != nil {
		panic(fmt.Sprintf("compiler: embedded schema: %v", err))
	}
	return ctx.CompileBytes(src, cue.Filename(schemaFile))
}

// LoadBuiltin compiles the model tables shipped with the emulator, sorted by
// model id.
func LoadBuiltin() ([]*model.Spec, error) {
	ctx := cuecontext.New()
	v := Schema(ctx)

	files, err := fs.Glob(tables, "tables/*.cue")
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		if name == schemaFile {
			continue
		}
		src, err := tables.ReadFile(name)
		if err != nil {
			return nil, err
		}
		v = v.Unify(ctx.CompileBytes(src, cue.Filename(name)))
	}
	return CompileModels(v)
}

// LoadFiles compiles the model tables in the given CUE files, sorted by
// model id.
func LoadFiles(paths ...string) ([]*model.Spec, error) {
	if len(paths) == 0 {
		return nil, &CompileError{Field: "model", Message: "no model files"}
	}
	ctx := cuecontext.New()
	var v cue.Value
	for i, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model table: %w", err)
		}
		fv := ctx.CompileBytes(src, cue.Filename(path))
		if err := fv.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, formatCUEError(err))
		}
		if i == 0 {
			v = fv
		} else {
			v = v.Unify(fv)
		}
	}
	return CompileModels(v)
}

// CompileModels compiles every entry of the "model" struct of v, after
// unifying v with the schema. Validation errors of all models are joined.
func CompileModels(v cue.Value) ([]*model.Spec, error) {
	v = Schema(v.Context()).Unify(v)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	models := v.LookupPath(cue.ParsePath("model"))
	if !models.Exists() {
		return nil, &CompileError{Field: "model", Message: "no models defined"}
	}
	iter, err := models.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []*model.Spec
	var errs []error
	for iter.Next() {
		spec, err := CompileModel(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", iter.Label(), err)
		}
		for _, verr := range Validate(spec) {
			errs = append(errs, verr)
		}
		specs = append(specs, spec)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(specs) == 0 {
		return nil, &CompileError{Field: "model", Message: "no models defined"}
	}
	model.SortSpecs(specs)
	return specs, nil
}

// Merge returns base with the specs of extra added. A spec of extra replaces
// the spec of base with the same name.
func Merge(base, extra []*model.Spec) []*model.Spec {
	byName := make(map[string]int, len(base))
	out := make([]*model.Spec, len(base), len(base)+len(extra))
	copy(out, base)
	for i, s := range out {
		byName[s.Name] = i
	}
	for _, s := range extra {
		if i, ok := byName[s.Name]; ok {
			out[i] = s
			continue
		}
		byName[s.Name] = len(out)
		out = append(out, s)
	}
	model.SortSpecs(out)
	return out
}
