package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ovniemu/internal/channel"
	"github.com/roach88/ovniemu/internal/model"
)

// Fields an operation may carry.
var opFields = map[string]bool{
	"op":        true,
	"chan":      true,
	"value":     true,
	"arg":       true,
	"nestable":  true,
	"task_chan": true,
	"type_chan": true,
}

// CompileModel parses a CUE value into a model.Spec.
//
// The value must already be unified with the schema, so defaults are
// present:
//
//	v := compiler.Schema(ctx).Unify(ctx.CompileString(src))
//	spec, err := CompileModel(v.LookupPath(cue.ParsePath("model.kernel")))
func CompileModel(v cue.Value) (*model.Spec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &model.Spec{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	id, err := lookupString(v, "id")
	if err != nil {
		return nil, err
	}
	if len(id) != 1 {
		return nil, &CompileError{Field: "id", Message: fmt.Sprintf("model id %q must be a single byte", id), Pos: v.Pos()}
	}
	spec.ID = id[0]

	if spec.Builtin, err = optionalBool(v, "builtin"); err != nil {
		return nil, err
	}

	if spec.Channels, err = parseChannels(v); err != nil {
		return nil, err
	}
	if spec.Rules, err = parseRules(v); err != nil {
		return nil, err
	}
	return spec, nil
}

func parseChannels(v cue.Value) ([]model.ChanDecl, error) {
	chans := v.LookupPath(cue.ParsePath("channels"))
	if !chans.Exists() {
		return nil, nil
	}
	iter, err := chans.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []model.ChanDecl
	for iter.Next() {
		cv := iter.Value()
		decl := model.ChanDecl{Name: iter.Label()}

		typ, err := lookupInt(cv, "type")
		if err != nil {
			return nil, err
		}
		decl.Type = int(typ)

		track, err := defaultString(cv, "track")
		if err != nil {
			return nil, err
		}
		if decl.Track, err = channel.ParseTrack(track); err != nil {
			return nil, &CompileError{Field: "track", Message: err.Error(), Pos: cv.Pos()}
		}

		dup, err := defaultString(cv, "dup")
		if err != nil {
			return nil, err
		}
		if decl.Dup, err = channel.ParseDup(dup); err != nil {
			return nil, &CompileError{Field: "dup", Message: err.Error(), Pos: cv.Pos()}
		}

		if decl.CPU, err = optionalBool(cv, "cpu"); err != nil {
			return nil, err
		}
		if decl.Label, err = defaultString(cv, "label"); err != nil {
			return nil, err
		}
		out = append(out, decl)
	}
	return out, nil
}

func parseRules(v cue.Value) ([]model.Rule, error) {
	rules := v.LookupPath(cue.ParsePath("rules"))
	if !rules.Exists() {
		return nil, nil
	}
	iter, err := rules.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []model.Rule
	for iter.Next() {
		key := iter.Label()
		// The schema counts characters; events carry bytes.
		if len(key) != 2 {
			return nil, &CompileError{
				Field:   "rules",
				Message: fmt.Sprintf("rule %q: key must be a category and a value byte", key),
				Pos:     iter.Value().Pos(),
			}
		}
		rule := model.Rule{Category: key[0], Value: key[1]}

		list, err := iter.Value().List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			op, err := parseOp(list.Value())
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", key, err)
			}
			rule.Ops = append(rule.Ops, op)
		}
		if len(rule.Ops) == 0 {
			return nil, &CompileError{Field: "rules", Message: fmt.Sprintf("rule %q has no operations", key), Pos: iter.Value().Pos()}
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseOp(v cue.Value) (model.Op, error) {
	op := model.Op{Arg: model.NoArg}

	fields, err := v.Fields()
	if err != nil {
		return op, formatCUEError(err)
	}
	for fields.Next() {
		if !opFields[fields.Label()] {
			return op, &CompileError{Field: fields.Label(), Message: "unknown operation field", Pos: fields.Value().Pos()}
		}
	}

	name, err := lookupString(v, "op")
	if err != nil {
		return op, err
	}
	if op.Kind, err = model.ParseOp(name); err != nil {
		return op, &CompileError{Field: "op", Message: err.Error(), Pos: v.Pos()}
	}

	if op.Chan, err = defaultString(v, "chan"); err != nil {
		return op, err
	}
	if op.TaskChan, err = defaultString(v, "task_chan"); err != nil {
		return op, err
	}
	if op.TypeChan, err = defaultString(v, "type_chan"); err != nil {
		return op, err
	}
	if op.Nestable, err = optionalBool(v, "nestable"); err != nil {
		return op, err
	}

	if f := v.LookupPath(cue.ParsePath("value")); f.Exists() {
		if op.Value, err = f.Int64(); err != nil {
			return op, formatCUEError(err)
		}
	}
	if f := v.LookupPath(cue.ParsePath("arg")); f.Exists() {
		arg, err := f.Int64()
		if err != nil {
			return op, formatCUEError(err)
		}
		op.Arg = int(arg)
	}
	return op, nil
}

// field returns the named field with its default applied.
func field(v cue.Value, name string) (cue.Value, bool) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return f, false
	}
	if d, ok := f.Default(); ok {
		f = d
	}
	return f, true
}

func lookupString(v cue.Value, name string) (string, error) {
	f, ok := field(v, name)
	if !ok {
		return "", &CompileError{Field: name, Message: name + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func lookupInt(v cue.Value, name string) (int64, error) {
	f, ok := field(v, name)
	if !ok {
		return 0, &CompileError{Field: name, Message: name + " is required", Pos: v.Pos()}
	}
	n, err := f.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func defaultString(v cue.Value, name string) (string, error) {
	f, ok := field(v, name)
	if !ok {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, name string) (bool, error) {
	f, ok := field(v, name)
	if !ok {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// CompileError is a model table that cannot be turned into a Spec.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
