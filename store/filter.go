package store

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// FindTagRecord selects records for listing.
type FindTagRecord struct {
	// Filter is a CEL expression over content_id, tags, file_description, has_simhash and ts,
	// for example `"技术" in tags && ts > timestamp("2025-01-01T00:00:00Z")`.
	Filter string
	// Tag keeps only records carrying this tag.
	Tag *string
	// ResolvedOnly keeps only records with tags.
	ResolvedOnly bool
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

var filterEnvOptions = []cel.EnvOption{
	cel.Variable("content_id", cel.StringType),
	cel.Variable("tags", cel.ListType(cel.StringType)),
	cel.Variable("file_description", cel.StringType),
	cel.Variable("has_simhash", cel.BoolType),
	cel.Variable("ts", cel.TimestampType),
}

// CompileFilter checks a filter expression and returns an evaluable program.
func CompileFilter(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(filterEnvOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filter environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid filter %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter program")
	}
	return prg, nil
}

func matchFilter(prg cel.Program, r *TagRecord) (bool, error) {
	out, _, err := prg.Eval(map[string]any{
		"content_id":       r.ContentID,
		"tags":             r.Tags,
		"file_description": r.Description(),
		"has_simhash":      r.SimHash != nil,
		"ts":               r.Timestamp,
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to evaluate filter on %s", r.ContentID)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

// ListRecords returns copies of matching records, newest first.
func (s *Store) ListRecords(ctx context.Context, find *FindTagRecord) ([]*TagRecord, error) {
	if find == nil {
		find = &FindTagRecord{}
	}
	var prg cel.Program
	if find.Filter != "" {
		var err error
		if prg, err = CompileFilter(find.Filter); err != nil {
			return nil, err
		}
	}

	records := s.snapshot()
	slices.SortStableFunc(records, func(a, b *TagRecord) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ContentID, b.ContentID)
	})

	list := make([]*TagRecord, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if find.ResolvedOnly && !r.Resolved() {
			continue
		}
		if find.Tag != nil && !slices.Contains(r.Tags, *find.Tag) {
			continue
		}
		if prg != nil {
			ok, err := matchFilter(prg, r)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		list = append(list, r)
		if find.Limit > 0 && len(list) >= find.Limit {
			break
		}
	}
	return list, nil
}
