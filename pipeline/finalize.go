package pipeline

import "github.com/ccprof/profbuild/model"

// propagateInclusive computes the function- and execution-scope variants of
// every metric this thread touched, from the point-scope (exclusive) values
// a Source recorded directly.
//
// This resolves an ambiguity spec.md leaves open (see DESIGN.md's Open
// Question log): the point variant is exactly the raw value a Source
// recorded at a sample's own Context. The function variant is the
// inclusive sum over the subtree reachable from a Context without crossing
// a RelCall edge — everything structurally "in the same function" via
// RelEnclosure/RelInlinedCall descendants — deposited at every Context in
// that subtree. The execution variant is the fully inclusive sum over the
// whole subtree, crossing call edges too, again deposited at every
// Context. Neither variant is ever deposited at the root Context, which
// carries no metric values (spec §8 worked example 1: the empty profile's
// global Context has num_vals=0).
func propagateInclusive(tt *model.ThreadTemporary) {
	touched := tt.Contexts()
	if len(touched) == 0 {
		return
	}

	// The inclusive walk needs every ancestor of every touched Context,
	// even ones the Source never recorded a point value at directly.
	allCtx := map[*model.Context]bool{}
	for _, c := range touched {
		for cur := c; cur != nil && !allCtx[cur]; cur = cur.Parent {
			allCtx[cur] = true
		}
	}

	depth := map[*model.Context]int{}
	for c := range allCtx {
		depth[c] = contextDepth(c)
	}
	order := make([]*model.Context, 0, len(allCtx))
	for c := range allCtx {
		order = append(order, c)
	}
	sortByDepthDesc(order, depth)

	metrics := map[*model.Metric]bool{}
	for _, c := range touched {
		for m := range tt.Metrics(c) {
			metrics[m] = true
		}
	}

	for metric := range metrics {
		if metric.Scopes.Count() == 0 {
			continue
		}
		wantFunc := metric.Scopes&model.ScopeFunctionVariant != 0
		wantExec := metric.Scopes&model.ScopeExecutionVariant != 0
		if !wantFunc && !wantExec {
			continue
		}

		for _, c := range order {
			if c.Parent == nil {
				continue // root never carries metric values
			}
			point := tt.Variant(c, metric, model.ScopePointVariant)
			var self float64
			if point != nil {
				self = point.Partial(model.PartialSum)
			}

			if wantExec {
				execAcc := tt.VariantAccumulator(c, metric, model.ScopeExecutionVariant)
				if self != 0 {
					execAcc.Add(self)
				}
				if execAcc.Touched() && c.Parent.Parent != nil {
					tt.VariantAccumulator(c.Parent, metric, model.ScopeExecutionVariant).Add(execAcc.Partial(model.PartialSum))
				}
			}
			if wantFunc {
				funcAcc := tt.VariantAccumulator(c, metric, model.ScopeFunctionVariant)
				if self != 0 {
					funcAcc.Add(self)
				}
				if funcAcc.Touched() && c.Parent.Parent != nil && c.Relation != model.RelCall {
					tt.VariantAccumulator(c.Parent, metric, model.ScopeFunctionVariant).Add(funcAcc.Partial(model.PartialSum))
				}
			}
		}
	}
}

func contextDepth(c *model.Context) int {
	d := 0
	for cur := c.Parent; cur != nil; cur = cur.Parent {
		d++
	}
	return d
}

// sortByDepthDesc orders order so deeper Contexts (further from the root)
// come first, so a parent's rollup always sees its children's totals
// already accumulated. Thread-local context sets are small enough that an
// insertion sort keeps this dependency-free.
func sortByDepthDesc(order []*model.Context, depth map[*model.Context]int) {
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && depth[order[j]] > depth[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
}
