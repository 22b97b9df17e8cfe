package kernel

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/R3E-Network/desengine/internal/logging"
)

// PredicateEvaluator evaluates a Decision branch's JavaScript boolean
// expression against an entity's attribute map. Grounded on the
// embedded-goja pattern used for sandboxed script execution elsewhere
// in the corpus: one fresh VM per evaluation, entity attributes injected
// as global bindings instead of secrets.
type PredicateEvaluator struct {
	mu     sync.Mutex
	logger *logging.Logger
}

// NewPredicateEvaluator creates an evaluator that treats malformed
// expressions as false rather than failing the replication, logging
// them as warnings when logger is non-nil.
func NewPredicateEvaluator(logger *logging.Logger) *PredicateEvaluator {
	return &PredicateEvaluator{logger: logger}
}

// Eval runs expr with each attribute key bound as a global and returns
// its JavaScript truthiness, so a non-boolean result such as a
// non-zero number counts as true. A malformed expression is treated as
// false and, when the evaluator has a logger, logged.
func (p *PredicateEvaluator) Eval(expr string, attributes map[string]interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	vm := goja.New()
	for k, v := range attributes {
		if err := vm.Set(k, v); err != nil {
			continue
		}
	}

	value, err := vm.RunString(expr)
	if err != nil {
		if p.logger != nil {
			p.logger.WithFields(map[string]interface{}{
				"expression": expr,
				"error":      err.Error(),
			}).Warn("decision predicate failed to evaluate, treating as false")
		}
		return false
	}
	return value.ToBoolean()
}

// Validate compiles expr without evaluating it, surfacing syntax errors
// at configuration time.
func (p *PredicateEvaluator) Validate(expr string) error {
	vm := goja.New()
	if _, err := vm.RunString(fmt.Sprintf("(function(){ return (%s); })", expr)); err != nil {
		return err
	}
	return nil
}
