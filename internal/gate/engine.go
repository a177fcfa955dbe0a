// Package gate classifies a fetched response into a route the Pipeline
// Orchestrator uses to decide how to extract it (spec.md §4.7 step 5,
// §9 "Gate"). Classification is expressed as Datalog rules evaluated by
// a trimmed Google Mangle engine, grounded on the teacher's
// internal/mangle/engine.go (NewEngine/LoadSchemaString/AddFacts/Query
// shape) but cut down to the one-shot, no-persistence, no-LSP subset a
// per-response classifier needs — see DESIGN.md.
package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"
)

// Fact is a single Datalog fact to assert: predicate(args...).
type Fact struct {
	Predicate string
	Args      []interface{}
}

// QueryResult carries the variable bindings produced by a query.
type QueryResult struct {
	Bindings []map[string]interface{}
	Duration time.Duration
}

// engine wraps a Mangle fact store and compiled program for one gate
// classifier. It is not safe for concurrent Query/AddFacts calls from
// multiple goroutines without external serialization; Classifier (in
// gate.go) provides that serialization.
type engine struct {
	mu             sync.Mutex
	store          factstore.ConcurrentFactStore
	baseStore      factstore.FactStoreWithRemove
	programInfo    *analysis.ProgramInfo
	queryContext   *mengine.QueryContext
	predicateIndex map[string]ast.PredicateSym
	schema         parse.SourceUnit
}

func newEngine() *engine {
	base := factstore.NewSimpleInMemoryStore()
	return &engine{
		baseStore:      base,
		store:          factstore.NewConcurrentFactStore(base),
		predicateIndex: make(map[string]ast.PredicateSym),
	}
}

// loadSchema parses and compiles the classifier's Datalog rule set.
func (e *engine) loadSchema(schema string) error {
	unit, err := parse.Unit(strings.NewReader(schema))
	if err != nil {
		return fmt.Errorf("gate: parse schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.schema = unit

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return fmt.Errorf("gate: analyze schema: %w", err)
	}
	e.programInfo = programInfo
	e.predicateIndex = make(map[string]ast.PredicateSym, len(programInfo.Decls))

	predToDecl := make(map[ast.PredicateSym]*ast.Decl, len(programInfo.Decls))
	for sym, decl := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
		predToDecl[sym] = decl
	}
	predToRules := make(map[ast.PredicateSym][]ast.Clause)
	for _, clause := range programInfo.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}
	e.queryContext = &mengine.QueryContext{
		PredToRules: predToRules,
		PredToDecl:  predToDecl,
		Store:       e.store,
	}
	return nil
}

// clear wipes asserted facts without forgetting the compiled schema,
// so the classifier can be reused across unrelated requests without
// one request's signals leaking into the next.
func (e *engine) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseStore = factstore.NewSimpleInMemoryStore()
	e.store = factstore.NewConcurrentFactStore(e.baseStore)
	if e.queryContext != nil {
		e.queryContext.Store = e.store
	}
}

func (e *engine) addFacts(facts []Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.programInfo == nil {
		return fmt.Errorf("gate: no schema loaded")
	}
	for _, fact := range facts {
		atom, err := e.factToAtomLocked(fact)
		if err != nil {
			return err
		}
		e.store.Add(atom)
	}
	_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	return err
}

func (e *engine) factToAtomLocked(fact Fact) (ast.Atom, error) {
	sym, ok := e.predicateIndex[fact.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("gate: predicate %s not declared", fact.Predicate)
	}
	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("gate: predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}
	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		term, err := toBaseTerm(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("gate: predicate %s arg %d: %w", fact.Predicate, i, err)
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

func toBaseTerm(value interface{}) (ast.BaseTerm, error) {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "/") {
			return ast.Name(v)
		}
		return ast.String(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case float64:
		return ast.Float64(v), nil
	default:
		return nil, fmt.Errorf("unsupported fact argument type %T", v)
	}
}

// query evaluates a ground or variable-bearing atom, e.g. "is_headless(X)".
func (e *engine) query(ctx context.Context, q string) (*QueryResult, error) {
	clean := strings.TrimSuffix(strings.TrimSpace(q), ".")
	atom, err := parse.Atom(clean)
	if err != nil {
		return nil, fmt.Errorf("gate: parse query %q: %w", q, err)
	}

	e.mu.Lock()
	qctx := e.queryContext
	if qctx == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("gate: no schema loaded")
	}
	decl, ok := qctx.PredToDecl[atom.Predicate]
	if !ok || len(decl.Modes()) == 0 {
		e.mu.Unlock()
		return nil, fmt.Errorf("gate: predicate %s has no usable mode", atom.Predicate.Symbol)
	}
	mode := decl.Modes()[0]
	e.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}

	start := time.Now()
	var variables []ast.Variable
	for _, arg := range atom.Args {
		if v, ok := arg.(ast.Variable); ok {
			variables = append(variables, v)
		}
	}

	var bindings []map[string]interface{}
	err = qctx.EvalQuery(atom, mode, unionfind.New(), func(fact ast.Atom) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		row := make(map[string]interface{}, len(variables))
		for i, v := range variables {
			if i < len(fact.Args) {
				row[v.Symbol] = fromBaseTerm(fact.Args[i])
			}
		}
		bindings = append(bindings, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &QueryResult{Bindings: bindings, Duration: time.Since(start)}, nil
}

func fromBaseTerm(term ast.BaseTerm) interface{} {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	switch c.Type {
	case ast.NumberType:
		return c.NumValue
	default:
		return c.Symbol
	}
}
