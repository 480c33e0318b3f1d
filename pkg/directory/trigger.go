package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/dittoldap/internal/logger"
)

var (
	// ErrUnknownProcedure is returned when a trigger names an unregistered procedure.
	ErrUnknownProcedure = errors.New("unknown stored procedure")

	// ErrParameterNotApplicable is returned when a trigger asks for a
	// parameter its operation does not provide.
	ErrParameterNotApplicable = errors.New("parameter not applicable to operation")
)

// Parameter selects one value of an operation to pass to a stored procedure.
// The set of parameters is closed: only the types declared in this file
// implement it.
type Parameter interface {
	fmt.Stringer
	parameter()
}

type (
	// ParamPrincipal is the DN of the principal performing the operation.
	ParamPrincipal struct{}

	// ParamTime is the time the operation started.
	ParamTime struct{}

	// ParamName is the target DN.
	ParamName struct{}

	// ParamEntry is the entry after the operation, or the removed entry.
	ParamEntry struct{}

	// ParamOldEntry is the entry before a modify or modifyDN.
	ParamOldEntry struct{}

	// ParamModifications are the changes of a modify.
	ParamModifications struct{}

	// ParamNewRDN is the new RDN of a rename.
	ParamNewRDN struct{}

	// ParamDeleteOldRDN is the deleteOldRDN flag of a rename.
	ParamDeleteOldRDN struct{}

	// ParamNewSuperior is the new parent of a move.
	ParamNewSuperior struct{}

	// ParamNewDN is the DN after a rename or move.
	ParamNewDN struct{}
)

func (ParamPrincipal) parameter()     {}
func (ParamTime) parameter()          {}
func (ParamName) parameter()          {}
func (ParamEntry) parameter()         {}
func (ParamOldEntry) parameter()      {}
func (ParamModifications) parameter() {}
func (ParamNewRDN) parameter()        {}
func (ParamDeleteOldRDN) parameter()  {}
func (ParamNewSuperior) parameter()   {}
func (ParamNewDN) parameter()         {}

func (ParamPrincipal) String() string     { return "operationPrincipal" }
func (ParamTime) String() string          { return "operationTime" }
func (ParamName) String() string          { return "name" }
func (ParamEntry) String() string         { return "entry" }
func (ParamOldEntry) String() string      { return "oldEntry" }
func (ParamModifications) String() string { return "modifications" }
func (ParamNewRDN) String() string        { return "newRDN" }
func (ParamDeleteOldRDN) String() string  { return "deleteOldRDN" }
func (ParamNewSuperior) String() string   { return "newSuperior" }
func (ParamNewDN) String() string         { return "newDN" }

// applicable reports whether kind provides p.
func applicable(p Parameter, kind OperationKind) bool {
	switch p.(type) {
	case ParamPrincipal, ParamTime, ParamName, ParamEntry:
		return kind.Mutating()
	case ParamOldEntry:
		return kind == OpModify || kind == OpRename || kind == OpMove || kind == OpMoveAndRename
	case ParamModifications:
		return kind == OpModify
	case ParamNewRDN, ParamDeleteOldRDN:
		return kind == OpRename || kind == OpMoveAndRename
	case ParamNewSuperior:
		return kind == OpMove || kind == OpMoveAndRename
	case ParamNewDN:
		return kind == OpRename || kind == OpMove || kind == OpMoveAndRename
	}
	return false
}

// resolve extracts the value of p from a completed operation.
func resolve(p Parameter, op Operation) (any, error) {
	base := op.Base()
	chg := DNChangeOf(op)

	switch p.(type) {
	case ParamPrincipal:
		return base.EffectivePrincipal().Name, nil
	case ParamTime:
		return base.Time, nil
	case ParamName:
		return base.DN, nil
	case ParamEntry:
		switch o := op.(type) {
		case *AddContext:
			return CloneEntry(o.Entry), nil
		case *DeleteContext:
			return CloneEntry(o.Entry), nil
		case *ModifyContext:
			return CloneEntry(o.Entry), nil
		}
		if chg != nil {
			return CloneEntry(chg.Entry), nil
		}
	case ParamOldEntry:
		if o, ok := op.(*ModifyContext); ok {
			return CloneEntry(o.OldEntry), nil
		}
		if chg != nil {
			return CloneEntry(chg.OldEntry), nil
		}
	case ParamModifications:
		if o, ok := op.(*ModifyContext); ok {
			return o.Changes, nil
		}
	case ParamNewRDN:
		if chg != nil {
			return chg.NewRDN, nil
		}
	case ParamDeleteOldRDN:
		if chg != nil {
			return chg.DeleteOldRDN, nil
		}
	case ParamNewSuperior:
		if chg != nil {
			return chg.NewSuperior, nil
		}
	case ParamNewDN:
		if chg != nil {
			return chg.NewDN, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrParameterNotApplicable, p, op.Kind())
}

// Argument is a resolved parameter passed to a procedure.
type Argument struct {
	Name  string
	Value any
}

// Procedure is a stored procedure invoked by triggers.
type Procedure func(ctx context.Context, args []Argument) error

// Trigger runs a procedure after every successful operation of one kind.
type Trigger struct {
	Name       string
	On         OperationKind
	Procedure  string
	Parameters []Parameter
}

// TriggerInterceptor runs AFTER triggers on successful mutating operations.
//
// A failing procedure does not fail the operation: the change is already
// stored. The failure is logged.
type TriggerInterceptor struct {
	mu         sync.RWMutex
	procedures map[string]Procedure
	triggers   map[OperationKind][]Trigger
}

var _ Interceptor = (*TriggerInterceptor)(nil)

// NewTriggerInterceptor creates an interceptor without triggers.
func NewTriggerInterceptor() *TriggerInterceptor {
	return &TriggerInterceptor{
		procedures: make(map[string]Procedure),
		triggers:   make(map[OperationKind][]Trigger),
	}
}

// Name implements Interceptor.
func (t *TriggerInterceptor) Name() string {
	return "trigger"
}

// RegisterProcedure makes fn callable by triggers under name.
func (t *TriggerInterceptor) RegisterProcedure(name string, fn Procedure) error {
	if name == "" || fn == nil {
		return fmt.Errorf("procedure needs a name and a function")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.procedures[name]; exists {
		return fmt.Errorf("procedure %q already registered", name)
	}
	t.procedures[name] = fn
	return nil
}

// AddTrigger registers tr. The procedure must be registered and every
// parameter must be provided by tr.On.
func (t *TriggerInterceptor) AddTrigger(tr Trigger) error {
	if !tr.On.Mutating() {
		return fmt.Errorf("trigger %q: %s is not a mutating operation", tr.Name, tr.On)
	}
	for _, p := range tr.Parameters {
		if !applicable(p, tr.On) {
			return fmt.Errorf("trigger %q: %w: %s on %s", tr.Name, ErrParameterNotApplicable, p, tr.On)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.procedures[tr.Procedure]; !ok {
		return fmt.Errorf("trigger %q: %w: %s", tr.Name, ErrUnknownProcedure, tr.Procedure)
	}
	t.triggers[tr.On] = append(t.triggers[tr.On], tr)
	return nil
}

// Intercept implements Interceptor.
func (t *TriggerInterceptor) Intercept(ctx context.Context, op Operation, next Handler) (Outcome, error) {
	out, err := next(ctx, op)
	if err != nil || out.IsReferral() {
		return out, err
	}

	t.mu.RLock()
	triggers := t.triggers[op.Kind()]
	procs := make([]Procedure, len(triggers))
	for i, tr := range triggers {
		procs[i] = t.procedures[tr.Procedure]
	}
	t.mu.RUnlock()

	for i, tr := range triggers {
		if err := t.fire(ctx, tr, procs[i], op); err != nil {
			logger.Warn("trigger %s on %s %s failed: %v", tr.Name, op.Kind(), op.Base().DN, err)
		}
	}
	return out, nil
}

func (t *TriggerInterceptor) fire(ctx context.Context, tr Trigger, proc Procedure, op Operation) error {
	args := make([]Argument, 0, len(tr.Parameters))
	for _, p := range tr.Parameters {
		v, err := resolve(p, op)
		if err != nil {
			return err
		}
		args = append(args, Argument{Name: p.String(), Value: v})
	}
	logger.Debug("trigger %s: calling %s with %d arguments", tr.Name, tr.Procedure, len(args))
	return proc(ctx, args)
}
