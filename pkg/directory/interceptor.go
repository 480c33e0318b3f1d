package directory

import "context"

// Handler executes a mutating operation.
type Handler func(ctx context.Context, op Operation) (Outcome, error)

// Interceptor wraps the execution of mutating operations.
//
// An interceptor decides whether to call next and sees its result; it may
// act before, after, or instead of the partition. Interceptors run in the
// order they were registered with Nexus.Use, the first being outermost.
type Interceptor interface {
	// Name identifies the interceptor in logs
	Name() string

	Intercept(ctx context.Context, op Operation, next Handler) (Outcome, error)
}

// chain folds interceptors around final.
func chain(interceptors []Interceptor, final Handler) Handler {
	h := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, next := interceptors[i], h
		h = func(ctx context.Context, op Operation) (Outcome, error) {
			return ic.Intercept(ctx, op, next)
		}
	}
	return h
}
