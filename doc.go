// Package xp records experiments. It wraps a deterministic computation so
// that every invocation's configuration, result and metadata are durably
// stored as an Observation, and the accumulated history can be queried or
// fed to the optimize package.
//
// # Wrapping a computation
//
// Declare the parameters explicitly and wrap a plain function:
//
//	add, err := xp.New("add",
//	    xp.Signature{xp.Required("a"), xp.Optional("b", 2)},
//	    func(ctx context.Context, cfg xp.Config) (any, error) {
//	        a, _ := cfg.Get("a")
//	        b, _ := cfg.Get("b")
//	        return a.(int) + b.(int), nil
//	    },
//	    xp.WithRoot("experiments"),
//	)
//
//	add.Call(ctx, 1)                       // config {a: 1, b: 2}
//	add.CallKw(ctx, xp.Kwargs{"a": 1})     // same config
//	history, _ := add.Observations(ctx)
//
// # Invocation lifecycle
//
//  1. Arguments are bound against the Signature; defaults fill the rest.
//  2. A unique, time-ordered id is generated and checked against the backend.
//  3. Callback.Start runs for every attached callback, in order.
//  4. The computation runs. If it returns an error, the error reaches the
//     caller unchanged and nothing is persisted.
//  5. The Observation is built with timing and code metadata.
//  6. Callback.End runs for every attached callback, in order.
//  7. The Observation is saved. Save failures are logged, not returned.
//
// # Ambient state
//
// The context given to the computation carries the current id and a
// per-invocation scratch directory:
//
//	dir, err := xp.CurrentDir(ctx)   // <root>/<name>/storage/<id>
//
// # Backends
//
// Backends are selected by name. "json" (one JSON file per Observation) and
// "yaml" (one multi-document YAML file per Observation) are built in; others
// are added with RegisterBackend.
package xp
