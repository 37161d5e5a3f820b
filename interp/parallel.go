package interp

import (
	"runtime"
	"sync"

	"github.com/chazu/calyx/pkg/bytecode"
	"github.com/chazu/calyx/pkg/value"
)

// registerParallel installs the data-parallel builtins. Each worker
// runs on its own spawned VM over the shared arena; list values are
// immutable, so workers share structure without copying.
func (in *Interp) registerParallel() {
	in.native("pmap", 2, pmapNative)
	in.native("pfilter", 2, pfilterNative)
	in.native("preduce", 3, preduceNative)
}

func workerCount(n int) int {
	w := runtime.NumCPU()
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// callFn applies a function value on the given caller. Arguments are
// borrowed; the result is owned.
func callFn(c value.Caller, fn value.Value, args []value.Value) (value.Value, error) {
	switch f := fn.(type) {
	case *value.Closure:
		return c.CallClosure(f, args)
	case *value.Native:
		return f.Fn(c, args)
	}
	return nil, typeFault("expected a function, got %s", value.TypeName(fn))
}

// mapStrided applies fn to every element, striping indices across
// workers. Results arrive in input order. On error, every produced
// result is released.
func mapStrided(c value.Caller, fn value.Value, elems []value.Value) ([]value.Value, error) {
	results := make([]value.Value, len(elems))

	vm, parallel := c.(*bytecode.VM)
	if !parallel || len(elems) < 2 {
		for i, e := range elems {
			r, err := callFn(c, fn, []value.Value{e})
			if err != nil {
				releaseResults(c, results)
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	workers := workerCount(len(elems))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			wc := vm.Spawn()
			for i := worker; i < len(elems); i += workers {
				mu.Lock()
				stop := firstErr != nil
				mu.Unlock()
				if stop {
					return
				}
				r, err := callFn(wc, fn, []value.Value{elems[i]})
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				results[i] = r
			}
		}(w)
	}
	wg.Wait()

	if firstErr != nil {
		releaseResults(c, results)
		return nil, firstErr
	}
	return results, nil
}

// rel releases a value through the caller's arena when available, so
// closure results tear down their captured frames.
func rel(c value.Caller, v value.Value) {
	if vm, ok := c.(*bytecode.VM); ok {
		vm.Arena().Release(v)
		return
	}
	value.Release(v)
}

func releaseResults(c value.Caller, results []value.Value) {
	for _, r := range results {
		if r != nil {
			rel(c, r)
		}
	}
}

// pmapNative is (pmap f list): applies f to every element in
// parallel, preserving order. f must not depend on evaluation order.
func pmapNative(c value.Caller, args []value.Value) (value.Value, error) {
	elems, ok := value.ListToSlice(args[1])
	if !ok {
		return nil, typeFault("pmap expects a proper list, got %s", value.TypeName(args[1]))
	}
	results, err := mapStrided(c, args[0], elems)
	if err != nil {
		return nil, err
	}
	return listOf(results...), nil
}

// pfilterNative is (pfilter pred list): keeps the elements whose
// predicate result is truthy, evaluating predicates in parallel.
func pfilterNative(c value.Caller, args []value.Value) (value.Value, error) {
	elems, ok := value.ListToSlice(args[1])
	if !ok {
		return nil, typeFault("pfilter expects a proper list, got %s", value.TypeName(args[1]))
	}
	flags, err := mapStrided(c, args[0], elems)
	if err != nil {
		return nil, err
	}
	var kept []value.Value
	for i, flag := range flags {
		if value.Truthy(flag) {
			value.Retain(elems[i])
			kept = append(kept, elems[i])
		}
		rel(c, flag)
	}
	return listOf(kept...), nil
}

// preduceNative is (preduce f init list): reduces contiguous chunks
// in parallel, then folds the chunk results left to right from init.
// f must be associative for the result to match a sequential reduce.
func preduceNative(c value.Caller, args []value.Value) (value.Value, error) {
	fn := args[0]
	init := args[1]
	elems, ok := value.ListToSlice(args[2])
	if !ok {
		return nil, typeFault("preduce expects a proper list, got %s", value.TypeName(args[2]))
	}
	if len(elems) == 0 {
		value.Retain(init)
		return init, nil
	}

	vm, parallel := c.(*bytecode.VM)
	workers := workerCount(len(elems))
	if !parallel || workers == 1 || len(elems) < 2*workers {
		return foldSeq(c, fn, init, elems)
	}

	chunkResults := make([]value.Value, workers)
	chunkSize := (len(elems) + workers - 1) / workers
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for w := 0; w < workers; w++ {
		lo := w * chunkSize
		hi := lo + chunkSize
		if hi > len(elems) {
			hi = len(elems)
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(worker, lo, hi int) {
			defer wg.Done()
			wc := vm.Spawn()
			acc := elems[lo]
			value.Retain(acc)
			for i := lo + 1; i < hi; i++ {
				next, err := callFn(wc, fn, []value.Value{acc, elems[i]})
				rel(wc, acc)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				acc = next
			}
			chunkResults[worker] = acc
		}(w, lo, hi)
	}
	wg.Wait()

	if firstErr != nil {
		releaseResults(c, chunkResults)
		return nil, firstErr
	}

	acc := init
	value.Retain(acc)
	for i, chunk := range chunkResults {
		if chunk == nil {
			continue
		}
		next, err := callFn(c, fn, []value.Value{acc, chunk})
		rel(c, acc)
		rel(c, chunk)
		if err != nil {
			releaseResults(c, chunkResults[i+1:])
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

// foldSeq is the sequential fallback reduce.
func foldSeq(c value.Caller, fn, init value.Value, elems []value.Value) (value.Value, error) {
	acc := init
	value.Retain(acc)
	for _, e := range elems {
		next, err := callFn(c, fn, []value.Value{acc, e})
		rel(c, acc)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}
