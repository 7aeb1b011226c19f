package regalloc

import "github.com/wasmforge/wasmforge/internal/arch"

// Move is one edge of a register-copy plan: a source location must end up
// in the target register before a call site (or any other point needing a
// fixed register layout) is emitted.
type Move struct {
	Target arch.Register
	// Source is the register currently holding the value, or NilRegister
	// if the value is not presently in a register (the resolver only
	// orders register-to-register moves; non-register sources are
	// expected to be materialized by the caller after the pure-register
	// moves are resolved, since they can never participate in a cycle).
	Source arch.Register
	// Pair marks the second half of a 64-bit value split across two
	// consecutive registers on a 32-bit target. Resolve does not read it:
	// a Pair move is ordered as an independent register-to-register edge.
	Pair bool
}

// Resolve orders a set of register-to-register moves so that a move never
// clobbers a register another pending move still needs to read, breaking
// cycles with a swap. scratch is a register guaranteed unused by any move,
// used as the temporary holder on architectures without a native swap
// instruction (swap == nil).
//
// emitMove(target, source) and swap(a, b) are backend callbacks. Emission
// order is deterministic: ready moves drain in input order, and when only
// cycles remain the earliest pending move's cycle is broken first.
func Resolve(moves []Move, emitMove func(target, source arch.Register), swap func(a, b arch.Register), scratch arch.Register) error {
	pending := make([]*Move, 0, len(moves))
	for i := range moves {
		mv := moves[i] // cycle breaks rewrite Source; the caller's slice is left as given
		m := &mv
		if m.Source == m.Target {
			continue // already in place
		}
		pending = append(pending, m)
	}

	sourcedFromBySomeone := func(r arch.Register, except *Move) bool {
		for _, m := range pending {
			if m != except && m.Source == r {
				return true
			}
		}
		return false
	}
	remove := func(victim *Move) {
		out := pending[:0]
		for _, m := range pending {
			if m != victim {
				out = append(out, m)
			}
		}
		pending = out
	}

	for len(pending) > 0 {
		progressed := false
		for _, m := range pending {
			if m.Source == arch.NilRegister {
				// Non-register source: nothing for the resolver to order;
				// the caller materializes it directly into target once
				// nothing else still needs target as a source.
				if !sourcedFromBySomeone(m.Target, m) {
					remove(m)
					progressed = true
					break
				}
				continue
			}
			if m.Source == m.Target {
				// A cycle break already routed the value here.
				remove(m)
				progressed = true
				break
			}
			if !sourcedFromBySomeone(m.Target, m) {
				emitMove(m.Target, m.Source)
				remove(m)
				progressed = true
				break
			}
		}
		if progressed {
			continue
		}

		// Every remaining register-sourced move is part of a cycle: break
		// the earliest pending one's edge with a swap (or a
		// scratch-register shuffle if the backend has no native swap),
		// then let the loop drain the rest.
		var any *Move
		for _, m := range pending {
			if m.Source != arch.NilRegister {
				any = m
				break
			}
		}
		if any == nil {
			// Only non-register sources left, each still feeding another:
			// impossible, since NilRegister is never a pending target.
			return nil
		}
		if swap != nil {
			swap(any.Target, any.Source)
			// any.Source now holds what used to be in any.Target; every
			// other move still waiting to read any.Target must instead
			// read any.Source.
			for _, m := range pending {
				if m != any && m.Source == any.Target {
					m.Source = any.Source
				}
			}
		} else {
			emitMove(scratch, any.Target)
			emitMove(any.Target, any.Source)
			for _, m := range pending {
				if m != any && m.Source == any.Target {
					m.Source = scratch
				}
			}
		}
		remove(any)
	}
	return nil
}
