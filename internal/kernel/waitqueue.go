package kernel

const (
	// MaxInterrupts is the number of interrupt lines per CPU.
	MaxInterrupts = 256
	// TimerIRQ is the line raised by Tick.
	TimerIRQ uint8 = 32
)

// waitQueues holds one LIFO list of parked threads per interrupt line.
type waitQueues struct {
	arena *arena
	heads [MaxInterrupts]ThreadID
}

func newWaitQueues(a *arena) waitQueues {
	w := waitQueues{arena: a}
	for i := range w.heads {
		w.heads[i] = nilThread
	}
	return w
}

func (w *waitQueues) park(irq uint8, t *Thread) {
	push(&w.heads[irq], t)
	t.waitIRQ = int(irq)
}

// drain unlinks every thread waiting on irq and hands each to fn.
func (w *waitQueues) drain(irq uint8, fn func(*Thread)) int {
	n := 0
	for t := pop(w.arena, &w.heads[irq]); t != nil; t = pop(w.arena, &w.heads[irq]) {
		t.waitIRQ = -1
		fn(t)
		n++
	}
	return n
}

func (w *waitQueues) remove(t *Thread) bool {
	if t.waitIRQ < 0 {
		return false
	}
	if !unlink(w.arena, &w.heads[t.waitIRQ], t) {
		return false
	}
	t.waitIRQ = -1
	return true
}

// waiting returns the number of parked threads per non-empty line.
func (w *waitQueues) waiting() map[uint8]int {
	out := make(map[uint8]int)
	for irq, head := range w.heads {
		if head != nilThread {
			out[uint8(irq)] = length(w.arena, head)
		}
	}
	return out
}
