package kernel

import (
	"fmt"
	"reflect"
)

// flagIF is the interrupt-enable bit of the saved flags word.
const flagIF uint64 = 1 << 9

// trampolinePC identifies the thread entry trampoline in a stack slot.
// It is assigned in init to break the package initialization cycle through
// trampoline's call graph.
var trampolinePC uintptr

func init() {
	trampolinePC = reflect.ValueOf((*CPU).trampoline).Pointer()
}

// DefaultStackWords sizes a thread stack. Goroutines carry the real call
// stack; the kernel stack holds the entry trampoline in its top slot and the
// remaining words are reserved.
const DefaultStackWords = 64

// Stack is a fixed-size thread stack allocated when the thread is created.
// Only the top slot is written, by installTrampoline.
type Stack struct {
	words []uintptr
}

// NewStack allocates a stack of n words.
func NewStack(n int) *Stack {
	if n < 1 {
		panic(fmt.Sprintf("kernel: stack of %d words", n))
	}
	return &Stack{words: make([]uintptr, n)}
}

// Len returns the stack size in words.
func (s *Stack) Len() int { return len(s.words) }

// top is the index of the highest stack slot.
func (s *Stack) top() int { return len(s.words) - 1 }

// installTrampoline writes the trampoline into the top slot and returns the
// initial stack pointer.
func (s *Stack) installTrampoline() int {
	sp := s.top()
	s.words[sp] = trampolinePC
	return sp
}

// Frame is the saved execution state of a thread that is not running.
type Frame struct {
	flags    uint64
	sp       int
	switches uint64

	// resume is the baton. A thread blocked in a switch waits on it until
	// another switch selects it again.
	resume chan struct{}
}

func newFrame(stack *Stack) Frame {
	return Frame{
		sp:     stack.installTrampoline(),
		resume: make(chan struct{}, 1),
	}
}

// enter reports whether resuming the frame starts the thread, consuming the
// trampoline slot the way a return pops its address.
func (f *Frame) enter(stack *Stack) bool {
	if f.sp != stack.top() || stack.words[f.sp] != trampolinePC {
		return false
	}
	stack.words[f.sp] = 0
	f.sp--
	return true
}

// InterruptsEnabled reports the saved interrupt-enable bit.
func (f *Frame) InterruptsEnabled() bool { return f.flags&flagIF != 0 }
