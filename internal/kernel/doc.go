// Package kernel implements the per-CPU cooperative scheduler of the
// isolation kernel.
//
// Each CPU owns a two-generation priority scheduler, a table of interrupt
// wait queues and the thread control blocks created on it. Threads are
// cooperative: they run until they yield, park on an interrupt line, honour
// a pending timer reschedule at a checkpoint, or return. A context switch
// hands a baton from the outgoing thread's goroutine to the incoming one, so
// exactly one thread per CPU executes at a time.
//
// Entry functions receive a *Context, the task-local view of the running
// thread and its CPU. Code outside kernel threads manipulates threads
// through a Handle.
package kernel
