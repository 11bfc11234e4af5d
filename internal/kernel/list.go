package kernel

import "fmt"

// push links t at the head of the list rooted at head.
func push(head *ThreadID, t *Thread) {
	if t.linked {
		panic(fmt.Sprintf("kernel: thread %s is already on a list", t))
	}
	t.next = *head
	t.linked = true
	*head = t.id
}

// pop unlinks and returns the head of the list, or nil when it is empty.
func pop(a *arena, head *ThreadID) *Thread {
	if *head == nilThread {
		return nil
	}
	t := a.get(*head)
	*head = t.next
	t.next = nilThread
	t.linked = false
	return t
}

// unlink removes t from the list rooted at head.
func unlink(a *arena, head *ThreadID, t *Thread) bool {
	for link := head; *link != nilThread; link = &a.get(*link).next {
		if *link == t.id {
			*link = t.next
			t.next = nilThread
			t.linked = false
			return true
		}
	}
	return false
}

func length(a *arena, head ThreadID) int {
	n := 0
	for id := head; id != nilThread; id = a.get(id).next {
		n++
	}
	return n
}
