package vm

import (
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestOperandStackPushPop(t *testing.T) {
	s := NewOperandStack(4)
	assert(t, s.Len() == 0, "expected empty stack")

	for _, v := range []uint64{1, 2, 3} {
		assert(t, s.Push(v) == nil, "push %d failed", v)
	}
	assert(t, s.Len() == 3, "expected length 3, got %d", s.Len())

	top, err := s.Peek()
	assert(t, err == nil && top == 3, "expected peek 3, got %d err %v", top, err)

	for _, want := range []uint64{3, 2, 1} {
		got, err := s.Pop()
		assert(t, err == nil && got == want, "expected pop %d, got %d err %v", want, got, err)
	}

	_, err = s.Pop()
	assert(t, err == ErrStackEmpty, "expected empty error, got %v", err)
}

func TestOperandStackOverflow(t *testing.T) {
	s := NewOperandStack(2)
	assert(t, s.Push(1) == nil, "push 1 failed")
	assert(t, s.Push(2) == nil, "push 2 failed")
	assert(t, s.Push(3) == ErrStackOverflow, "expected overflow error")
}

func TestOperandStackGetSet(t *testing.T) {
	s := NewOperandStack(8)
	for _, v := range []uint64{10, 20, 30} {
		assert(t, s.Push(v) == nil, "push %d failed", v)
	}

	v, err := s.Get(0)
	assert(t, err == nil && v == 30, "Get(0) want 30, got %d err %v", v, err)
	v, err = s.Get(2)
	assert(t, err == nil && v == 10, "Get(2) want 10, got %d err %v", v, err)

	assert(t, s.Set(1, 99) == nil, "Set(1, 99) failed")
	v, err = s.Get(1)
	assert(t, err == nil && v == 99, "Get(1) want 99 after Set, got %d err %v", v, err)

	_, err = s.Get(5)
	assert(t, err == ErrStackOutOfRange, "expected out-of-range error, got %v", err)
}
