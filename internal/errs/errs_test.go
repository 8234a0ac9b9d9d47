package errs

import (
	"context"
	"errors"
	"testing"
)

var errSentinel = New(CodeNotFound, "thing not found")

func TestCodeOfWalksWrapChain(t *testing.T) {
	err := Wrapf(Wrap(errSentinel, "load thing"), "handle request %d", 7)

	if got := CodeOf(err); got != CodeNotFound {
		t.Fatalf("CodeOf() = %q, want %q", got, CodeNotFound)
	}
	if !errors.Is(err, errSentinel) {
		t.Fatalf("errors.Is() = false, want true")
	}
	if err.Error() != "handle request 7: load thing: thing not found" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestCodeOfContextErrors(t *testing.T) {
	if got := CodeOf(Wrap(context.DeadlineExceeded, "query")); got != CodeTimeout {
		t.Fatalf("CodeOf(deadline) = %q, want %q", got, CodeTimeout)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestAsKeepsCause(t *testing.T) {
	cause := errors.New("disk gone")
	err := As(CodeUnavailable, cause, "insert obituary")

	if !HasCode(err, CodeUnavailable) {
		t.Fatalf("HasCode() = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(cause) = false, want true")
	}
	if As(CodeUnavailable, nil, "noop") != nil {
		t.Fatalf("As(nil) should be nil")
	}
}

func TestWithStackOnlyOnce(t *testing.T) {
	err := WithStack(errors.New("root"))
	again := WithStack(Wrap(err, "outer"))

	var se *StackError
	if !errors.As(again, &se) {
		t.Fatalf("expected StackError in chain")
	}
	if len(se.Stack()) == 0 {
		t.Fatalf("stack is empty")
	}
	if len(ErrorChainStrings(again)) != 3 {
		t.Fatalf("chain = %#v", ErrorChainStrings(again))
	}
}
