package logging

import "testing"

func TestNewDoesNotPanic(t *testing.T) {
	devLogger := New(true)
	if devLogger == nil {
		t.Fatal("expected non-nil dev logger")
	}
	defer devLogger.Sync()

	prodLogger := New(false)
	if prodLogger == nil {
		t.Fatal("expected non-nil prod logger")
	}
	defer prodLogger.Sync()
}
