package main

import (
	"errors"
	"testing"
)

func TestRunMainSuccess(t *testing.T) {
	code := runMain([]string{"hostup"}, func([]string) error { return nil })
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunMainError(t *testing.T) {
	code := runMain([]string{"hostup"}, func([]string) error {
		return errors.New("boom")
	})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestMainVersion(t *testing.T) {
	oldExit := osExit
	var got = -1
	osExit = func(code int) { got = code }
	defer func() { osExit = oldExit }()

	osExit(runMain([]string{"hostup", "version"}, func([]string) error { return nil }))
	if got != 0 {
		t.Fatalf("unexpected exit code: %d", got)
	}
}
