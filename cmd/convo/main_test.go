package main

import (
	"context"
	"errors"
	"testing"
)

func stubExecute(t *testing.T, exec func(context.Context, []string) error, mapCode func(error) int) {
	t.Helper()
	origExec, origMap := executeCmd, mapExitCode
	t.Cleanup(func() {
		executeCmd = origExec
		mapExitCode = origMap
	})
	executeCmd = exec
	if mapCode != nil {
		mapExitCode = mapCode
	}
}

func TestRun_Success(t *testing.T) {
	var gotArgs []string
	stubExecute(t, func(_ context.Context, args []string) error {
		gotArgs = append([]string(nil), args...)
		return nil
	}, func(error) int {
		t.Fatal("mapExitCode should not be called on success")
		return 99
	})

	if code := run([]string{"version", "--output", "json"}); code != 0 {
		t.Fatalf("run() code = %d, want 0", code)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "version" || gotArgs[2] != "json" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}

func TestRun_ErrorUsesMappedExitCode(t *testing.T) {
	executeErr := errors.New("boom")
	stubExecute(t, func(context.Context, []string) error { return executeErr }, func(err error) int {
		if !errors.Is(err, executeErr) {
			t.Fatalf("mapExitCode got err %v, want %v", err, executeErr)
		}
		return 23
	})

	if code := run([]string{"status"}); code != 23 {
		t.Fatalf("run() code = %d, want 23", code)
	}
}

func TestMain_UsesTerminate(t *testing.T) {
	origTerminate := terminate
	t.Cleanup(func() { terminate = origTerminate })
	stubExecute(t, func(context.Context, []string) error { return nil }, nil)

	got := -1
	terminate = func(code int) { got = code }
	main()
	if got != 0 {
		t.Fatalf("terminate code = %d, want 0", got)
	}
}
