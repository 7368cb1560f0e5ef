package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRegistryRegisterAndStatus(t *testing.T) {
	reg, err := NewRegistry(Handler{Token: " Module:Migrate ", Command: "echo migrate"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := reg.Register(Handler{Token: "module:migrate", Command: "echo again"}); !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := reg.Register(Handler{Token: "module:seed"}); err == nil {
		t.Fatal("empty command should be rejected")
	}
	if err := reg.Register(Handler{Command: "true"}); err == nil {
		t.Fatal("empty token should be rejected")
	}

	snapshot := reg.Snapshot([]string{"module:migrate", "module:seed", " "})
	want := map[string]string{"module:migrate": "registered", "module:seed": "missing"}
	if len(snapshot) != len(want) {
		t.Fatalf("snapshot = %v", snapshot)
	}
	for token, status := range want {
		if snapshot[token] != status {
			t.Fatalf("%s status = %s, want %s", token, snapshot[token], status)
		}
	}
	if tokens := reg.Tokens(); len(tokens) != 1 || tokens[0] != "module:migrate" {
		t.Fatalf("tokens = %v", tokens)
	}
}

func TestRunPassesArgumentsAndEnv(t *testing.T) {
	reg, _ := NewRegistry(Handler{Token: "module:seed", Command: `printf '%s|%s|%s' "$MODKIT_TOKEN" "$MODKIT_MODULE"`})
	var stdout bytes.Buffer
	r := New(reg, Options{Stdout: &stdout, Stderr: io.Discard, Logger: quietLogger()})

	code, err := r.Run(context.Background(), "module:seed", []string{"two words"}, "MODKIT_MODULE=billing")
	if err != nil || code != 0 {
		t.Fatalf("run: code=%d err=%v", code, err)
	}
	if got := stdout.String(); got != "module:seed|billing|two words" {
		t.Fatalf("stdout = %q", got)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	reg, _ := NewRegistry(Handler{Token: "module:migrate", Command: "exit 3"})
	r := New(reg, Options{Stdout: io.Discard, Stderr: io.Discard, Logger: quietLogger()})

	code, err := r.Run(context.Background(), "module:migrate", nil)
	if err != nil {
		t.Fatalf("a failing command is not a runner error: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}

func TestRunMissingHandler(t *testing.T) {
	r := New(nil, Options{Logger: quietLogger()})
	code, err := r.Run(context.Background(), "module:publish", nil)
	if !errors.Is(err, ErrNoHandler) || code != 1 {
		t.Fatalf("expected ErrNoHandler with code 1, got code=%d err=%v", code, err)
	}
	if !strings.Contains(err.Error(), "module:publish") {
		t.Fatalf("error should name the token: %v", err)
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
