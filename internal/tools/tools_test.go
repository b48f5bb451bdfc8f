package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// stubTool is a Tool backed by a function.
type stubTool struct {
	name   string
	desc   string
	params Schema
	fn     func(ctx context.Context, args map[string]string) (string, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return s.desc }
func (s *stubTool) Parameters() Schema  { return s.params }
func (s *stubTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	return s.fn(ctx, args)
}

func constTool(name, result string) *stubTool {
	return &stubTool{
		name: name,
		desc: name + " tool",
		fn:   func(context.Context, map[string]string) (string, error) { return result, nil },
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry(constTool("a", "1"), nil, constTool("dup", "first"), constTool("dup", "second"))

	if reg.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (nil skipped)", reg.Len())
	}
	if got := strings.Join(reg.Names(), ","); got != "a,dup,dup" {
		t.Errorf("Names() = %q", got)
	}

	tool, ok := reg.Lookup("dup")
	if !ok {
		t.Fatal("Lookup(dup) not found")
	}
	if out, _ := tool.Execute(context.Background(), nil); out != "first" {
		t.Errorf("Lookup(dup) returned %q, want the first registration", out)
	}

	if _, ok := reg.Lookup("missing"); ok {
		t.Error("Lookup(missing) should fail")
	}
}

func TestRegistry_AllReturnsCopy(t *testing.T) {
	reg := NewRegistry(constTool("a", "1"), constTool("b", "2"))
	all := reg.All()
	all[0] = constTool("z", "0")
	if reg.Names()[0] != "a" {
		t.Error("mutating All() result changed the registry")
	}
}

func TestSchema_RequiredArgs(t *testing.T) {
	s := Schema{
		"zeta":  {Type: "string", Required: true},
		"alpha": {Type: "string", Required: true},
		"opt":   {Type: "integer"},
	}
	if got := strings.Join(s.RequiredArgs(), ","); got != "alpha,zeta" {
		t.Errorf("RequiredArgs() = %q, want alpha,zeta", got)
	}
	if Schema(nil).RequiredArgs() != nil {
		t.Error("nil schema should have no required args")
	}
}

func TestExecutor_Execute(t *testing.T) {
	boom := &stubTool{
		name: "boom",
		fn: func(context.Context, map[string]string) (string, error) {
			return "", errors.New("backend exploded")
		},
	}
	panicky := &stubTool{
		name: "panicky",
		fn: func(context.Context, map[string]string) (string, error) {
			panic("nil map")
		},
	}
	needy := &stubTool{
		name:   "needy",
		params: Schema{"query": {Type: "string", Required: true}},
		fn: func(_ context.Context, args map[string]string) (string, error) {
			return "got " + args["query"], nil
		},
	}
	reg := NewRegistry(constTool("get_weather", "Sunny, 72°F"), boom, panicky, needy)
	exec := NewExecutor(reg, nil, time.Second, nil)

	tests := []struct {
		name      string
		tool      string
		args      map[string]string
		wantText  string
		wantFound bool
		wantOK    bool
	}{
		{"success", "get_weather", map[string]string{"location": "Paris"}, "get_weather result: Sunny, 72°F", true, true},
		{"not found", "nope", nil, "I encountered an error while trying to help: nope not found", false, false},
		{"tool error", "boom", nil, "I encountered an error while trying to help: backend exploded", true, false},
		{"missing required", "needy", map[string]string{"other": "x"}, "I encountered an error while trying to help: missing required argument: query", true, false},
		{"blank required", "needy", map[string]string{"query": "  "}, "I encountered an error while trying to help: missing required argument: query", true, false},
		{"required present", "needy", map[string]string{"query": "go"}, "needy result: got go", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := exec.Execute(context.Background(), tt.tool, tt.args)
			if out.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", out.Text, tt.wantText)
			}
			if out.Found != tt.wantFound {
				t.Errorf("Found = %v, want %v", out.Found, tt.wantFound)
			}
			if out.OK() != tt.wantOK {
				t.Errorf("OK() = %v, want %v (err %v)", out.OK(), tt.wantOK, out.Err)
			}
		})
	}

	t.Run("panic recovered", func(t *testing.T) {
		out := exec.Execute(context.Background(), "panicky", nil)
		if out.Err == nil || !strings.Contains(out.Text, "panicky failed unexpectedly") {
			t.Errorf("Text = %q, Err = %v", out.Text, out.Err)
		}
	})

	t.Run("unavailable error type", func(t *testing.T) {
		out := exec.Execute(context.Background(), "nope", nil)
		var unavailable *ErrToolUnavailable
		if !errors.As(out.Err, &unavailable) || unavailable.ToolName != "nope" {
			t.Errorf("Err = %v, want ErrToolUnavailable{nope}", out.Err)
		}
	})
}

func TestExecutor_Timeout(t *testing.T) {
	slow := &stubTool{
		name: "slow",
		fn: func(ctx context.Context, _ map[string]string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "too late", nil
			}
		},
	}
	exec := NewExecutor(NewRegistry(slow), nil, 20*time.Millisecond, nil)

	out := exec.Execute(context.Background(), "slow", nil)
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("Err = %v, want deadline exceeded", out.Err)
	}
}

type bracketFormatter struct{}

func (bracketFormatter) ToolError(m string) string      { return "[error] " + m }
func (bracketFormatter) ToolSuccess(n, r string) string { return "[" + n + "] " + r }

func TestExecutor_CustomFormatter(t *testing.T) {
	exec := NewExecutor(NewRegistry(constTool("t", "ok")), bracketFormatter{}, 0, nil)

	if got := exec.ExecuteCall(context.Background(), "t", nil); got != "[t] ok" {
		t.Errorf("ExecuteCall() = %q", got)
	}
	if got := exec.ExecuteCall(context.Background(), "x", nil); got != "[error] x not found" {
		t.Errorf("ExecuteCall(missing) = %q", got)
	}
}

func TestDecodeArgs(t *testing.T) {
	var out struct {
		Name  string  `arg:"name"`
		Count int     `arg:"count"`
		Ratio float64 `arg:"ratio"`
		Flag  bool    `arg:"flag"`
	}
	err := decodeArgs("t", map[string]string{
		"name": "x", "count": "7", "ratio": "0.5", "flag": "true", "extra": "ignored",
	}, &out)
	if err != nil {
		t.Fatalf("decodeArgs() error = %v", err)
	}
	if out.Name != "x" || out.Count != 7 || out.Ratio != 0.5 || !out.Flag {
		t.Errorf("decoded = %+v", out)
	}

	err = decodeArgs("t", map[string]string{"count": "many"}, &out)
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("err = %v, want ArgumentError", err)
	}
}
