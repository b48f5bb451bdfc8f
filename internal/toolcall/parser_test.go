package toolcall

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Call
	}{
		{
			name: "no marker",
			text: "It is sunny in Paris today.",
			want: nil,
		},
		{
			name: "quoted and unquoted args",
			text: `Using tool: foo(a: 1, b: "x")`,
			want: []Call{{Name: "foo", Args: map[string]string{"a": "1", "b": "x"}}},
		},
		{
			name: "no parentheses",
			text: "Using tool: foo",
			want: nil,
		},
		{
			name: "call followed by prose",
			text: "Using tool: get_weather(location: Paris)\nI'll check that for you.",
			want: []Call{{Name: "get_weather", Args: map[string]string{"location": "Paris"}}},
		},
		{
			name: "marker mid-line",
			text: "Sure! Using tool: web_search(query: 'go generics', num_results: 2) now",
			want: []Call{{Name: "web_search", Args: map[string]string{"query": "go generics", "num_results": "2"}}},
		},
		{
			name: "empty args",
			text: "Using tool: get_weather()",
			want: []Call{{Name: "get_weather", Args: map[string]string{}}},
		},
		{
			name: "parentheses inside value",
			text: "Using tool: web_search(query: weather (tomorrow))",
			want: []Call{{Name: "web_search", Args: map[string]string{"query": "weather (tomorrow)"}}},
		},
		{
			name: "value split on first colon only",
			text: "Using tool: web_search(query: time: now)",
			want: []Call{{Name: "web_search", Args: map[string]string{"query": "time: now"}}},
		},
		{
			name: "comma breaks value",
			text: "Using tool: web_search(query: Paris, France)",
			want: []Call{{Name: "web_search", Args: map[string]string{"query": "Paris"}}},
		},
		{
			name: "nested quotes stripped",
			text: `Using tool: get_stock_price(symbol: "'AAPL'")`,
			want: []Call{{Name: "get_stock_price", Args: map[string]string{"symbol": "AAPL"}}},
		},
		{
			name: "duplicates preserved in order",
			text: "Using tool: a(x: 1)\nUsing tool: b()\nUsing tool: a(x: 1)",
			want: []Call{
				{Name: "a", Args: map[string]string{"x": "1"}},
				{Name: "b", Args: map[string]string{}},
				{Name: "a", Args: map[string]string{"x": "1"}},
			},
		},
		{
			name: "line without closing parenthesis does not stop scan",
			text: "Using tool: broken(\nUsing tool: ok(y: 2)",
			want: []Call{{Name: "ok", Args: map[string]string{"y": "2"}}},
		},
		{
			name: "closing before opening parenthesis",
			text: "Using tool: )oops(a: 1",
			want: []Call{{Name: ")oops", Args: map[string]string{}}},
		},
		{
			name: "empty tool name",
			text: "Using tool: (x: 1)",
			want: []Call{{Name: "", Args: map[string]string{"x": "1"}}},
		},
		{
			name: "second marker ends first call",
			text: "Using tool: a(x: 1) Using tool: b(y: 2)",
			want: []Call{{Name: "a", Args: map[string]string{"x": "1"}}},
		},
		{
			name: "fragments without colon ignored",
			text: "Using tool: f(bare, : orphan, k: v)",
			want: []Call{{Name: "f", Args: map[string]string{"": "orphan", "k": "v"}}},
		},
	}
	p := NewParser("", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParse_CustomMarker(t *testing.T) {
	p := NewParser("CALL>", nil)
	if p.Marker() != "CALL>" {
		t.Fatalf("Marker() = %q", p.Marker())
	}

	got := p.Parse("Using tool: ignored(a: 1)\nCALL> used(b: 2)")
	want := []Call{{Name: "used", Args: map[string]string{"b": "2"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse() = %#v, want %#v", got, want)
	}
}

func TestNewParser_DefaultMarker(t *testing.T) {
	if got := NewParser("", nil).Marker(); got != DefaultMarker {
		t.Errorf("Marker() = %q, want %q", got, DefaultMarker)
	}
}
