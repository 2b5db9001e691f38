package tools

import (
	"encoding/json"
	"testing"
)

func sampleDescriptor() Descriptor {
	return Descriptor{
		Name: "sample",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":  map[string]interface{}{"type": "string"},
				"limit": map[string]interface{}{"type": "integer"},
				"all":   map[string]interface{}{"type": "boolean"},
			},
			"required": []string{"path"},
		},
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{Descriptor: Descriptor{Name: "alpha"}})
	reg.Register(Tool{Descriptor: Descriptor{Name: "beta"}})

	if reg.Count() != 2 {
		t.Errorf("Count = %d, want 2", reg.Count())
	}
	if reg.Get("alpha") == nil {
		t.Error("alpha should be registered")
	}
	if reg.Get("gamma") != nil {
		t.Error("gamma should not be registered")
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("Names = %v, want sorted [alpha beta]", names)
	}

	reg.Unregister("alpha")
	if reg.Get("alpha") != nil {
		t.Error("alpha should be gone after Unregister")
	}
}

func TestRegistryDefinitionsStableOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{Descriptor: Descriptor{Name: "zeta"}})
	reg.Register(Tool{Descriptor: Descriptor{Name: "alpha"}})
	reg.Register(Tool{Descriptor: Descriptor{Name: "mu"}})

	defs := reg.Definitions()
	want := []string{"alpha", "mu", "zeta"}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("Definitions[%d] = %q, want %q", i, d.Name, want[i])
		}
	}
}

func TestParseArguments(t *testing.T) {
	args, err := ParseArguments(json.RawMessage(`{"path": "a.txt", "limit": 5}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p, _ := StringArg(args, "path"); p != "a.txt" {
		t.Errorf("path = %q", p)
	}
	if n, _ := IntArg(args, "limit"); n != 5 {
		t.Errorf("limit = %d", n)
	}

	if _, err := ParseArguments(json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for malformed arguments")
	}

	args, err = ParseArguments(nil)
	if err != nil || args == nil {
		t.Errorf("empty payload should parse to empty map, got %v, %v", args, err)
	}
}

func TestValidateArguments(t *testing.T) {
	desc := sampleDescriptor()

	cases := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{"valid", map[string]interface{}{"path": "a.txt", "limit": float64(3), "all": true}, false},
		{"required only", map[string]interface{}{"path": "a.txt"}, false},
		{"missing required", map[string]interface{}{"limit": float64(3)}, true},
		{"unknown parameter", map[string]interface{}{"path": "a.txt", "bogus": 1}, true},
		{"wrong type", map[string]interface{}{"path": 42}, true},
		{"wrong bool type", map[string]interface{}{"path": "a.txt", "all": "yes"}, true},
	}
	for _, tc := range cases {
		err := ValidateArguments(desc, tc.args)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr = %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]interface{}{
		"s": "text",
		"f": float64(7),
		"b": true,
	}

	if v, ok := StringArg(args, "s"); !ok || v != "text" {
		t.Errorf("StringArg = %q, %v", v, ok)
	}
	if _, ok := StringArg(args, "missing"); ok {
		t.Error("StringArg should report missing keys")
	}
	if v, ok := IntArg(args, "f"); !ok || v != 7 {
		t.Errorf("IntArg = %d, %v", v, ok)
	}
	if _, ok := IntArg(args, "s"); ok {
		t.Error("IntArg should reject strings")
	}
	if v, ok := BoolArg(args, "b"); !ok || !v {
		t.Errorf("BoolArg = %v, %v", v, ok)
	}
}
