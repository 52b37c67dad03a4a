package graph

import (
	"reflect"
	"strings"
	"testing"
)

type node struct {
	name string
	deps []string
}

func (n node) GetName() string           { return n.name }
func (n node) GetDependencies() []string { return n.deps }

func nodes(ns ...node) map[string]Node {
	m := make(map[string]Node, len(ns))
	for _, n := range ns {
		m[n.name] = n
	}
	return m
}

func TestTopologicalSort(t *testing.T) {
	got, err := TopologicalSort(nodes(
		node{"server", []string{"storage", "queue"}},
		node{"queue", []string{"storage"}},
		node{"platforms", nil},
		node{"storage", nil},
	))
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}
	want := []string{"platforms", "storage", "queue", "server"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestTopologicalSortErrors(t *testing.T) {
	tests := []struct {
		name  string
		graph map[string]Node
		want  string
	}{
		{"cycle", nodes(node{"a", []string{"b"}}, node{"b", []string{"a"}}), "a -> b -> a"},
		{"self", nodes(node{"a", []string{"a"}}), "a -> a"},
		{"missing", nodes(node{"a", []string{"ghost"}}), "ghost which does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TopologicalSort(tt.graph)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}

	if err := ValidateGraph(nodes(node{"a", []string{"ghost"}})); err == nil {
		t.Fatal("ValidateGraph should reject a dangling dependency")
	}
}
