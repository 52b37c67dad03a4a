package graph

import (
	"fmt"
	"sort"
	"strings"
)

type Node interface {
	GetName() string
	GetDependencies() []string
}

// TopologicalSort orders nodes so every node follows its dependencies. Ties
// are broken by name, so the order is stable across runs. A cycle is
// reported with its full path.
func TopologicalSort(nodes map[string]Node) ([]string, error) {
	if err := ValidateGraph(nodes); err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(nodes))
	var path []string
	result := make([]string, 0, len(nodes))

	var visit func(string) error
	visit = func(name string) error {
		if done[name] {
			return nil
		}
		for i, seen := range path {
			if seen == name {
				cycle := append(append([]string{}, path[i:]...), name)
				return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
			}
		}

		path = append(path, name)
		deps := append([]string{}, nodes[name].GetDependencies()...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]

		done[name] = true
		result = append(result, name)
		return nil
	}

	for _, name := range sortedNames(nodes) {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ValidateGraph rejects dependencies on nodes that are not in the graph.
func ValidateGraph(nodes map[string]Node) error {
	for _, name := range sortedNames(nodes) {
		for _, dep := range nodes[name].GetDependencies() {
			if _, exists := nodes[dep]; !exists {
				return fmt.Errorf("node %s depends on %s which does not exist", name, dep)
			}
		}
	}
	return nil
}

func sortedNames(nodes map[string]Node) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
