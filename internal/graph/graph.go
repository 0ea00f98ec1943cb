// Package graph turns stored dependency edges into execution chains.
package graph

import (
	"strings"

	"github.com/pkg/errors"

	"chainflow/internal/domain"
)

// Graph indexes dependency edges in both directions. Edge order is preserved.
type Graph struct {
	deps       map[string][]string
	dependents map[string][]string
}

func Build(edges []domain.Dependency) *Graph {
	g := &Graph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
	for _, e := range edges {
		if e.TaskID == "" || e.DependsOn == "" {
			continue
		}
		g.deps[e.TaskID] = appendUnique(g.deps[e.TaskID], e.DependsOn)
		g.dependents[e.DependsOn] = appendUnique(g.dependents[e.DependsOn], e.TaskID)
	}
	return g
}

// DependsOn lists the prerequisites of id.
func (g *Graph) DependsOn(id string) []string { return g.deps[id] }

// Dependents lists the tasks that run after id completes.
func (g *Graph) Dependents(id string) []string { return g.dependents[id] }

// Chain returns every prerequisite of target in dependency-first order,
// deduplicated, with target last. A cycle reachable from target yields
// domain.ErrCyclicDependency.
func (g *Graph) Chain(target string) ([]string, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var (
		order []string
		path  []string
	)
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return errors.Wrap(domain.ErrCyclicDependency, cyclePath(path, id))
		}
		state[id] = visiting
		path = append(path, id)
		for _, dep := range g.deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		order = append(order, id)
		return nil
	}
	if err := visit(target); err != nil {
		return nil, err
	}
	return order, nil
}

func cyclePath(path []string, back string) string {
	start := 0
	for i, id := range path {
		if id == back {
			start = i
			break
		}
	}
	cycle := append(append([]string{}, path[start:]...), back)
	return strings.Join(cycle, " -> ")
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}
