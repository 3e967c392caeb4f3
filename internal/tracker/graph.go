package tracker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// dependencyCycle reports the path that would close a cycle if task took
// deps as its dependency set, or nil when the set is acyclic. graph holds
// the stored edges (task -> prerequisites); task's own edges are replaced
// by deps.
func dependencyCycle(graph map[int64][]int64, task int64, deps []int64) []int64 {
	g := make(map[int64][]int64, len(graph)+1)
	for k, v := range graph {
		g[k] = v
	}
	g[task] = deps

	for _, dep := range sortedIDs(deps) {
		if dep == task {
			return []int64{task, task}
		}
		if path := findPath(g, dep, task); path != nil {
			return append([]int64{task}, path...)
		}
	}
	return nil
}

// findPath runs a deterministic DFS from start and returns the first path
// that reaches goal, start and goal included.
func findPath(g map[int64][]int64, start, goal int64) []int64 {
	visited := make(map[int64]bool)
	parent := make(map[int64]int64)

	var found bool
	var dfs func(u int64)
	dfs = func(u int64) {
		visited[u] = true
		for _, v := range sortedIDs(g[u]) {
			if found {
				return
			}
			if visited[v] {
				continue
			}
			parent[v] = u
			if v == goal {
				found = true
				return
			}
			dfs(v)
		}
	}

	if start == goal {
		return []int64{start}
	}
	dfs(start)
	if !found {
		return nil
	}

	path := []int64{goal}
	for cur := goal; cur != start; {
		cur = parent[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func sortedIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func formatPath(path []int64) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, " -> ")
}

func cycleMessage(path []int64) string {
	if len(path) == 2 && path[0] == path[1] {
		return "a task cannot depend on itself"
	}
	return fmt.Sprintf("dependency cycle: %s", formatPath(path))
}
