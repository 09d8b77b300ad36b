package coordination

import (
	"fmt"
	"sync"
)

// DependencyGraph 任务依赖图。记录每个任务的前驱（依赖）与后继
// （被依赖），支持增量就绪判定与环检测。
type DependencyGraph struct {
	mu         sync.RWMutex
	deps       map[string]map[string]struct{} // 任务 -> 其依赖集合
	dependents map[string]map[string]struct{} // 任务 -> 依赖它的任务集合
}

// NewDependencyGraph 创建依赖图
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
	}
}

// AddTask 登记任务及其依赖。依赖的任务无需已登记。
func (g *DependencyGraph) AddTask(taskID string, dependencies []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.deps[taskID]; !ok {
		g.deps[taskID] = make(map[string]struct{})
	}
	for _, dep := range dependencies {
		g.deps[taskID][dep] = struct{}{}
		if _, ok := g.dependents[dep]; !ok {
			g.dependents[dep] = make(map[string]struct{})
		}
		g.dependents[dep][taskID] = struct{}{}
	}
}

// RemoveTask 从图中摘除任务（及其作为前驱/后继的全部边）
func (g *DependencyGraph) RemoveTask(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for dep := range g.deps[taskID] {
		delete(g.dependents[dep], taskID)
		if len(g.dependents[dep]) == 0 {
			delete(g.dependents, dep)
		}
	}
	delete(g.deps, taskID)
	for dependent := range g.dependents[taskID] {
		delete(g.deps[dependent], taskID)
	}
	delete(g.dependents, taskID)
}

// ReadyTasks 返回依赖全部落在 completed 集合内的已登记任务 ID
func (g *DependencyGraph) ReadyTasks(completed map[string]struct{}) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ready []string
	for taskID, deps := range g.deps {
		ok := true
		for dep := range deps {
			if _, done := completed[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, taskID)
		}
	}
	return ready
}

// MissingFor 返回任务尚未满足的依赖列表
func (g *DependencyGraph) MissingFor(taskID string, completed map[string]struct{}) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var missing []string
	for dep := range g.deps[taskID] {
		if _, done := completed[dep]; !done {
			missing = append(missing, dep)
		}
	}
	return missing
}

// Dependents 返回直接依赖 taskID 的任务 ID
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.dependents[taskID]))
	for id := range g.dependents[taskID] {
		out = append(out, id)
	}
	return out
}

// HasCycle 深度优先检测依赖环；发现时返回环上的一个任务 ID
func (g *DependencyGraph) HasCycle() (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0 // 未访问
		grey  = 1 // 访问中
		black = 2 // 已完成
	)
	color := make(map[string]int, len(g.deps))

	var visit func(id string) (bool, string)
	visit = func(id string) (bool, string) {
		color[id] = grey
		for dep := range g.deps[id] {
			switch color[dep] {
			case grey:
				return true, dep
			case white:
				if found, at := visit(dep); found {
					return true, at
				}
			}
		}
		color[id] = black
		return false, ""
	}

	for id := range g.deps {
		if color[id] == white {
			if found, at := visit(id); found {
				return true, at
			}
		}
	}
	return false, ""
}

// Validate 检查依赖环，有环时返回错误
func (g *DependencyGraph) Validate() error {
	if found, at := g.HasCycle(); found {
		return fmt.Errorf("dependency cycle detected involving task %s", at)
	}
	return nil
}

// Len 已登记任务数
func (g *DependencyGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.deps)
}
