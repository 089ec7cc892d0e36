// Package fsm 提供按状态对声明迁移规则的有限状态机.
package fsm

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrInvalidTransition 无效的状态转移.
var ErrInvalidTransition = errors.New("invalid state transition")

// Rules 每个状态允许迁移到的目标状态。不在表中的状态为终态.
type Rules[S comparable] map[S][]S

// Allows 判断 from 能否迁移到 to.
func (r Rules[S]) Allows(from, to S) bool {
	return slices.Contains(r[from], to)
}

// Terminal 判断状态是否没有任何出边.
func (r Rules[S]) Terminal(s S) bool {
	return len(r[s]) == 0
}

// Machine 持有当前状态，规则表在创建后只读，可被多个 Machine 共享.
type Machine[S comparable] struct {
	rules    Rules[S]
	mu       sync.Mutex
	current  S
	onChange func(from, to S)
}

// New 创建一个新的状态机.
func New[S comparable](initial S, rules Rules[S]) *Machine[S] {
	return &Machine[S]{rules: rules, current: initial}
}

// OnTransition 注册迁移成功后的回调，在持锁状态下调用，回调内不得再操作同一个 Machine.
func (m *Machine[S]) OnTransition(fn func(from, to S)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Current 获取状态机当前所处的状态.
func (m *Machine[S]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition 迁移到 to，规则不允许时状态不变并返回 ErrInvalidTransition.
func (m *Machine[S]) Transition(to S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if !m.rules.Allows(from, to) {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	}
	m.current = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
