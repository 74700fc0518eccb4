// Package mocks holds testify mocks for the movement boundary.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// -- Adapter Mock --

// MockAdapter mocks schemas.Adapter. CurrentPosition and CanAct accept either
// fixed return values or a function computing them, so tests can model a
// position that changes after each step.
type MockAdapter struct {
	mock.Mock
}

var _ schemas.Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) CurrentPosition(ctx context.Context) (schemas.Coordinate, error) {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func() (schemas.Coordinate, error)); ok {
		return fn()
	}
	return args.Get(0).(schemas.Coordinate), args.Error(1)
}

func (m *MockAdapter) CanAct(ctx context.Context) bool {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func() bool); ok {
		return fn()
	}
	return args.Bool(0)
}

func (m *MockAdapter) ExecuteStep(ctx context.Context, kind schemas.TransitionKind, from, to schemas.Coordinate) error {
	return m.Called(ctx, kind, from, to).Error(0)
}

// -- Journal Mock --

// MockJournal mocks the movement journal.
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) RecordMovement(ctx context.Context, run schemas.MovementRun) error {
	return m.Called(ctx, run).Error(0)
}

// -- Run Lister Mock --

// MockRunLister mocks the journal query behind the runs command.
type MockRunLister struct {
	mock.Mock
}

func (m *MockRunLister) RecentRuns(ctx context.Context, limit int) ([]schemas.MovementRun, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.MovementRun), args.Error(1)
}
