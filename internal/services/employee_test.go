package services

import (
	"context"
	"sync"
	"testing"

	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEmployees struct {
	mu     sync.Mutex
	rows   map[int64]types.Employee
	nextID int64
}

func newMemEmployees() *memEmployees {
	return &memEmployees{rows: make(map[int64]types.Employee)}
}

func (m *memEmployees) List(_ context.Context, filter types.EmployeeFilter) ([]types.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Employee, 0)
	for _, e := range m.rows {
		if filter.Department != "" && e.Department != filter.Department {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memEmployees) GetByID(_ context.Context, id int64) (types.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok {
		return types.Employee{}, store.ErrNotFound
	}
	return e, nil
}

func (m *memEmployees) Create(_ context.Context, e types.Employee) (types.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.EmpCode == e.EmpCode {
			return types.Employee{}, store.ErrConflict
		}
	}
	m.nextID++
	e.ID = m.nextID
	m.rows[e.ID] = e
	return e, nil
}

func (m *memEmployees) Update(_ context.Context, e types.Employee) (types.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[e.ID]; !ok {
		return types.Employee{}, store.ErrNotFound
	}
	m.rows[e.ID] = e
	return e, nil
}

func (m *memEmployees) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func TestEmployeeCreate(t *testing.T) {
	db := newMemDB()
	linked := db.addUser(types.User{Username: "jane", IsActive: true})
	svc := NewEmployeeService(newMemEmployees(), memUsers{db: db})
	ctx := context.Background()

	e, err := svc.Create(ctx, "hr-1", types.Employee{EmpCode: " E001 ", FirstName: "Jane", LastName: "Doe", UserID: &linked.ID, Active: true})
	require.NoError(t, err)
	assert.Equal(t, "E001", e.EmpCode)
	require.NotNil(t, e.CreatedBy)
	assert.Equal(t, "hr-1", *e.CreatedBy)

	_, err = svc.Create(ctx, "hr-1", types.Employee{EmpCode: "E001", FirstName: "A", LastName: "B"})
	assert.ErrorIs(t, err, store.ErrConflict)

	ghost := "ghost"
	_, err = svc.Create(ctx, "hr-1", types.Employee{EmpCode: "E002", FirstName: "A", LastName: "B", UserID: &ghost})
	assert.ErrorIs(t, err, ErrLinkedUserNotFound)

	_, err = svc.Create(ctx, "hr-1", types.Employee{EmpCode: "E003", FirstName: "A"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	negative := -1.0
	_, err = svc.Create(ctx, "hr-1", types.Employee{EmpCode: "E004", FirstName: "A", LastName: "B", SalaryBase: &negative})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEmployeeUpdatePartial(t *testing.T) {
	svc := NewEmployeeService(newMemEmployees(), memUsers{db: newMemDB()})
	ctx := context.Background()

	e, err := svc.Create(ctx, "hr-1", types.Employee{EmpCode: "E001", FirstName: "Jane", LastName: "Doe", Department: "Sales", Active: true})
	require.NoError(t, err)

	dept := "Finance"
	inactive := false
	updated, err := svc.Update(ctx, "hr-2", e.ID, EmployeeUpdate{Department: &dept, Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Finance", updated.Department)
	assert.False(t, updated.Active)
	assert.Equal(t, "Jane", updated.FirstName)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, "hr-2", *updated.UpdatedBy)

	empty := ""
	_, err = svc.Update(ctx, "hr-2", e.ID, EmployeeUpdate{FirstName: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Update(ctx, "hr-2", 999, EmployeeUpdate{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
