package types

import "time"

// Employee is an HR record. It may optionally be linked to a user account.
type Employee struct {
	ID             int64      `json:"employee_id" db:"employee_id"`
	EmpCode        string     `json:"emp_code" db:"emp_code"`
	UserID         *string    `json:"user_id,omitempty" db:"user_id"`
	FirstName      string     `json:"first_name" db:"first_name"`
	LastName       string     `json:"last_name" db:"last_name"`
	Position       string     `json:"position,omitempty" db:"position"`
	Department     string     `json:"department,omitempty" db:"department"`
	StartDate      *time.Time `json:"start_date,omitempty" db:"start_date"`
	EmploymentType string     `json:"employment_type,omitempty" db:"employment_type"`
	SalaryBase     *float64   `json:"salary_base,omitempty" db:"salary_base"`
	Active         bool       `json:"active_status" db:"active_status"`
	ContactPhone   string     `json:"contact_phone,omitempty" db:"contact_phone"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	CreatedBy      *string    `json:"created_by,omitempty" db:"created_by"`
	UpdatedBy      *string    `json:"updated_by,omitempty" db:"updated_by"`
}

// EmployeeFilter narrows an employee listing.
type EmployeeFilter struct {
	Department string
	Active     *bool
	Query      string
	Offset     int
	Limit      int
}
