package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/smehub/apiserver/internal/services"
	"github.com/smehub/apiserver/types"
)

const dateLayout = "2006-01-02"

// EmployeeHandler provides HR employee endpoints.
type EmployeeHandler struct {
	employeeService *services.EmployeeService
}

func NewEmployeeHandler(employeeService *services.EmployeeService) *EmployeeHandler {
	return &EmployeeHandler{employeeService: employeeService}
}

// EmployeeRouter registers employee routes, all behind guard.
func EmployeeRouter(r chi.Router, employeeService *services.EmployeeService, guard *Guard) {
	handler := NewEmployeeHandler(employeeService)

	r.Use(guard.RequireAuth)
	r.With(guard.RequirePermission("employee.view")).Get("/", handler.ListEmployees)
	r.With(guard.RequirePermission("employee.create")).Post("/", handler.CreateEmployee)
	r.Route("/{employeeID}", func(r chi.Router) {
		r.With(guard.RequirePermission("employee.view")).Get("/", handler.GetEmployee)
		r.With(guard.RequirePermission("employee.update")).Put("/", handler.UpdateEmployee)
		r.With(guard.RequirePermission("employee.update")).Patch("/", handler.UpdateEmployee)
		r.With(guard.RequirePermission("employee.delete")).Delete("/", handler.DeleteEmployee)
	})
}

func (h *EmployeeHandler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	filter := types.EmployeeFilter{
		Department: strings.TrimSpace(q.Get("department")),
		Query:      strings.TrimSpace(q.Get("q")),
		Offset:     offset,
		Limit:      limit,
	}
	if raw := strings.TrimSpace(q.Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		filter.Active = &active
	}

	employees, err := h.employeeService.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list employees")
		return
	}
	writeJSON(w, http.StatusOK, EmployeeListResponse{Data: employees, Page: page, Limit: limit})
}

func (h *EmployeeHandler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	actor, _ := currentUser(r.Context())

	var req EmployeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	upd, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e := types.Employee{Active: true}
	applyEmployeeUpdate(&e, upd)

	created, err := h.employeeService.Create(r.Context(), actor.ID, e)
	if err != nil {
		writeServiceError(w, err, "employee not found", "failed to create employee")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *EmployeeHandler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := parseEmployeeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := h.employeeService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "employee not found", "failed to load employee")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EmployeeHandler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	actor, _ := currentUser(r.Context())

	id, err := parseEmployeeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req EmployeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	upd, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := h.employeeService.Update(r.Context(), actor.ID, id, upd)
	if err != nil {
		writeServiceError(w, err, "employee not found", "failed to update employee")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EmployeeHandler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := parseEmployeeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.employeeService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "employee not found", "failed to delete employee")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Employee deleted"})
}

// EmployeeRequest is the body of create and update calls. Omitted fields
// are left unchanged on update.
type EmployeeRequest struct {
	EmpCode        *string  `json:"emp_code"`
	UserID         *string  `json:"user_id"`
	FirstName      *string  `json:"first_name"`
	LastName       *string  `json:"last_name"`
	Position       *string  `json:"position"`
	Department     *string  `json:"department"`
	StartDate      *string  `json:"start_date"`
	EmploymentType *string  `json:"employment_type"`
	SalaryBase     *float64 `json:"salary_base"`
	Active         *bool    `json:"active_status"`
	ContactPhone   *string  `json:"contact_phone"`
}

func (req EmployeeRequest) toUpdate() (services.EmployeeUpdate, error) {
	upd := services.EmployeeUpdate{
		EmpCode:        req.EmpCode,
		UserID:         req.UserID,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Position:       req.Position,
		Department:     req.Department,
		EmploymentType: req.EmploymentType,
		SalaryBase:     req.SalaryBase,
		Active:         req.Active,
		ContactPhone:   req.ContactPhone,
	}
	if req.StartDate != nil && strings.TrimSpace(*req.StartDate) != "" {
		start, err := time.Parse(dateLayout, strings.TrimSpace(*req.StartDate))
		if err != nil {
			return services.EmployeeUpdate{}, errors.New("start_date must be YYYY-MM-DD")
		}
		upd.StartDate = &start
	}
	return upd, nil
}

func applyEmployeeUpdate(e *types.Employee, upd services.EmployeeUpdate) {
	if upd.EmpCode != nil {
		e.EmpCode = *upd.EmpCode
	}
	if upd.UserID != nil && *upd.UserID != "" {
		e.UserID = upd.UserID
	}
	if upd.FirstName != nil {
		e.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		e.LastName = *upd.LastName
	}
	if upd.Position != nil {
		e.Position = *upd.Position
	}
	if upd.Department != nil {
		e.Department = *upd.Department
	}
	e.StartDate = upd.StartDate
	if upd.EmploymentType != nil {
		e.EmploymentType = *upd.EmploymentType
	}
	e.SalaryBase = upd.SalaryBase
	if upd.Active != nil {
		e.Active = *upd.Active
	}
	if upd.ContactPhone != nil {
		e.ContactPhone = *upd.ContactPhone
	}
}

type EmployeeListResponse struct {
	Data  []types.Employee `json:"data"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

func parseEmployeeID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "employeeID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid employee id")
	}
	return id, nil
}
