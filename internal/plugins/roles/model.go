// Package roles implements the role application workflow: customers apply
// for shopkeeper, employee, or admin roles, the application is recorded as
// append-only history in role_data, and an admin approves or rejects it.
// The users table mirrors the latest decision in role/role_status.
//
// This is an optional plugin -- disable it and accounts simply stay
// customers.
package roles

import (
	"time"

	"github.com/bazarhub/bazarhub/internal/plugins/auth"
)

// Application is one role_data row: a user's request to hold a role,
// together with the admin's eventual decision. Resubmission appends a new
// row; rows are never updated except to record the review.
type Application struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Role         auth.Role       `json:"role"`
	Status       auth.RoleStatus `json:"status"`
	Department   string          `json:"department,omitempty"`
	EmployeeCode string          `json:"employeeCode,omitempty"`
	ShopName     string          `json:"shopName,omitempty"`
	ShopAddress  string          `json:"shopAddress,omitempty"`
	Description  string          `json:"description,omitempty"`
	ReviewedBy   string          `json:"reviewedBy,omitempty"`
	ReviewedAt   *time.Time      `json:"reviewedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`

	// ApplicantEmail is joined from the users table for the admin queue.
	ApplicantEmail string `json:"applicantEmail,omitempty"`
}

// SubmitRequest carries the role-specific fields of an application. Which
// fields are required depends on the role being applied for.
type SubmitRequest struct {
	Department   string `json:"department"`
	EmployeeCode string `json:"employeeCode"`
	ShopName     string `json:"shopName"`
	ShopAddress  string `json:"shopAddress"`
	Description  string `json:"description"`
}

// ReviewRequest is an admin's decision on a pending application.
type ReviewRequest struct {
	Approve bool `json:"approve"`
}
