package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// Issue severities
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is a single catalog integrity finding
type Issue struct {
	Severity string `json:"severity"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Subject, i.Message)
}

// ValidationReport is the result of Validate
type ValidationReport struct {
	Issues []Issue `json:"issues"`
}

// Valid is true when no error-level issue was found
func (r *ValidationReport) Valid() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns only the error-level issues
func (r *ValidationReport) Errors() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

// Err folds error-level issues into a single error, or nil
func (r *ValidationReport) Err() error {
	var errs []error
	for _, i := range r.Errors() {
		errs = append(errs, errors.New(i.String()))
	}
	return errors.Join(errs...)
}

func (r *ValidationReport) add(severity, subject, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Severity: severity, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the catalog without touching storage.
//
// Errors: empty or duplicate names, unknown role types, more than one default
// business role, an ambiguous top-ranked system role.
// Warnings: names that do not parse as {action}_{resource} and carry no
// explicit resource/action, and roles granting undeclared permissions (these
// are skipped at seeding time).
func (c *Catalog) Validate() *ValidationReport {
	report := &ValidationReport{}

	seen := make(map[string]bool)
	for _, p := range c.Permissions {
		if p.Name == "" {
			report.add(SeverityError, "permission", "empty permission name")
			continue
		}
		if seen[p.Name] {
			report.add(SeverityError, p.Name, "duplicate permission name")
		}
		seen[p.Name] = true
		if _, _, err := p.ResourceAction(); err != nil {
			report.add(SeverityWarning, p.Name, "cannot derive resource/action: %v", err)
		}
	}

	roleSeen := make(map[string]bool)
	var defaults []string
	for _, r := range c.Roles {
		if r.Name == "" {
			report.add(SeverityError, "role", "empty role name")
			continue
		}
		if roleSeen[r.Name] {
			report.add(SeverityError, r.Name, "duplicate role name")
		}
		roleSeen[r.Name] = true

		if r.Type != TypeBusiness && r.Type != TypeAdmin {
			report.add(SeverityError, r.Name, "unknown role type %q", r.Type)
		}
		if r.IsDefault {
			if r.Type != TypeBusiness {
				report.add(SeverityError, r.Name, "only business roles can be the default role")
			}
			defaults = append(defaults, r.Name)
		}

		granted := make(map[string]bool)
		for _, name := range r.Permissions {
			if granted[name] {
				report.add(SeverityWarning, r.Name, "permission %s listed twice", name)
			}
			granted[name] = true
			if !c.HasPermission(name) {
				report.add(SeverityWarning, r.Name, "grants undeclared permission %s", name)
			}
		}
	}

	if len(defaults) > 1 {
		sort.Strings(defaults)
		report.add(SeverityError, "roles", "more than one default business role: %v", defaults)
	}

	if top := c.TopRoles(); len(top) > 1 {
		names := make([]string, 0, len(top))
		for _, r := range top {
			names = append(names, r.Name)
		}
		sort.Strings(names)
		report.add(SeverityError, "roles", "top-ranked system role is ambiguous: %v share priority %d", names, top[0].Priority)
	}

	return report
}
