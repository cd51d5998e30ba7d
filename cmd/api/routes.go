package main

import (
	"github.com/gin-gonic/gin"

	"nestora-backend/internal/alerts"
	"nestora-backend/internal/audit"
	"nestora-backend/internal/auth"
	"nestora-backend/internal/credits"
	"nestora-backend/internal/gdpr"
	"nestora-backend/internal/impersonation"
	"nestora-backend/internal/organizations"
	"nestora-backend/internal/settings"
	"nestora-backend/internal/users"
)

// Access tiers. Every gated route declares one; the table is the single place
// where the authorization surface can be reviewed.
const (
	tierStaff      = "staff"
	tierSuperAdmin = "super_admin"
)

type route struct {
	method  string
	path    string
	tier    string
	handler gin.HandlerFunc
}

type handlers struct {
	audit         *audit.Handler
	alerts        *alerts.Handler
	credits       *credits.Handler
	gdpr          *gdpr.Handler
	impersonation *impersonation.Handler
	organizations *organizations.Handler
	settings      *settings.Handler
	users         *users.Handler
}

// adminRoutes returns the full gated route table. Reads are staff tier;
// every mutation and every financial read-through is super admin.
func adminRoutes(h handlers) []route {
	return []route{
		// Organizations
		{"GET", "/organizations", tierStaff, h.organizations.HandleList},
		{"GET", "/organizations/:id", tierStaff, h.organizations.HandleGet},
		{"GET", "/organizations/:id/listings", tierStaff, h.organizations.HandleListListings},
		{"PATCH", "/organizations/:id/plan", tierSuperAdmin, h.organizations.HandleChangePlan},
		{"POST", "/organizations/delete", tierSuperAdmin, h.organizations.HandleBulkDelete},

		// Credit ledger
		{"GET", "/organizations/:id/credits", tierStaff, h.credits.HandleGetOrganizationCredits},
		{"POST", "/credits/grant", tierSuperAdmin, h.credits.HandleGrant},

		// Impersonation
		{"POST", "/impersonation/start", tierSuperAdmin, h.impersonation.HandleStart},
		{"POST", "/impersonation/end", tierSuperAdmin, h.impersonation.HandleEnd},

		// GDPR workflow
		{"GET", "/gdpr/requests", tierSuperAdmin, h.gdpr.HandleList},
		{"POST", "/gdpr/requests", tierSuperAdmin, h.gdpr.HandleCreate},
		{"PATCH", "/gdpr/requests/:id", tierSuperAdmin, h.gdpr.HandleProcess},
		{"POST", "/gdpr/requests/:id/export", tierSuperAdmin, h.gdpr.HandleExport},

		// Alert rules
		{"GET", "/alerts", tierStaff, h.alerts.HandleList},
		{"POST", "/alerts", tierSuperAdmin, h.alerts.HandleCreate},
		{"PATCH", "/alerts/:id", tierSuperAdmin, h.alerts.HandleUpdate},
		{"DELETE", "/alerts/:id", tierSuperAdmin, h.alerts.HandleDelete},
		{"GET", "/alerts/:id/history", tierStaff, h.alerts.HandleHistory},
		{"POST", "/alerts/:id/test", tierSuperAdmin, h.alerts.HandleTestFire},

		// Audit trail
		{"GET", "/audit-log", tierStaff, h.audit.HandleList},

		// User admin
		{"GET", "/users", tierStaff, h.users.HandleList},
		{"POST", "/users/bulk-action", tierSuperAdmin, h.users.HandleBulkAction},
		{"POST", "/users/delete", tierSuperAdmin, h.users.HandleBulkDelete},
		{"POST", "/users/change-role", tierSuperAdmin, h.users.HandleChangeRole},

		// Platform settings
		{"GET", "/discount-codes", tierStaff, h.settings.HandleListDiscountCodes},
		{"POST", "/discount-codes", tierSuperAdmin, h.settings.HandleCreateDiscountCode},
		{"PATCH", "/discount-codes/:id", tierSuperAdmin, h.settings.HandleUpdateDiscountCode},
		{"DELETE", "/discount-codes/:id", tierSuperAdmin, h.settings.HandleDeleteDiscountCode},

		{"GET", "/feature-flags", tierStaff, h.settings.HandleListFeatureFlags},
		{"POST", "/feature-flags", tierSuperAdmin, h.settings.HandleCreateFeatureFlag},
		{"PATCH", "/feature-flags/:id", tierSuperAdmin, h.settings.HandleUpdateFeatureFlag},
		{"DELETE", "/feature-flags/:id", tierSuperAdmin, h.settings.HandleDeleteFeatureFlag},

		{"GET", "/usage-rates", tierStaff, h.settings.HandleListUsageRates},
		{"POST", "/usage-rates", tierSuperAdmin, h.settings.HandleCreateUsageRate},
		{"PATCH", "/usage-rates/:id", tierSuperAdmin, h.settings.HandleUpdateUsageRate},
		{"DELETE", "/usage-rates/:id", tierSuperAdmin, h.settings.HandleDeleteUsageRate},

		{"GET", "/ai-instructions", tierStaff, h.settings.HandleListAIInstructionSets},
		{"POST", "/ai-instructions", tierSuperAdmin, h.settings.HandleCreateAIInstructionSet},
		{"PATCH", "/ai-instructions/:id", tierSuperAdmin, h.settings.HandleUpdateAIInstructionSet},
		{"DELETE", "/ai-instructions/:id", tierSuperAdmin, h.settings.HandleDeleteAIInstructionSet},
	}
}

// registerRoutes mounts the table onto the authenticated group, mapping each
// declared tier to its gate.
func registerRoutes(group *gin.RouterGroup, table []route) {
	for _, r := range table {
		var gate gin.HandlerFunc
		switch r.tier {
		case tierSuperAdmin:
			gate = auth.RequireSuperAdmin()
		default:
			gate = auth.RequireStaff()
		}
		group.Handle(r.method, r.path, gate, r.handler)
	}
}
