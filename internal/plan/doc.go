// Package plan defines the work plan model and its structural validation.
//
// A [WorkPlan] is produced by an external planning step and loaded once per
// session from a YAML or JSON document:
//
//	project: billing
//	branch: feature/invoices
//	items:
//	  - id: schema
//	    title: Add invoice tables
//	    description: Create the invoices and invoice_lines tables.
//	    acceptance_criteria: ["migration applies cleanly"]
//	    priority: 8
//	    worker: backend
//	  - id: api
//	    title: Invoice endpoints
//	    description: CRUD endpoints for invoices.
//	    acceptance_criteria: ["handlers covered by tests"]
//	    priority: 5
//	    worker: backend
//	    depends_on: [schema]
//
// [Validate] reports every structural problem at once. [Load] and [Check]
// turn a failing result into a *[ValidationError] that wraps [ErrInvalidPlan].
package plan
