// Package policy evaluates freight compliance rules written in Rego with the
// Open Policy Agent.
//
// # Architecture
//
//  1. Engine - compiles policies and evaluates their deny sets
//  2. Loader - reads .rego and .json files and watches them for changes
//  3. Built-in policies - license validity, hours of service, hazmat
//     endorsement and tenant isolation
//
// The Engine implements workflow.ComplianceValidator. Each policy's
// data.<package>.deny set is evaluated against an input document of the form
//
//	{
//	  "candidate": {"id": "...", "attributes": {...}},
//	  "target":    {"id": "...", "tenant_id": "...", "value": 0, "attributes": {...}},
//	  "context":   {"tenant_id": "...", "now": "RFC 3339", "operation": "assign"}
//	}
//
// Deny entries may be strings or objects with message, severity and
// remediation keys. Error and critical entries reject the candidate; warnings
// are appended to the approval reason. A policy that fails to evaluate makes
// CheckCompliance return an error, never a rejection.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/fops/policies"}); err != nil {
//	    return err
//	}
//
//	loader := policy.NewLoader(logger)
//	_ = loader.Watch(ctx, []string{"/etc/fops/policies"}, eng.ReplacePolicies)
//
// # Writing policies
//
//	# Loads above 50k need manual dispatch
//	# severity: error
//	package fops.custom.value
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.target.value > 50000
//	    msg := "loads above 50000 need manual dispatch"
//	}
package policy
