package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in compliance policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		licenseValidityPolicy(),
		hoursOfServicePolicy(),
		hazmatEndorsementPolicy(),
		tenantIsolationPolicy(),
	}
}

// licenseValidityPolicy requires a license on file that outlives the run.
func licenseValidityPolicy() Policy {
	return Policy{
		Name:        "license-validity",
		Description: "Candidates must hold a license that has not expired",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"license", "driver"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fops.compliance.license

import rego.v1

thirty_days_ns := ((30 * 24) * 3600) * 1000000000

deny contains violation if {
	not input.candidate.attributes.license_expires_at
	violation := {
		"message": sprintf("candidate %s has no license on file", [input.candidate.id]),
		"severity": "error",
		"remediation": "record the license expiry date",
	}
}

deny contains violation if {
	expires := time.parse_rfc3339_ns(input.candidate.attributes.license_expires_at)
	now := time.parse_rfc3339_ns(input.context.now)
	expires <= now
	violation := {
		"message": sprintf("license for candidate %s expired on %s", [input.candidate.id, input.candidate.attributes.license_expires_at]),
		"severity": "error",
		"remediation": "renew the license before assignment",
	}
}

deny contains violation if {
	expires := time.parse_rfc3339_ns(input.candidate.attributes.license_expires_at)
	now := time.parse_rfc3339_ns(input.context.now)
	expires > now
	expires - now < thirty_days_ns
	violation := {
		"message": sprintf("license for candidate %s expires within 30 days", [input.candidate.id]),
		"severity": "warning",
	}
}
`,
	}
}

// hoursOfServicePolicy requires enough remaining drive time for the load.
func hoursOfServicePolicy() Policy {
	return Policy{
		Name:        "hours-of-service",
		Description: "Candidates must have enough hours of service remaining to drive the load",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"hos", "driver", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fops.compliance.hos

import rego.v1

headroom_hours := 2

required := object.get(input.target.attributes, "estimated_drive_hours", 0)

deny contains violation if {
	remaining := input.candidate.attributes.hos_remaining_hours
	remaining < required
	violation := {
		"message": sprintf("candidate %s has %v hours of service remaining, load needs %v", [input.candidate.id, remaining, required]),
		"severity": "error",
		"remediation": "propose a candidate with a fresh duty cycle",
	}
}

deny contains violation if {
	remaining := input.candidate.attributes.hos_remaining_hours
	remaining >= required
	remaining - required < headroom_hours
	violation := {
		"message": sprintf("candidate %s would finish with less than %v hours of service to spare", [input.candidate.id, headroom_hours]),
		"severity": "warning",
	}
}
`,
	}
}

// hazmatEndorsementPolicy requires a hazmat endorsement for hazmat loads.
func hazmatEndorsementPolicy() Policy {
	return Policy{
		Name:        "hazmat-endorsement",
		Description: "Hazardous material loads require an endorsed candidate",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"hazmat", "driver", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fops.compliance.hazmat

import rego.v1

hazmat_load if input.target.attributes.hazmat == true

endorsed if input.candidate.attributes.hazmat_endorsed == true

deny contains violation if {
	hazmat_load
	not endorsed
	violation := {
		"message": sprintf("load %s is hazmat and candidate %s has no hazmat endorsement", [input.target.id, input.candidate.id]),
		"severity": "error",
	}
}
`,
	}
}

// tenantIsolationPolicy rejects candidates and targets owned by another tenant.
func tenantIsolationPolicy() Policy {
	return Policy{
		Name:        "tenant-isolation",
		Description: "Candidates and targets must belong to the tenant running the assignment",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"tenancy", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fops.compliance.tenant

import rego.v1

deny contains violation if {
	owner := input.candidate.attributes.tenant_id
	owner != input.context.tenant_id
	violation := {
		"message": sprintf("candidate %s belongs to another tenant", [input.candidate.id]),
		"severity": "critical",
	}
}

deny contains violation if {
	input.target.tenant_id != ""
	input.target.tenant_id != input.context.tenant_id
	violation := {
		"message": sprintf("target %s belongs to another tenant", [input.target.id]),
		"severity": "critical",
	}
}
`,
	}
}
