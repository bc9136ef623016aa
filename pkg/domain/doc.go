// Package domain defines the core types of the decision pipeline: requests,
// identities, policy rules, risk assessments, decisions, and audit records.
//
// The package depends only on the standard library. Behaviour lives in the
// packages built on top of it (sanitize, risk, policy, pipeline, audit);
// dependencies always point from those packages into domain, never back.
package domain
