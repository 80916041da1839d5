// Package acl compiles role-scoped permission templates into the concrete,
// per-user topic grant list embedded in broker credentials.
//
// # Overview
//
// Roles declare rules: a permission (allow/deny), a broker action
// (publish/subscribe/all), a topic template and a sort order. Users carry an
// ordered role list and a set of resource bindings (the farms/turbines/tags
// they own). The Compiler expands every rule against every binding and emits
// an ordered, deduplicated list of grants that the broker evaluates
// first-match-wins.
//
// # Templates
//
// Topic templates use two independent marker syntaxes:
//
//	{farm_id}, {turbine_id}, {tag}  - placeholders filled from a resource binding
//	${username}                     - literal marker filled with the authenticated username
//
// A rule whose template has no placeholders compiles once, independent of
// bindings:
//
//	/farm/+/aggregated/telemetry  ->  /farm/+/aggregated/telemetry
//
// A rule with placeholders compiles once per binding that can satisfy it:
//
//	/farm/{farm_id}/turbine/{turbine_id}/clean_telemetry
//	  binding {kind:"turbine", farm_id:2, turbine_id:5}
//	  ->  /farm/2/turbine/5/clean_telemetry
//
// A binding for an entire farm satisfies a missing {turbine_id} with the
// broker's single-level wildcard:
//
//	  binding {kind:"farm", farm_id:1}
//	  ->  /farm/1/turbine/+/clean_telemetry
//
// Any other unsatisfiable rule/binding pair is skipped: logged and counted,
// never an error, never partially substituted.
//
// # Guarantees
//
// Compiled output is deterministic for unchanged store state. It contains
// exactly one {deny, all, "#"} entry - appended if no role rule produced one -
// so a list is never implicitly allow-all. Duplicate (permission, action,
// topic) triples collapse to their first occurrence, keeping its position.
//
// # Storage
//
// CredentialStore is the durable contract. Store backs it with PostgreSQL
// (users and roles tables, JSONB rule/binding columns, unique usernames);
// MemoryStore backs tests and database-less development runs.
package acl
