// Package harness runs YAML pipeline scenarios against a fresh in-memory
// database and fake external systems.
//
// Each scenario seeds sources, projects, tasks, employee mappings and
// rules, then executes its steps through the same ingest, classify and
// submit services the CLI uses. The clock is fixed and booking ids are
// sequential, so a scenario always yields the same snapshot.
//
// # Scenario Format
//
//	name: upload-classify-submit
//	description: "What this scenario validates"
//	now: 2024-03-16T02:00:00Z
//	sources:
//	  - { name: uploads, kind: upload }
//	  - { name: tempo, kind: worklog_api, token: t0ken }
//	projects:
//	  - external_id: "100"
//	    name: Internal
//	    tasks:
//	      - { external_id: "9001", name: Support }
//	rules:
//	  - { name: support, field: description, operator: contains,
//	      value: support, priority: 10, project: "100", task: "9001" }
//	booking:
//	  reject: { "9002": '{"message":"Task is closed"}' }
//	steps:
//	  - action: import_file
//	    source: uploads
//	    file: hours.csv
//	    content: |
//	      Date,Hours,Email,Description
//	      2024-03-15,1.5,ana@example.com,Customer support
//	  - action: submit
//	expect:
//	  statuses: { submitted: 1 }
//	  bookings: 1
//
// Step actions: import_file, import_worklogs, classify, apply_rule, map,
// ignore, submit, submit_entry. A step that returns an error fails the
// scenario unless it sets expect_error.
//
// # Golden Files
//
// Snapshot renders a Result as indented JSON. RunWithGolden compares it
// against testdata/golden/<name>.golden; run the tests with -update to
// regenerate.
package harness
