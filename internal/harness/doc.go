// Package harness runs emulation scenarios as executable tests.
//
// A scenario describes a small synthetic trace inline, runs it through the
// emulator with the built-in models (plus any extra model tables) and checks
// the outcome and the emitted records.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	linter: false
//	models:
//	  - extra.cue
//	looms:
//	  - host: node1
//	    cpus: [0, 1]
//	    procs:
//	      - pid: 100
//	        app_id: 1
//	        threads:
//	          - tid: 101
//	            events:
//	              - "100 OHx 0"
//	              - "130 KO["
//	              - { clock: 140, mcv: VYc, args: [1], label: work }
//	              - "200 OHe"
//	expect:
//	  code: ""
//	  events: 4
//	assertions:
//	  - type: record
//	    kind: thread
//	    record: "1:30:45:1"
//
// Each event is written with the smallest encoding that fits its payload.
//
// # Assertion Types
//
//   - record: the record row:time:type:value was emitted
//   - no_record: the record was never emitted
//   - record_count: exactly count records of record_type were emitted
//
// # Golden Snapshots
//
// RunWithGolden renders the result as JSON and compares it with
// testdata/golden/<name>.golden. The golden field restricts the snapshot to
// the listed record types.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/kernel.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
