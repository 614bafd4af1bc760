// Package config loads the assignment service configuration.
//
// Files may be CUE, YAML or JSON. Each is checked against the embedded
// #Config schema (schema.cue), decoded over DefaultConfig, and then
// struct-validated. Several files are unified, so a value set in two files
// must agree:
//
//	cfg, err := config.Load("fops.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine, err := workflow.NewEngine(cfg.WorkflowConfig(), deps)
//
// A CUE file can use constraints and references of its own:
//
//	engine: {
//	    max_attempts:     5
//	    margin_threshold: 0.12
//	    stage_timeout:    "10s"
//	}
//	reservation: {
//	    mode:       "redis"
//	    redis_addr: "localhost:6379"
//	}
//
// Problems are reported as a *LoadError listing each ValidationError with
// file and line when CUE knows them.
package config
