package main

import (
	"flag"
	"fmt"
	"os"
)

const sampleConfig = `app:
  name: ionbridge-sample
  version: 0.1.0
  environment: development

engine:
  startup_delay: 200ms
  monitoring_interval: 5s
  drain_timeout: 30s
  shutdown_timeout: 30s
  execution_mode: async

log:
  level: info
  format: json
  output: stdout

metrics:
  enabled: true
  port: 9090
  path: /metrics

wal:
  enabled: true
  directory: ./data/wal
  durability: fsync

store:
  driver: memory

items:
  - name: adt-inbound
    class_name: engine.hosts.service
    pool_size: 2
    enabled: true
    adapter_settings:
      type: mllp
      host: 0.0.0.0
      port: 2575
    host_settings:
      target_config_names: ["adt-router"]
      queue_type: priority
      queue_size: 1000
      overflow_strategy: block
      restart_policy: on_failure
      max_restarts: 5
      restart_delay: 2s
      ack_mode: original

  - name: adt-router
    class_name: engine.hosts.process
    pool_size: 4
    enabled: true
    host_settings:
      target_config_names: ["adt-outbound"]
      queue_type: fifo
      queue_size: 1000
      restart_policy: on_failure
      max_restarts: 5
      messaging_pattern: async
      validation: warn

  - name: patient-merge
    class_name: engine.hosts.fhir
    pool_size: 2
    enabled: true
    host_settings:
      target_config_names: ["adt-outbound"]
      queue_type: fifo
      queue_size: 500
      restart_policy: on_failure
      messaging_pattern: async
      validation: error

  - name: purge-old-acks
    class_name: engine.hosts.operation
    pool_size: 1
    enabled: true
    host_settings:
      restart_policy: never
      timeout: 30s

  - name: adt-outbound
    class_name: engine.hosts.operation
    pool_size: 2
    enabled: true
    adapter_settings:
      type: mllp
      host: downstream.example.org
      port: 2576
    host_settings:
      queue_type: fifo
      queue_size: 1000
      restart_policy: on_failure
      max_restarts: 5
`

func initCommand(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	output := fs.String("output", "", "file to write the sample configuration to (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return configError(err)
	}

	if *output == "" {
		_, err := fmt.Fprint(os.Stdout, sampleConfig)
		return err
	}
	return os.WriteFile(*output, []byte(sampleConfig), 0o644)
}
