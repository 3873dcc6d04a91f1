package config_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/plexload/pkg/config"
)

// ExampleNewConfig shows the defaults a run starts from.
func ExampleNewConfig() {
	cfg := config.NewConfig()

	fmt.Printf("Batch Size: %d\n", cfg.Performance.BatchSize)
	fmt.Printf("Queue Depth: %d\n", cfg.Performance.QueueDepth)
	fmt.Printf("Read Timeout: %s\n", cfg.Timeouts.ReadTimeout)
	fmt.Printf("Retry Attempts: %d\n", cfg.Reliability.RetryAttempts)

	// Output:
	// Batch Size: 50000
	// Queue Depth: 4
	// Read Timeout: 30s
	// Retry Attempts: 3
}

// ExampleConfig_Validate shows how to validate a configuration
// before using it.
func ExampleConfig_Validate() {
	cfg := config.NewConfig()
	cfg.Input.Path = "Model Base Solution.zip"
	cfg.Target.Location = "base.duckdb"
	cfg.Performance.BatchSize = 10000

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("Configuration is valid!")

	// Output:
	// Configuration is valid!
}

// ExampleLoad demonstrates loading configuration from a YAML file
// with environment variable substitution.
func ExampleLoad() {
	dir, err := os.MkdirTemp("", "plexload-config")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	os.Setenv("SOLUTION_DIR", "/data/solutions")
	defer os.Unsetenv("SOLUTION_DIR")

	path := filepath.Join(dir, "plexload.yaml")
	yamlDoc := `
input:
  path: ${SOLUTION_DIR}/Model Base Solution.zip
target:
  location: base.duckdb
performance:
  batch_size: 2000
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Input.Path)
	fmt.Println(cfg.Performance.BatchSize)
	fmt.Println(cfg.Performance.QueueDepth)

	// Output:
	// /data/solutions/Model Base Solution.zip
	// 2000
	// 4
}
