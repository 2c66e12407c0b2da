// ============================================================================
// Bin-Workflow CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   bin-workflow                   # Root command
//   ├── run                        # Start the workflow orchestrator
//   │   └── --config, -c          # Specify config file
//   ├── status                     # Query the running orchestrator over MQTT
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml)
//   Configuration items include:
//   - mqtt: broker address and client id
//   - workflow: topic root, auto-start threshold, removal fraction
//   - devices: logical role → device id mapping
//   - lookup: SQLite database path and table/key columns
//   - timeouts / dwell_ms: per-state limits
//   - metrics: Prometheus monitoring configuration
//
// run Command:
//   Starts the complete orchestrator, including:
//   1. Load config file
//   2. Open the lookup database and connect to the MQTT broker
//   3. Start Metrics HTTP server (if enabled)
//   4. Listen for system signals (SIGINT, SIGTERM)
//   5. Gracefully shutdown system
//
//   Examples:
//     ./bin-workflow run
//     ./bin-workflow run -c custom-config.yaml
//
// status Command:
//   Publishes a get_status control command and prints the next
//   workflow status event (timeout-bounded).
//
//   Examples:
//     ./bin-workflow status
//
// Signal Handling:
//   run command captures following signals and gracefully shuts down:
//   - SIGINT (Ctrl+C): User interrupt
//   - SIGTERM: System terminate request
//
// Metrics Service:
//   If enabled in config, starts HTTP service in separate goroutine:
//   - Default port: 9090
//   - Path: /metrics
//   - Format: Prometheus format
//
// ============================================================================

package cli

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/bin-workflow/internal/bus"
	"github.com/ChuLiYu/bin-workflow/internal/lookup"
	"github.com/ChuLiYu/bin-workflow/internal/metrics"
	"github.com/ChuLiYu/bin-workflow/internal/workflow"
	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`

	Workflow struct {
		TopicRoot            string  `yaml:"topic_root"`
		AutoStartThresholdKg float64 `yaml:"auto_start_threshold_kg"`
		RemovalFraction      float64 `yaml:"removal_fraction"`
		HistoryLimit         int     `yaml:"history_limit"`
	} `yaml:"workflow"`

	// Devices maps logical role names (qr_scanner, rfid_reader, scale,
	// printer) to concrete device ids.
	Devices map[string]string `yaml:"devices"`

	Lookup struct {
		SQLitePath    string `yaml:"sqlite_path"`
		PartTable     string `yaml:"part_table"`
		PartKeyColumn string `yaml:"part_key_column"`
		BinTable      string `yaml:"bin_table"`
		BinKeyColumn  string `yaml:"bin_key_column"`
	} `yaml:"lookup"`

	Timeouts struct {
		JobAllocationSeconds int `yaml:"job_allocation_seconds"`
		WaitingRfidSeconds   int `yaml:"waiting_rfid_seconds"`
		WaitingWeightSeconds int `yaml:"waiting_weight_seconds"`
	} `yaml:"timeouts"`

	// DwellMs maps state names to minimum dwell times in milliseconds.
	DwellMs map[string]int `yaml:"dwell_ms"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bin-workflow",
		Short: "Bin-Workflow: an MQTT-driven bin handling orchestrator",
		Long: `Bin-Workflow coordinates a physical bin handling line:
- QR part allocation, RFID bin identification, weight verification
- Pure pub/sub coordination over MQTT, no direct device I/O
- Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the workflow orchestrator",
		Long:  "Connect to the MQTT broker and run the bin handling state machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator()
		},
	}
}

func runOrchestrator() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("Starting Bin-Workflow with config: %s\n", configFile)

	store, err := lookup.OpenSQLite(cfg.Lookup.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open lookup database: %w", err)
	}
	defer store.Close()

	client := bus.NewMQTTClient(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer client.Close()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			log.Printf("Starting metrics server on :%d\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	orch := workflow.New(client, store, buildWorkflowConfig(cfg), collector)
	if err := orch.Start(); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	log.Println("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("\nReceived shutdown signal, stopping gracefully...")

	orch.Stop()

	log.Println("System stopped. Goodbye!")
	return nil
}

func buildStatusCommand() *cobra.Command {
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workflow status",
		Long:  "Publish a get_status command and print the next status event from the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(timeoutSeconds)
		},
	}
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 5, "seconds to wait for a status reply")
	return cmd
}

func showStatus(timeoutSeconds int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := bus.NewMQTTClient(cfg.MQTT.Broker, cfg.MQTT.ClientID+"-status")
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer client.Close()

	root := cfg.Workflow.TopicRoot
	if root == "" {
		root = "factory"
	}

	replies := make(chan []byte, 1)
	if err := client.Subscribe(root+"/workflow/status", func(topic string, payload []byte) {
		select {
		case replies <- payload:
		default:
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := client.Publish(root+"/workflow/cmd/get_status", []byte("{}")); err != nil {
		return fmt.Errorf("failed to publish get_status: %w", err)
	}

	select {
	case payload := <-replies:
		fmt.Println(string(payload))
		return nil
	case <-time.After(time.Duration(timeoutSeconds) * time.Second):
		return fmt.Errorf("no status reply within %ds (is the orchestrator running?)", timeoutSeconds)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}

// buildWorkflowConfig maps the YAML configuration onto the orchestrator
// config, keeping defaults for anything not set.
func buildWorkflowConfig(cfg *Config) workflow.Config {
	wc := workflow.DefaultConfig()

	if cfg.Workflow.TopicRoot != "" {
		wc.TopicRoot = cfg.Workflow.TopicRoot
	}
	if cfg.Workflow.AutoStartThresholdKg > 0 {
		wc.AutoStartThreshold = cfg.Workflow.AutoStartThresholdKg
	}
	if cfg.Workflow.RemovalFraction > 0 {
		wc.RemovalFraction = cfg.Workflow.RemovalFraction
	}
	if cfg.Workflow.HistoryLimit > 0 {
		wc.HistoryLimit = cfg.Workflow.HistoryLimit
	}

	if len(cfg.Devices) > 0 {
		wc.Devices = make(map[types.DeviceRole]string, len(cfg.Devices))
		for role, id := range cfg.Devices {
			wc.Devices[types.DeviceRole(role)] = id
		}
	}

	if cfg.Lookup.PartTable != "" {
		wc.PartTable = cfg.Lookup.PartTable
	}
	if cfg.Lookup.PartKeyColumn != "" {
		wc.PartKeyColumn = cfg.Lookup.PartKeyColumn
	}
	if cfg.Lookup.BinTable != "" {
		wc.BinTable = cfg.Lookup.BinTable
	}
	if cfg.Lookup.BinKeyColumn != "" {
		wc.BinKeyColumn = cfg.Lookup.BinKeyColumn
	}

	if cfg.Timeouts.JobAllocationSeconds > 0 {
		wc.Timeouts[types.StateJobAllocation] = time.Duration(cfg.Timeouts.JobAllocationSeconds) * time.Second
	}
	if cfg.Timeouts.WaitingRfidSeconds > 0 {
		wc.Timeouts[types.StateWaitingRfid] = time.Duration(cfg.Timeouts.WaitingRfidSeconds) * time.Second
	}
	if cfg.Timeouts.WaitingWeightSeconds > 0 {
		wc.Timeouts[types.StateWaitingWeight] = time.Duration(cfg.Timeouts.WaitingWeightSeconds) * time.Second
	}

	for state, ms := range cfg.DwellMs {
		wc.Dwell[types.WorkflowState(state)] = time.Duration(ms) * time.Millisecond
	}

	return wc
}
