package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/deepnoodle-ai/conductor"
	"github.com/deepnoodle-ai/conductor/activities"
	"github.com/fatih/color"
)

// CLI configuration
type Config struct {
	DefinitionFile string
	Variables      map[string]interface{}
	CorrelationID  string
	LogsDir        string
	Timeout        time.Duration
	Wait           bool
	Verbose        bool
	JSON           bool
}

func main() {
	config := parseFlags()

	if config.DefinitionFile == "" {
		color.Red("Error: workflow definition file is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(config.DefinitionFile); os.IsNotExist(err) {
		color.Red("Error: definition file '%s' not found", config.DefinitionFile)
		os.Exit(1)
	}

	logger := setupLogger(config)

	color.Blue("Loading definition from: %s", config.DefinitionFile)
	def, err := conductor.LoadFile(config.DefinitionFile)
	if err != nil {
		log.Fatalf("Failed to load definition: %v", err)
	}
	color.Cyan("Workflow: %s", def.Name())
	if def.Description() != "" {
		color.White("Description: %s", def.Description())
	}

	registry, err := conductor.NewRegistry(conductor.CoreActivities()...)
	if err != nil {
		log.Fatalf("Failed to create registry: %v", err)
	}
	for _, activity := range activities.Standard() {
		if err := registry.Register(activity); err != nil {
			log.Fatalf("Failed to register activity: %v", err)
		}
	}

	var recorder conductor.ActivityRecorder
	if config.LogsDir != "" {
		recorder = conductor.NewFileActivityRecorder(config.LogsDir)
		color.Blue("Activity records: %s", config.LogsDir)
	} else {
		recorder = conductor.NewNullActivityRecorder()
	}

	settings := conductor.DefaultSettings()
	store := conductor.NewMemoryStore()
	locks := conductor.NewMemoryLockProvider(settings.LockTTL)

	engine, err := conductor.NewEngine(conductor.EngineOptions{
		Store:        store,
		LockProvider: locks,
		Registry:     registry,
		Logger:       logger,
		Callbacks:    conductor.NewConsoleCallbacks(),
		Recorder:     recorder,
		Settings:     settings,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	if err := engine.RegisterDefinition(def); err != nil {
		log.Fatalf("Failed to register definition: %v", err)
	}

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	startTime := time.Now()
	instance, err := engine.StartInstance(ctx, conductor.StartOptions{
		DefinitionID:  def.ID(),
		CorrelationID: config.CorrelationID,
		Variables:     config.Variables,
	})
	if err != nil {
		log.Fatalf("Failed to start instance: %v", err)
	}

	if config.Wait {
		instance, err = waitForInstance(ctx, engine, store, settings, instance.ID)
		if err != nil {
			log.Fatalf("Failed waiting for instance: %v", err)
		}
	}
	showResults(ctx, engine, instance, time.Since(startTime))
}

// waitForInstance drives the timer scheduler until the instance reaches a
// terminal status or suspends on a non-timer bookmark.
func waitForInstance(ctx context.Context, engine *conductor.Engine, store conductor.Store, settings *conductor.Settings, instanceID string) (*conductor.Instance, error) {
	scheduler, err := conductor.NewTimerScheduler(conductor.TimerSchedulerOptions{
		Engine:   engine,
		Store:    store,
		Settings: settings,
	})
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(settings.SchedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if err := scheduler.Tick(ctx); err != nil {
			return nil, err
		}
		instance, err := engine.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if instance.Status.Terminal() {
			return instance, nil
		}
		// Keep waiting only while a timer can still make progress.
		bookmarks, err := engine.GetBookmarks(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		timerPending := false
		for _, bookmark := range bookmarks {
			if bookmark.ActivityType == "delay" || bookmark.ActivityType == "cron" {
				timerPending = true
				break
			}
		}
		if !timerPending {
			return instance, nil
		}
	}
}

func showResults(ctx context.Context, engine *conductor.Engine, instance *conductor.Instance, duration time.Duration) {
	fmt.Println()
	color.White("Run finished in %v", duration)
	color.White("Instance: %s", instance.ID)
	color.White("Status: %s", instance.Status)

	if instance.Status == conductor.InstanceStatusSuspended {
		bookmarks, err := engine.GetBookmarks(ctx, instance.ID)
		if err == nil && len(bookmarks) > 0 {
			color.Yellow("Waiting on:")
			for _, bookmark := range bookmarks {
				color.Yellow("  %s %q (hash %s)", bookmark.ActivityType, bookmark.Name, bookmark.Hash[:12])
			}
		}
	}
	if len(instance.Incidents) > 0 {
		color.Red("Incidents:")
		for _, incident := range instance.Incidents {
			color.Red("  [%s] %s: %s", incident.FaultType, incident.NodeKey, incident.Message)
		}
	}
	if len(instance.Variables) > 0 {
		color.Magenta("Variables:")
		data, err := json.MarshalIndent(instance.Variables, "  ", "  ")
		if err == nil {
			fmt.Printf("  %s\n", data)
		}
	}

	switch instance.Status {
	case conductor.InstanceStatusFinished:
		color.Green("Workflow finished successfully")
	case conductor.InstanceStatusFaulted:
		os.Exit(1)
	}
}

func parseFlags() *Config {
	config := &Config{Variables: map[string]interface{}{}}

	var variablesFlag string
	flag.StringVar(&config.DefinitionFile, "file", "", "Workflow definition YAML file (required)")
	flag.StringVar(&variablesFlag, "vars", "", "Initial variables as JSON or key=value pairs (comma separated)")
	flag.StringVar(&config.CorrelationID, "correlation", "", "Correlation id for the instance")
	flag.StringVar(&config.LogsDir, "logs-dir", "", "Directory for activity record files")
	flag.DurationVar(&config.Timeout, "timeout", 0, "Overall timeout (e.g. 30s, 5m)")
	flag.BoolVar(&config.Wait, "wait", false, "Run the timer scheduler until the instance finishes")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.JSON, "json", false, "Log in JSON format")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -file workflow.yaml [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if variablesFlag != "" {
		vars, err := parseVariables(variablesFlag)
		if err != nil {
			color.Red("Error parsing variables: %v", err)
			os.Exit(1)
		}
		config.Variables = vars
	}
	return config
}

// parseVariables accepts either a JSON object or comma-separated key=value
// pairs.
func parseVariables(input string) (map[string]interface{}, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "{") {
		var vars map[string]interface{}
		if err := json.Unmarshal([]byte(input), &vars); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return vars, nil
	}
	vars := map[string]interface{}{}
	for _, pair := range strings.Split(input, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid key=value pair: %q", pair)
		}
		vars[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return vars, nil
}

func setupLogger(config *Config) *slog.Logger {
	level := slog.LevelInfo
	if config.Verbose {
		level = slog.LevelDebug
	}
	if config.JSON {
		return conductor.NewJSONLogger(level)
	}
	return conductor.NewLogger(level)
}
