// Package config provides the configuration system for tickbus.
//
// Configuration is assembled from layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← Highest priority (TICKBUS_*)
//	├─────────────────────────────┤
//	│  2. Config File             │  ← tickbus.toml / tickbus.yaml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Dotenv files passed with WithEnvFiles sit just below the process
// environment in layer 3.
//
// # Sub-packages
//
//   - loader: file (TOML, YAML) and environment loading, DeepMerge
//   - watcher: fsnotify file watching with debounce for live reload
//
// # Basic Usage
//
//	cfg, err := config.Load("tickbus.toml", config.WithEnvFiles(".env"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bus.MaxQueueSize)
//
// # Configuration Files
//
//	# tickbus.toml
//	[bus]
//	max_queue_size = 1000
//	max_history_size = 100
//
//	[loop]
//	tick_rate = 60
//
//	[journal]
//	enabled = true
//	path = "tickbus.db"
//	types = ["player.*"]
//
// Environment variables follow the section_key layout:
// TICKBUS_BUS_MAX_QUEUE_SIZE sets bus.max_queue_size.
//
// # Live Reload
//
// Watch reloads a file on change and hands each valid Config to a
// callback. Invalid reloads are logged and ignored, so the previous
// configuration stays in effect.
package config
