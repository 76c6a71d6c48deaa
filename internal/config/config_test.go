package config

import "testing"

func validConfig() *Config {
	return &Config{
		GinMode:        "debug",
		DatabaseDriver: "sqlite",
		DatabaseDSN:    "file:jobs.db",
		QueueRedisURL:  "redis://127.0.0.1:6379/0",
		QueueDefault:   "default",
		WorkerQueues:   "default:1",
	}
}

func TestParseQueues(t *testing.T) {
	queues, err := ParseQueues(" default:1, critical:3 ,low")
	if err != nil {
		t.Fatalf("ParseQueues() error = %v", err)
	}
	want := map[string]int{"default": 1, "critical": 3, "low": 1}
	if len(queues) != len(want) {
		t.Fatalf("ParseQueues() = %v, want %v", queues, want)
	}
	for name, weight := range want {
		if queues[name] != weight {
			t.Fatalf("weight for %s = %d, want %d", name, queues[name], weight)
		}
	}

	for _, raw := range []string{"default:0", "default:x", ":2"} {
		if _, err := ParseQueues(raw); err == nil {
			t.Fatalf("ParseQueues(%q) should fail", raw)
		}
	}
}

func TestQueuesAddsDefault(t *testing.T) {
	cfg := validConfig()
	cfg.QueueDefault = "jobs"
	cfg.WorkerQueues = "critical:5"

	queues := cfg.Queues()
	if queues["critical"] != 5 || queues["jobs"] != 1 || len(queues) != 2 {
		t.Fatalf("Queues() = %v", queues)
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"empty dsn", func(c *Config) { c.DatabaseDSN = "" }},
		{"empty default queue", func(c *Config) { c.QueueDefault = "" }},
		{"bad worker queues", func(c *Config) { c.WorkerQueues = "default:-1" }},
		{"release without token", func(c *Config) { c.GinMode = "release" }},
		{"release without redis", func(c *Config) {
			c.GinMode = "release"
			c.APITokenHash = "$2a$10$hash"
			c.QueueRedisURL = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() should fail")
			}
		})
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_DSN", "host=localhost dbname=jobs")
	t.Setenv("WORKER_QUEUES", "default:1,critical:3")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")
	t.Setenv("GIN_MODE", "test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseDriver != "postgres" || cfg.Queues()["critical"] != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("WorkerConcurrency = %d, want default 4", cfg.WorkerConcurrency)
	}
}
