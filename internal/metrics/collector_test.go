package metrics

import (
	"context"
	"testing"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("enabled config registers metrics", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: true, Port: 19090, Namespace: "test"})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if c.registry == nil {
			t.Error("registry is nil for an enabled collector")
		}
	})

	t.Run("nil config uses defaults and stays disabled", func(t *testing.T) {
		c, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if c.config.Path != "/metrics" {
			t.Errorf("default path = %q, want /metrics", c.config.Path)
		}
		if c.config.Port != 9090 {
			t.Errorf("default port = %d, want 9090", c.config.Port)
		}
		if c.registry != nil {
			t.Error("a disabled-by-default collector should not build a registry")
		}
	})

	t.Run("disabled config skips registry", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if c.registry != nil {
			t.Error("disabled collector should not have a registry")
		}
	})
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Port: 19091, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	// Should not panic for any op/outcome/size combination, enabled or not.
	c.RecordOperation("read", 1024, true)
	c.RecordOperation("write", 512, false)
	c.RecordOperation("getattr", 0, true)

	disabled, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	disabled.RecordOperation("read", 1024, true)
}

func TestRecordCacheOperations(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Port: 19092, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.RecordCacheHit("/a/b")
	c.RecordCacheMiss("/a/c")

	disabled, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	disabled.RecordCacheHit("/a/b")
	disabled.RecordCacheMiss("/a/c")
}

func TestUpdateCacheSize(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Port: 19093, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.UpdateCacheSize("path_cache", 128)

	disabled, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	disabled.UpdateCacheSize("path_cache", 128)
}

func TestUpdateActiveConnections(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Port: 19094, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.UpdateActiveConnections(3)
	c.UpdateActiveConnections(0)

	disabled, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	disabled.UpdateActiveConnections(3)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Port: 19095, Path: "/metrics", Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		if err := c.Stop(context.Background()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	c.RecordOperation("read", 1024, true)
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Port: 19096, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() without Start() error = %v, want nil", err)
	}
}

func TestDisabledCollectorStartIsNoop(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Errorf("Start() on disabled collector error = %v, want nil", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() on disabled collector error = %v, want nil", err)
	}
}
