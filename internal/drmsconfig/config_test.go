package drmsconfig

import "testing"

func TestDefault(t *testing.T) {
	c := Default()
	if c.ChunkSize != defaultChunkSize {
		t.Fatalf("ChunkSize = %d, want %d", c.ChunkSize, defaultChunkSize)
	}
	if !c.AllowDSDS {
		t.Fatalf("expected AllowDSDS to default true")
	}
}

func TestValidateClampsChunkSize(t *testing.T) {
	c := Config{ChunkSize: -5}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.ChunkSize != defaultChunkSize {
		t.Fatalf("expected non-positive ChunkSize to reset to default, got %d", c.ChunkSize)
	}

	c2 := Config{ChunkSize: maxChunkSize * 2}
	if err := c2.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c2.ChunkSize != maxChunkSize {
		t.Fatalf("expected over-max ChunkSize to clamp to %d, got %d", maxChunkSize, c2.ChunkSize)
	}
}

func TestValidateFixesMemBudget(t *testing.T) {
	c := Config{QueryMemBudget: -1}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.QueryMemBudget != defaultMemoryBudget {
		t.Fatalf("expected non-positive budget to reset to default, got %d", c.QueryMemBudget)
	}
}
