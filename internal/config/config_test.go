package config

import (
	"testing"
	"time"
)

func TestParseTTLBands_Valid(t *testing.T) {
	bands := parseTTLBands("0-7=5m, 8-12=2m ,13-20=30s")
	if len(bands) != 3 {
		t.Fatalf("bands=%d want 3", len(bands))
	}
	if bands[0].MinZoom != 0 || bands[0].MaxZoom != 7 || bands[0].TTL != 5*time.Minute {
		t.Fatalf("band[0]=%+v", bands[0])
	}
	if bands[2].MinZoom != 13 || bands[2].TTL != 30*time.Second {
		t.Fatalf("band[2]=%+v", bands[2])
	}
}

func TestParseTTLBands_SkipsMalformed(t *testing.T) {
	cases := []string{
		"",
		"garbage",
		"5=1m",
		"9-3=1m",
		"0-7=notaduration",
		"0-7=-1s",
	}
	for _, in := range cases {
		if got := parseTTLBands(in); len(got) != 0 {
			t.Fatalf("parseTTLBands(%q)=%v want empty", in, got)
		}
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.KeyPrecision != 3 {
		t.Fatalf("KeyPrecision=%d want 3", cfg.KeyPrecision)
	}
	if cfg.MaxPerTile != 1000 {
		t.Fatalf("MaxPerTile=%d want 1000", cfg.MaxPerTile)
	}
	if cfg.MaxBatchesLowZoom <= cfg.MaxBatches {
		t.Fatalf("low-zoom batch budget %d must exceed default %d",
			cfg.MaxBatchesLowZoom, cfg.MaxBatches)
	}
	if len(cfg.CacheTTLBands) == 0 {
		t.Fatal("default TTL bands empty")
	}
}
