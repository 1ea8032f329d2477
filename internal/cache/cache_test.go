package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sinavika/fraudwatch/internal/domain"
)

func TestLRUSetGet(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-001", "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	val, err := c.Get(ctx, "tenant-001", "key1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("got %q, want value1", val)
	}
}

func TestLRUMissReturnsNil(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()

	val, err := c.Get(context.Background(), "tenant-001", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil for missing key, got %q", val)
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-001", "ephemeral", []byte("x"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "tenant-001", "ephemeral")
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Error("expected expired entry to be gone")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key%d", i)
		if err := c.Set(ctx, "tenant-001", key, []byte(key), time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	size, capacity, _, _ := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("stats = (%d, %d), want (3, 3)", size, capacity)
	}

	// Oldest entries must be evicted
	if val, _ := c.Get(ctx, "tenant-001", "key0"); val != nil {
		t.Error("key0 should have been evicted")
	}
	if val, _ := c.Get(ctx, "tenant-001", "key4"); val == nil {
		t.Error("key4 should still be cached")
	}

	_, _, hits, misses := c.Stats()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
}

func TestLRUTenantIsolation(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-001", "shared-key", []byte("a"), time.Minute); err != nil {
		t.Fatal(err)
	}

	val, err := c.Get(ctx, "tenant-002", "shared-key")
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Error("tenant-002 must not see tenant-001 data")
	}

	if _, err := c.Get(ctx, "", "shared-key"); err == nil {
		t.Error("empty tenantID must be rejected")
	}
}

func TestClaimHelpers(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	claim := &domain.ClaimSnapshot{
		ID:             "claim-001",
		TenantID:       "tenant-001",
		PatientName:    "Budi Santoso",
		TariffHospital: 5_000_000,
		TariffInaCbg:   3_000_000,
	}

	if err := c.SetClaim(ctx, "tenant-001", claim.ID, claim, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetClaim(ctx, "tenant-001", "claim-001")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.PatientName != "Budi Santoso" {
		t.Errorf("claim not round-tripped: %+v", got)
	}

	missing, err := c.GetClaim(ctx, "tenant-001", "claim-999")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for missing claim")
	}
}

func TestAnalysisHelpers(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	analysis := &domain.Analysis{
		ID:      "analysis-001",
		ClaimID: "claim-001",
		Report: domain.FraudAnalysisReport{
			CombinedScore: 45,
			MLRiskLevel:   domain.RiskLevelMedium,
		},
	}

	if err := c.SetAnalysis(ctx, "tenant-001", "claim-001", analysis, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetAnalysis(ctx, "tenant-001", "claim-001")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Report.CombinedScore != 45 {
		t.Errorf("analysis not round-tripped: %+v", got)
	}
}

func TestIncrementCounter(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := c.IncrementCounter(ctx, "tenant-001", "prov-01", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
	}

	// A different tenant gets its own counter
	count, err := c.IncrementCounter(ctx, "tenant-002", "prov-01", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("tenant-002 count = %d, want 1", count)
	}
}

func TestIncrementCounterWindowReset(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	if _, err := c.IncrementCounter(ctx, "tenant-001", "prov-01", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	count, err := c.IncrementCounter(ctx, "tenant-001", "prov-01", 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after window reset = %d, want 1", count)
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected LRUCache, got %T", c)
	}

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
