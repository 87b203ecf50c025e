package cache

import (
	"strings"
	"testing"

	"github.com/veildoc/veildoc/internal/config"
)

func testCache() *MaskCache {
	return &MaskCache{config: &config.CacheConfig{KeyPrefix: "veildoc:mask:"}}
}

func TestKeyDeterministic(t *testing.T) {
	mc := testCache()
	a := mc.key("phone_rule", "contact 13812345678", nil)
	b := mc.key("phone_rule", "contact 13812345678", nil)
	if a != b {
		t.Errorf("same inputs produced different keys: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "veildoc:mask:") {
		t.Errorf("key missing prefix: %s", a)
	}
}

func TestKeyDistinguishesInputs(t *testing.T) {
	mc := testCache()
	base := mc.key("phone_rule", "text", nil)

	if mc.key("email_rule", "text", nil) == base {
		t.Error("rule ID not part of key")
	}
	if mc.key("phone_rule", "other", nil) == base {
		t.Error("text not part of key")
	}
	if mc.key("phone_rule", "text", []string{"张三"}) == base {
		t.Error("custom list not part of key")
	}
	// List boundaries must matter: ["ab","c"] != ["a","bc"].
	if mc.key("r", "t", []string{"ab", "c"}) == mc.key("r", "t", []string{"a", "bc"}) {
		t.Error("list boundary collision")
	}
}

func TestKeyHidesText(t *testing.T) {
	mc := testCache()
	key := mc.key("phone_rule", "13812345678", nil)
	if strings.Contains(key, "13812345678") {
		t.Error("raw text leaked into cache key")
	}
}

func TestStats(t *testing.T) {
	mc := testCache()
	if s := mc.Stats(); s.HitRate != 0 {
		t.Errorf("empty cache hit rate = %v", s.HitRate)
	}
	mc.stats.hits = 3
	mc.stats.misses = 1
	if s := mc.Stats(); s.HitRate != 0.75 {
		t.Errorf("hit rate = %v, want 0.75", s.HitRate)
	}
}
