package processor

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

const similarityWords = 50

// Fingerprint 主指纹：sha256(title|url)，唯一的准入判定键。
// 标题为空时无法组成复合键，退化为仅对 URL 取哈希。
func Fingerprint(item NormalizedItem) string {
	if item.Title == "" {
		return hashHex(item.Link)
	}
	return hashHex(item.Title + "|" + item.Link)
}

// SimilarityFingerprint 取前 50 个词做 md5。
// 只随条目一起保存，不参与任何去重判定。
func SimilarityFingerprint(text string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(words) == 0 {
		return ""
	}
	if len(words) > similarityWords {
		words = words[:similarityWords]
	}
	sum := md5.Sum([]byte(strings.Join(words, " ")))
	return hex.EncodeToString(sum[:])
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Stamp 为条目填充两个指纹，返回新值，不修改入参
func Stamp(item NormalizedItem) NormalizedItem {
	item.ContentHash = Fingerprint(item)
	text := item.Summary
	if text == "" {
		text = item.Body
	}
	item.SimilarityHash = SimilarityFingerprint(item.Title + " " + text)
	return item
}

// IsDuplicate 主指纹已在集合中即视为重复
func IsDuplicate(item NormalizedItem, known *KnownSet) bool {
	h := item.ContentHash
	if h == "" {
		h = Fingerprint(item)
	}
	return known.Contains(h)
}

// KnownSet 是并发安全的指纹集合：每轮开始时从时间窗口内的存量构建，
// 之后随成功入库的条目追加
type KnownSet struct {
	mu sync.RWMutex
	m  map[string]struct{}
}

func NewKnownSet(hashes []string) *KnownSet {
	m := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		if h != "" {
			m[h] = struct{}{}
		}
	}
	return &KnownSet{m: m}
}

func (s *KnownSet) Contains(h string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[h]
	return ok
}

// Add 返回是否为新加入
func (s *KnownSet) Add(h string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[h]; ok {
		return false
	}
	s.m[h] = struct{}{}
	return true
}

func (s *KnownSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
