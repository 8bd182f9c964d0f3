// Package keyspace 定义所有持久化键的前缀与构造函数。前缀是与既有数据互通的契约，不可修改。
package keyspace

import (
	"strconv"
	"strings"
)

const (
	Session     = "session:"
	Cache       = "cache:"
	Rate        = "rate:"
	Queue       = "queue:"
	DLQ         = "dlq:"
	Result      = "result:"
	Video       = "video:"
	Security    = "security:"
	Fingerprint = "fingerprint:"
	IP          = "ip:"
	Revoked     = "revoked:"
	Suspicious  = "suspicious:"
	Lock        = "lock:"
)

func SessionKey(id string) string { return Session + id }

func LockKey(name string) string { return Lock + name }

func FingerprintKey(sessionID string) string { return Fingerprint + sessionID }

// IPSessionsKey 某 IP 下活跃会话 id 的集合
func IPSessionsKey(ip string) string { return IP + ip + ":sessions" }

// RevokedSet 被吊销标识符集合
func RevokedSet() string { return Revoked + "sessions" }

func SuspiciousKey(identifier string) string { return Suspicious + identifier }

// SecurityEvents 按时间排序的安全事件
func SecurityEvents() string { return Security + "events" }

// SecurityCounts 按事件类型累计的计数
func SecurityCounts() string { return Security + "counts" }

func CacheKey(key string) string { return Cache + key }

func RateKey(resource, identifier string) string { return Rate + resource + ":" + identifier }

// QueueKey 按 (priority, type) 分区的有序集合
func QueueKey(priority, taskType string) string { return Queue + priority + ":" + taskType }

// QueueStats 处理成功/失败计数
func QueueStats() string { return Queue + "stats" }

func DLQKey(taskType string) string { return DLQ + taskType }

func ResultKey(taskID string) string { return Result + taskID }

func BlobMetaKey(fileID string) string { return Video + fileID + ":metadata" }

func BlobChunkKey(fileID string, index int) string {
	return Video + fileID + ":chunk:" + strconv.Itoa(index)
}

// BlobMetaPattern 匹配所有元数据键
func BlobMetaPattern() string { return Video + "*:metadata" }

// BlobChunkPattern 匹配所有分块键
func BlobChunkPattern() string { return Video + "*:chunk:*" }

// BlobIDFromKey 从元数据或分块键中取出文件 id
func BlobIDFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, Video)
	if !ok {
		return "", false
	}
	if id, ok := strings.CutSuffix(rest, ":metadata"); ok {
		return id, id != ""
	}
	if i := strings.LastIndex(rest, ":chunk:"); i > 0 {
		return rest[:i], true
	}
	return "", false
}

// SessionIDFromKey 从会话键中取出会话 id
func SessionIDFromKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, Session)
	return id, ok && id != ""
}
