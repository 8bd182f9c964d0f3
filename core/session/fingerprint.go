package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint 由 user-agent 与 IP 计算设备指纹：HMAC-SHA256(secret, ua || 0x00 || ip)
func Fingerprint(secret, userAgent, ip string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(userAgent))
	h.Write([]byte{0})
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}

// fingerprintEqual 常量时间比较
func fingerprintEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
