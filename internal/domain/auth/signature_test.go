package auth

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestVerifier_Connection(t *testing.T) {
	v := NewVerifier("S", 0)
	good := md5hex("1700000000u1Sconnection")

	tests := []struct {
		name      string
		identity  string
		timestamp string
		signature string
		want      bool
	}{
		{"valid", "u1", "1700000000", good, true},
		{"upper case hex", "u1", "1700000000", strings.ToUpper(good), true},
		{"wrong identity", "u2", "1700000000", good, false},
		{"wrong timestamp", "u1", "1700000001", good, false},
		{"heartbeat digest", "u1", "1700000000", md5hex("1700000000u1Sheartbeat"), false},
		{"empty identity", "", "1700000000", good, false},
		{"empty timestamp", "u1", "", good, false},
		{"empty signature", "u1", "1700000000", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.VerifyConnection(tt.identity, tt.timestamp, tt.signature))
		})
	}
}

func TestVerifier_Heartbeat(t *testing.T) {
	v := NewVerifier("S", 0)
	assert.True(t, v.VerifyHeartbeat("u1", "1700000000", md5hex("1700000000u1Sheartbeat")))
	assert.False(t, v.VerifyHeartbeat("u1", "1700000000", md5hex("1700000000u1Sconnection")))
}

func TestVerifier_EmptySecretFailsClosed(t *testing.T) {
	v := NewVerifier("", 0)
	assert.False(t, v.VerifyConnection("u1", "1700000000", md5hex("1700000000u1connection")))
}

func TestVerifier_TimeBoxed(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := NewVerifier("S", 0)
	v.SetClock(func() time.Time { return now })

	fresh := strconv.FormatInt(now.Add(-10*time.Second).Unix(), 10)
	stale := strconv.FormatInt(now.Add(-301*time.Second).Unix(), 10)

	assert.True(t, v.VerifyTimeBoxed("u1", fresh, md5hex(fresh+"u1S"+PurposeUsage), PurposeUsage))
	assert.False(t, v.VerifyTimeBoxed("u1", stale, md5hex(stale+"u1S"+PurposeUsage), PurposeUsage))
	assert.False(t, v.VerifyTimeBoxed("u1", "17000", md5hex("17000u1S"+PurposeUsage), PurposeUsage))

	// 未提供时间戳时在窗口内逐秒尝试
	assert.True(t, v.VerifyTimeBoxed("u1", "", md5hex(fresh+"u1S"+PurposeUsage), PurposeUsage))
	assert.False(t, v.VerifyTimeBoxed("u1", "", md5hex(stale+"u1S"+PurposeUsage), PurposeUsage))
}
