// Package auth は運用APIの認証を提供します。
package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

var (
	failureWindow    = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxFailedTries   = 5
	bearerPrefix     = "Bearer "
	headerAuthorized = "Authorization"
)

// ContextTokenKey は認証済みリクエストであることを示すキーです。
const ContextTokenKey = "auth.token"

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// TokenAuth は bcrypt ハッシュと照合する Bearer トークン認証です。
// 同一IPからの連続失敗は一定時間ロックします。
type TokenAuth struct {
	hash     []byte
	now      func() time.Time
	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewTokenAuth は TokenAuth を作成します。hash が空の場合は認証を行いません。
func NewTokenAuth(hash string) *TokenAuth {
	return &TokenAuth{
		hash:     []byte(hash),
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

// Enabled はトークンハッシュが設定されているかを返します。
func (a *TokenAuth) Enabled() bool {
	return len(a.hash) > 0
}

// Require はトークンを検証するミドルウェアを返します。
func (a *TokenAuth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if retryAfter := a.checkLock(ip); retryAfter > 0 {
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_ATTEMPTS",
				"message": "一定時間後に再度お試しください",
			})
			return
		}

		header := c.GetHeader(headerAuthorized)
		if !strings.HasPrefix(header, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Authorization ヘッダーに Bearer トークンを指定してください",
			})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if token == "" || bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			remaining := a.recordFailure(ip)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":              "INVALID_TOKEN",
				"message":           "トークンが正しくありません",
				"remainingAttempts": remaining,
			})
			return
		}

		a.resetAttempts(ip)
		c.Set(ContextTokenKey, true)
		c.Next()
	}
}

func (a *TokenAuth) checkLock(ip string) time.Duration {
	a.lock.Lock()
	defer a.lock.Unlock()

	state, ok := a.attempts[ip]
	if !ok {
		return 0
	}
	now := a.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (a *TokenAuth) recordFailure(ip string) int {
	a.lock.Lock()
	defer a.lock.Unlock()

	now := a.now()
	a.pruneLocked(now)
	state, ok := a.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > failureWindow {
		state = &attemptState{firstAttempt: now}
		a.attempts[ip] = state
	}

	state.count++
	if state.count >= maxFailedTries {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxFailedTries
	}
	return maxFailedTries - state.count
}

// pruneLocked は集計期間もロックも過ぎた記録を削除します。a.lock を保持して呼び出します。
func (a *TokenAuth) pruneLocked(now time.Time) {
	for ip, state := range a.attempts {
		if now.Sub(state.firstAttempt) > failureWindow && !now.Before(state.lockedUntil) {
			delete(a.attempts, ip)
		}
	}
}

func (a *TokenAuth) resetAttempts(ip string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.attempts, ip)
}
