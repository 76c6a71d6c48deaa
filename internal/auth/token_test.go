package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const testToken = "s3cret-token"

func newTestAuth(t *testing.T) *TokenAuth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash token: %v", err)
	}
	return NewTokenAuth(string(hash))
}

func newRouter(a *TokenAuth) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", a.Require(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": c.GetBool(ContextTokenKey)})
	})
	return router
}

func doRequest(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequireDisabledWithoutHash(t *testing.T) {
	a := NewTokenAuth("")
	if a.Enabled() {
		t.Fatalf("auth should be disabled")
	}
	if rec := doRequest(newRouter(a), ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireChecksBearerToken(t *testing.T) {
	router := newRouter(newTestAuth(t))

	if rec := doRequest(router, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d, want 401", rec.Code)
	}
	if rec := doRequest(router, "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", rec.Code)
	}
	if rec := doRequest(router, "Bearer "+testToken); rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", rec.Code)
	}
}

func TestRequireLocksAfterRepeatedFailures(t *testing.T) {
	a := newTestAuth(t)
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	router := newRouter(a)

	for i := 0; i < maxFailedTries; i++ {
		if rec := doRequest(router, "Bearer wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}

	rec := doRequest(router, "Bearer "+testToken)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("locked status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After header should be set")
	}

	now = now.Add(lockDuration + time.Second)
	if rec := doRequest(router, "Bearer "+testToken); rec.Code != http.StatusOK {
		t.Fatalf("status after lock = %d, want 200", rec.Code)
	}
}

func TestSuccessResetsAttempts(t *testing.T) {
	a := newTestAuth(t)
	router := newRouter(a)

	for i := 0; i < maxFailedTries-1; i++ {
		doRequest(router, "Bearer wrong")
	}
	if rec := doRequest(router, "Bearer "+testToken); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if remaining := a.recordFailure("192.0.2.1"); remaining != maxFailedTries-1 {
		t.Fatalf("remaining = %d, want %d", remaining, maxFailedTries-1)
	}
}

func TestExpiredAttemptsArePruned(t *testing.T) {
	a := newTestAuth(t)
	start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	now := start
	a.now = func() time.Time { return now }

	a.recordFailure("198.51.100.1")

	now = start.Add(10 * time.Minute)
	a.recordFailure("198.51.100.2")
	now = start.Add(24 * time.Minute)
	for i := 1; i < maxFailedTries; i++ {
		a.recordFailure("198.51.100.2")
	}
	if retry := a.checkLock("198.51.100.2"); retry <= 0 {
		t.Fatalf("198.51.100.2 should be locked")
	}

	// 集計期間を過ぎてもロック中の記録は残る
	now = start.Add(25*time.Minute + time.Second)
	a.recordFailure("198.51.100.3")
	if _, ok := a.attempts["198.51.100.1"]; ok {
		t.Fatalf("expired entry should be pruned")
	}
	if _, ok := a.attempts["198.51.100.2"]; !ok {
		t.Fatalf("locked entry should be kept")
	}
	if len(a.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(a.attempts))
	}

	now = start.Add(35 * time.Minute)
	a.recordFailure("198.51.100.4")
	if _, ok := a.attempts["198.51.100.2"]; ok {
		t.Fatalf("entry with expired lock should be pruned")
	}
	if len(a.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(a.attempts))
	}
}
