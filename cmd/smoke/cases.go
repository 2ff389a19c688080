// README: Smoke cases; environment checks, the full walk lifecycle, races and location throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	wanderer string
	walker   string

	requestID string
	sessionID string
	seq       time.Time
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		wanderer: "smoke-wanderer-" + uuid.NewString()[:8],
		walker:   "smoke-walker-" + uuid.NewString()[:8],
		seq:      time.Now().UTC(),
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{"Env: Postgres connect", func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: "FAIL", Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return Result{Status: "PASS"}
		}},
		{"Env: Redis connect", func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: "FAIL", Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return Result{Status: "PASS"}
		}},
		{"Migration: apply (optional)", func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return Result{Status: "SKIP", Note: "apply-migration=false"}
			}
			if r.db == nil {
				return Result{Status: "FAIL", Note: "db not configured"}
			}
			sql, err := os.ReadFile(r.cfg.MigrationPath)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			for _, s := range splitSQL(string(sql)) {
				if _, err := r.db.Exec(ctx, s); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
			}
			return Result{Status: "PASS"}
		}},
		{"Migration: tables exist", func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: "FAIL", Note: "db not configured"}
			}
			tables, err := extractTables(r.cfg.MigrationPath)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			for _, t := range tables {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
				).Scan(&exists)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if !exists {
					return Result{Status: "FAIL", Note: "missing table: " + t}
				}
			}
			return Result{Status: "PASS"}
		}},
		{"API: health", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, "", http.MethodGet, "/health", nil, 200)
			return res
		}},
		{"Auth: missing token -> 401", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, "", http.MethodGet, "/api/walk-requests/active", nil, 401)
			return res
		}},

		{"Profile: wanderer setup", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPut, "/api/profile", map[string]any{
				"role": "WANDERER", "name": "Smoke Wanderer", "languages": []string{"en"},
			}, 200)
			return res
		}},
		{"Profile: walker setup", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.walker, http.MethodPut, "/api/profile", map[string]any{
				"role": "WALKER", "name": "Smoke Walker", "languages": []string{"en", "hi"},
			}, 200)
			return res
		}},
		{"Profile: walker available near pickup", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.walker, http.MethodPut, "/api/profile/availability", map[string]any{
				"isAvailable": true, "latitude": 12.9750, "longitude": 77.5946,
			}, 200)
			return res
		}},
		{"Profile: wanderer cannot toggle availability -> 403", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPut, "/api/profile/availability", map[string]any{"isAvailable": true}, 403)
			return res
		}},

		{"Walk: create request", func(ctx context.Context, r *Runner) Result {
			res, data := r.call(ctx, r.wanderer, http.MethodPost, "/api/walk-requests", map[string]any{
				"latitude": 12.9716, "longitude": 77.5946, "duration": 30,
				"pace": "Moderate", "conversationLevel": "Light", "languages": []string{"en"},
			}, 201)
			r.requestID = stringField(data, "id")
			return res
		}},
		{"Walk: second active request -> 409", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPost, "/api/walk-requests", map[string]any{
				"latitude": 12.9716, "longitude": 77.5946, "duration": 30,
				"pace": "Moderate", "conversationLevel": "Light",
			}, 409)
			return res
		}},
		{"Matching: find walkers", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPost, "/api/matching/find-walkers", map[string]any{
				"requestId": r.requestID, "radius": 5,
			}, 200)
			return res
		}},
		{"Matching: assign walker", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPost, "/api/matching/assign", map[string]any{
				"requestId": r.requestID, "walkerId": r.walker,
			}, 200)
			return res
		}},
		{"Matching: walker sees pending request", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.walker, http.MethodGet, "/api/matching/pending", nil, 200)
			return res
		}},
		{"Concurrency: accept races resolve to one winner", func(ctx context.Context, r *Runner) Result {
			return r.race(ctx, r.walker, "/api/matching/accept", map[string]any{"requestId": r.requestID})
		}},
		{"Tracking: wrong otp -> 422", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.walker, http.MethodPost, "/api/tracking/verify-otp", map[string]any{
				"requestId": r.requestID, "otp": "not-a-code",
			}, 422)
			return res
		}},
		{"Tracking: otp handshake", func(ctx context.Context, r *Runner) Result {
			res, data := r.call(ctx, r.wanderer, http.MethodGet, "/api/tracking/otp/"+r.requestID, nil, 200)
			if res.Status != "PASS" {
				return res
			}
			res, _ = r.call(ctx, r.walker, http.MethodPost, "/api/tracking/verify-otp", map[string]any{
				"requestId": r.requestID, "otp": stringField(data, "otp"),
			}, 200)
			return res
		}},
		{"Tracking: start session", func(ctx context.Context, r *Runner) Result {
			res, data := r.call(ctx, r.wanderer, http.MethodPost, "/api/tracking/start", map[string]any{
				"requestId": r.requestID, "wandererId": r.wanderer, "walkerId": r.walker,
				"initialLocation": r.sample(12.9716, 77.5946),
			}, 201)
			r.sessionID = stringField(data, "id")
			return res
		}},
		{"Tracking: repeated start returns same session", func(ctx context.Context, r *Runner) Result {
			res, data := r.call(ctx, r.walker, http.MethodPost, "/api/tracking/start", map[string]any{
				"requestId": r.requestID, "wandererId": r.wanderer, "walkerId": r.walker,
			}, 201)
			if res.Status == "PASS" && stringField(data, "id") != r.sessionID {
				return Result{Status: "FAIL", Note: "second start opened a new session"}
			}
			return res
		}},
		{"Tracking: location update", func(ctx context.Context, r *Runner) Result {
			body := r.sample(12.9721, 77.5946)
			body["sessionId"] = r.sessionID
			res, _ := r.call(ctx, r.walker, http.MethodPost, "/api/tracking/update-location", body, 200)
			return res
		}},
		{"Tracking: stale location -> 409", func(ctx context.Context, r *Runner) Result {
			body := map[string]any{
				"sessionId": r.sessionID, "latitude": 12.9722, "longitude": 77.5946,
				"timestamp": r.seq.Add(-time.Hour).Format(time.RFC3339Nano),
			}
			res, _ := r.call(ctx, r.walker, http.MethodPost, "/api/tracking/update-location", body, 409)
			return res
		}},
		{"Tracking: partner location", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodGet, "/api/tracking/partner-location/"+r.sessionID, nil, 200)
			return res
		}},
		{"Tracking: payment summary before end -> 409", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodGet, "/api/tracking/payment-summary/"+r.sessionID, nil, 409)
			return res
		}},
		{"Tracking: one-sided end is acknowledged", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPost, "/api/tracking/end", map[string]any{"sessionId": r.sessionID}, 202)
			return res
		}},
		{"Concurrency: concurrent ends finalize once", func(ctx context.Context, r *Runner) Result {
			res := r.race(ctx, r.walker, "/api/tracking/end", map[string]any{"sessionId": r.sessionID})
			if res.Status != "FAIL" && r.db != nil {
				var finalized int
				_ = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM walk_sessions WHERE id = $1 AND status = 'PAYMENT_PENDING'`, r.sessionID).Scan(&finalized)
				if finalized != 1 {
					return Result{Status: "FAIL", Note: "session not in PAYMENT_PENDING"}
				}
			}
			return res
		}},
		{"Tracking: payment summary", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodGet, "/api/tracking/payment-summary/"+r.sessionID, nil, 200)
			return res
		}},
		{"Payments: forged signature rejected", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPost, "/api/payments/verify", map[string]any{
				"razorpay_order_id": "order_smoke", "razorpay_payment_id": "pay_smoke", "razorpay_signature": "forged",
			}, 400, 404, 502)
			return res
		}},
		{"Ratings: wanderer rates walker", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPost, "/api/ratings", map[string]any{
				"sessionId": r.sessionID, "rating": 5, "review": "smoke walk",
			}, 201)
			return res
		}},
		{"Ratings: duplicate -> 409", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.wanderer, http.MethodPost, "/api/ratings", map[string]any{
				"sessionId": r.sessionID, "rating": 4,
			}, 409)
			return res
		}},
		{"Notifications: walker inbox", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, r.walker, http.MethodGet, "/api/notifications", nil, 200)
			return res
		}},
		{"Perf: location update throughput", func(ctx context.Context, r *Runner) Result {
			return r.perfLoad(ctx, r.walker, "/api/profile/location", map[string]any{"latitude": 12.9750, "longitude": 77.5946})
		}},
	}
}

// sample builds a location body with a strictly increasing timestamp.
func (r *Runner) sample(lat, lng float64) map[string]any {
	r.seq = r.seq.Add(time.Second)
	return map[string]any{"latitude": lat, "longitude": lng, "timestamp": r.seq.Format(time.RFC3339Nano)}
}

func (r *Runner) token(uid string) string {
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.cfg.JWTSecret))
	return s
}

func (r *Runner) do(ctx context.Context, uid, method, path string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+r.token(uid))
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, time.Since(start), nil
}

// call performs one request and passes when the status is one of want.
func (r *Runner) call(ctx context.Context, uid, method, path string, body any, want ...int) (Result, map[string]any) {
	status, raw, latency, err := r.do(ctx, uid, method, path, body)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}, nil
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	_ = json.Unmarshal(raw, &env)
	if !contains(want, status) {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d body=%s", status, truncate(raw))}, env.Data
	}
	return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}, env.Data
}

// race fires the same request concurrently; every call must succeed or lose cleanly.
func (r *Runner) race(ctx context.Context, uid, path string, body any) Result {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succ, bad int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _, err := r.do(ctx, uid, http.MethodPost, path, body)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil || status >= 500:
				bad++
			case status < 300:
				succ++
			}
		}()
	}
	wg.Wait()
	if bad > 0 || succ == 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d errors=%d", succ, bad)}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("success=%d", succ)}
}

func (r *Runner) perfLoad(ctx context.Context, uid, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		count, errCount int64
		mu              sync.Mutex
		wg              sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.do(ctx, uid, http.MethodPut, path, payload)
				mu.Lock()
				if err != nil || status >= 300 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 160 {
		return s[:160] + "..."
	}
	return s
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
