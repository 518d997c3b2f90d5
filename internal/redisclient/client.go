package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/store_otp.lua
var storeOTPScript string

//go:embed scripts/verify_otp.lua
var verifyOTPScript string

// OTPResult is the outcome of a verification attempt
type OTPResult int

const (
	OTPMissing  OTPResult = 0
	OTPVerified OTPResult = 1
	OTPWrong    OTPResult = -1
	OTPBurned   OTPResult = -2
)

type Client struct {
	rdb          *redis.Client
	storeScript  *redis.Script
	verifyScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return Wrap(rdb), nil
}

// Wrap builds a Client around an existing connection
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		rdb:          rdb,
		storeScript:  redis.NewScript(storeOTPScript),
		verifyScript: redis.NewScript(verifyOTPScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection for /ready
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func otpKey(phone string) string {
	return fmt.Sprintf("otp:%s", phone)
}

// StoreOTP replaces any previous code for phone, resetting attempts
func (c *Client) StoreOTP(ctx context.Context, phone, codeHash string, ttl time.Duration) error {
	_, err := c.storeScript.Run(ctx, c.rdb, []string{otpKey(phone)}, codeHash, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("store otp script failed: %w", err)
	}
	return nil
}

// VerifyOTP atomically checks and consumes a code.
// A matching code is deleted so it can never be verified twice.
func (c *Client) VerifyOTP(ctx context.Context, phone, codeHash string, maxAttempts int) (OTPResult, error) {
	result, err := c.verifyScript.Run(ctx, c.rdb, []string{otpKey(phone)}, codeHash, maxAttempts).Result()
	if err != nil {
		return OTPMissing, fmt.Errorf("verify otp script failed: %w", err)
	}

	n, ok := result.(int64)
	if !ok {
		return OTPMissing, fmt.Errorf("unexpected script result type")
	}
	return OTPResult(n), nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock drops a lock early, e.g. when the guarded work failed
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
