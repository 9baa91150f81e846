package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenLifetime = time.Minute

// HTTPApplier posts operations to the remote sync endpoint. Each request
// carries a short-lived HS256 bearer token identifying this device and an
// idempotency key so replays after a dropped response are harmless.
type HTTPApplier struct {
	baseURL  string
	deviceID string
	secret   []byte
	client   *http.Client

	now func() time.Time
}

func NewHTTPApplier(baseURL, deviceID, secret string) *HTTPApplier {
	return &HTTPApplier{
		baseURL:  baseURL,
		deviceID: deviceID,
		secret:   []byte(secret),
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
}

// HealthURL is the endpoint a connectivity probe should hit.
func (a *HTTPApplier) HealthURL() string {
	return a.baseURL + "/health"
}

func (a *HTTPApplier) Apply(ctx context.Context, op Operation) (Result, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal operation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/operations", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build apply request: %w", err)
	}

	token, err := a.bearerToken(op)
	if err != nil {
		return Result{}, fmt.Errorf("failed to sign request token: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", op.ID.String())
	req.Header.Set("X-Payload-Checksum", strconv.FormatUint(op.Checksum, 10))

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return Result{}, fmt.Errorf("failed to decode apply response: %w", err)
		}
		return result, nil

	case resp.StatusCode == http.StatusConflict:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return Result{}, fmt.Errorf("failed to decode conflict response: %w", err)
		}
		result.Applied = false
		result.Conflict = true
		return result, nil

	case resp.StatusCode >= http.StatusInternalServerError:
		return Result{}, fmt.Errorf("%w: remote returned %d", ErrUnavailable, resp.StatusCode)

	default:
		// 4xx other than conflict: the remote rejected this operation for
		// good; retrying the same payload will not help.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("remote rejected operation: status %d: %s", resp.StatusCode, detail)
	}
}

func (a *HTTPApplier) bearerToken(op Operation) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub": a.deviceID,
		"jti": op.ID.String(),
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
