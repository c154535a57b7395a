package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_New_Retryable(t *testing.T) {
	err := New(ErrCodeTimeout, "timed out")
	if !err.Retryable {
		t.Error("TIMEOUT should be retryable")
	}
	if New(ErrCodeInvalidConfig, "bad").Retryable {
		t.Error("INVALID_CONFIG should not be retryable")
	}
}

func TestAppError_ConnectionNotDefined(t *testing.T) {
	err := ConnectionNotDefined("cache")
	if err.Code != ErrCodeConnectionNotDefined {
		t.Errorf("expected CONNECTION_NOT_DEFINED, got %s", err.Code)
	}
	if err.Details["connection"] != "cache" {
		t.Errorf("expected connection=cache, got %v", err.Details["connection"])
	}
	if !strings.Contains(err.Error(), `"cache"`) {
		t.Errorf("expected message to name the connection, got %q", err.Error())
	}
}

func TestAppError_DuplicateSubscription(t *testing.T) {
	err := DuplicateSubscription("news")
	if err.Code != "E_MULTIPLE_REDIS_SUBSCRIPTIONS" {
		t.Errorf("unexpected code %s", err.Code)
	}
	if err.Details["channel"] != "news" {
		t.Errorf("expected channel=news, got %v", err.Details["channel"])
	}

	perr := DuplicatePatternSubscription("news.*")
	if perr.Code != "E_MULTIPLE_REDIS_PSUBSCRIPTIONS" {
		t.Errorf("unexpected code %s", perr.Code)
	}
	if perr.Details["pattern"] != "news.*" {
		t.Errorf("expected pattern=news.*, got %v", perr.Details["pattern"])
	}
}

func TestAppError_MemoryThresholdExceeded(t *testing.T) {
	err := MemoryThresholdExceeded(2048, 1024)
	if err.Details["used_memory"] != int64(2048) || err.Details["threshold"] != int64(1024) {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestAppError_WithCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := ConnectionFailed("primary", cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if !strings.Contains(err.Error(), "dial tcp: refused") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("manager: %w", ConnectionNotDefined("x"))
	if !stderrors.Is(wrapped, New(ErrCodeConnectionNotDefined, "")) {
		t.Error("expected code match through wrapping")
	}
	if stderrors.Is(wrapped, New(ErrCodeInvalidConfig, "")) {
		t.Error("did not expect a match on a different code")
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := InvalidConfig("bad").WithDetail("field", "port").WithDetail("value", -1)
	if err.Details["field"] != "port" || err.Details["value"] != -1 {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestIsCode(t *testing.T) {
	if !IsCode(fmt.Errorf("wrap: %w", MissingDefaultConnection()), ErrCodeMissingDefaultConnection) {
		t.Error("expected IsCode to unwrap")
	}
	if IsCode(fmt.Errorf("plain"), ErrCodeInternal) {
		t.Error("plain errors carry no code")
	}
	if IsCode(nil, ErrCodeInternal) {
		t.Error("nil carries no code")
	}
}

func TestToBody(t *testing.T) {
	if ToBody(nil) != nil {
		t.Error("expected nil body for nil error")
	}
	body := ToBody(CommandNotDefined("incrby2"))
	if body.Code != ErrCodeCommandNotDefined || body.Details["command"] != "incrby2" {
		t.Errorf("unexpected body %+v", body)
	}
	plain := ToBody(fmt.Errorf("boom"))
	if plain.Code != ErrCodeInternal || plain.Message != "boom" {
		t.Errorf("unexpected body %+v", plain)
	}
}

func TestAsAppError(t *testing.T) {
	if _, ok := AsAppError(fmt.Errorf("plain")); ok {
		t.Error("plain error is not an AppError")
	}
	appErr, ok := AsAppError(fmt.Errorf("wrap: %w", Timeout("report")))
	if !ok || appErr.Code != ErrCodeTimeout {
		t.Errorf("expected TIMEOUT AppError, got %v", appErr)
	}
}
