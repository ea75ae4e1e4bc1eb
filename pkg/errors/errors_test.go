package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details/Context maps not initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct user-facing defaults", func(t *testing.T) {
		if !NewError(ErrCodeFontParse, "bad font").UserFacing {
			t.Error("FontParse should be user-facing by default")
		}
		if NewError(ErrCodeCacheCorrupt, "corrupt").UserFacing {
			t.Error("CacheCorrupt should not be user-facing by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeStorageRead, CategoryStorage},
		{ErrCodeStorageWrite, CategoryStorage},
		{ErrCodeCacheClosed, CategoryCache},
		{ErrCodeCacheCorrupt, CategoryCache},
		{ErrCodeFileNotFound, CategoryFont},
		{ErrCodeFontParse, CategoryFont},
		{ErrCodeRenderFailed, CategoryFont},
		{ErrCodeOperationCanceled, CategoryOperation},
		{ErrCodeInternalError, CategoryInternal},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestFontCacheError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *FontCacheError
		want string
	}{
		{
			name: "code and message only",
			err:  NewError(ErrCodeCacheClosed, "cache is closed"),
			want: "CACHE_CLOSED: cache is closed",
		},
		{
			name: "with component",
			err:  NewError(ErrCodeCacheClosed, "cache is closed").WithComponent("cache"),
			want: "[cache] CACHE_CLOSED: cache is closed",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeStorageWrite, "write failed").WithComponent("diskstore").WithOperation("write"),
			want: "[diskstore:write] STORAGE_WRITE: write failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFontCacheError_UnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := Wrap(cause, ErrCodeStorageWrite, "write failed")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !errors.Is(err, NewError(ErrCodeStorageWrite, "other message")) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, NewError(ErrCodeStorageRead, "write failed")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestHasCode(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCodeFontParse, "bad table")
	wrapped := fmt.Errorf("loading: %w", inner)

	if !HasCode(wrapped, ErrCodeFontParse) {
		t.Error("HasCode should see through fmt wrapping")
	}
	if HasCode(wrapped, ErrCodeRenderFailed) {
		t.Error("HasCode matched the wrong code")
	}
	if HasCode(nil, ErrCodeFontParse) {
		t.Error("HasCode(nil) should be false")
	}
}

func TestFontCacheError_String(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeStorageRead, "read failed").
		WithComponent("diskstore").
		WithOperation("read").
		WithDetail("category", "metadata").
		WithCause(errors.New("eof"))

	s := err.String()
	for _, want := range []string{"Code=STORAGE_READ", "Component=diskstore", "Operation=read", `"category":"metadata"`, `Cause="eof"`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestFontCacheError_JSON(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeFontParse, "bad font").WithContext("path", "ARIALN.ttf")

	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jerr)
	}
	if decoded["code"] != "FONT_PARSE" {
		t.Errorf("code = %v, want FONT_PARSE", decoded["code"])
	}
}

func TestUserFacingMessage(t *testing.T) {
	t.Parallel()

	if got := NewError(ErrCodeRenderFailed, "x").UserFacingMessage(); got != "Preview unavailable" {
		t.Errorf("UserFacingMessage() = %q", got)
	}
	if got := NewError(ErrCodeInternalError, "x").UserFacingMessage(); !strings.Contains(got, "internal error") {
		t.Errorf("UserFacingMessage() for internal = %q", got)
	}
}

func TestCaptureStack(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeInternalError, "boom").WithStack()
	if !strings.Contains(err.Stack, "TestCaptureStack") {
		t.Errorf("stack does not include caller: %q", err.Stack)
	}
}
