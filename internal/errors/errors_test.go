package errors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/maloquacious/wealthwise/internal/store"
)

func TestUserError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *UserError
		want string
	}{
		{
			name: "with underlying error",
			err:  &UserError{Message: "Cannot open datastore", Err: fmt.Errorf("file locked")},
			want: "Cannot open datastore: file locked",
		},
		{
			name: "without underlying error",
			err:  &UserError{Message: "Invalid input"},
			want: "Invalid input",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("UserError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromStore(t *testing.T) {
	cause := fmt.Errorf("disk full")
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantFix  bool
		wantMsg  string
	}{
		{
			name:     "corruption",
			err:      &store.InitializationError{Stage: "open", Err: &store.CorruptionError{Err: cause}},
			wantCode: ExitDatabase,
			wantFix:  true,
			wantMsg:  "corrupted",
		},
		{
			name:     "migration",
			err:      &store.InitializationError{Stage: "migrate", Err: &store.MigrationError{From: 9, To: 2, Err: cause}},
			wantCode: ExitDatabase,
			wantFix:  true,
			wantMsg:  "schema version",
		},
		{
			name:     "initialization",
			err:      &store.InitializationError{Stage: "verify", Err: cause},
			wantCode: ExitDatabase,
			wantFix:  true,
			wantMsg:  "initialize",
		},
		{
			name:     "query",
			err:      &store.QueryError{Statement: "SELECT", Err: cause},
			wantCode: ExitDatabase,
			wantMsg:  "statement",
		},
		{
			name:     "busy",
			err:      fmt.Errorf("reset: wait for connection: %w", store.ErrBusy),
			wantCode: ExitDatabase,
			wantFix:  true,
			wantMsg:  "busy",
		},
		{
			name:     "not initialized",
			err:      fmt.Errorf("list accounts: %w", store.ErrNotInitialized),
			wantCode: ExitInternal,
			wantMsg:  "before it was initialized",
		},
		{
			name:     "other",
			err:      cause,
			wantCode: ExitInternal,
			wantMsg:  "Unexpected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := FromStore(tt.err)
			if ue.ExitCode != tt.wantCode {
				t.Errorf("exit code = %d, want %d", ue.ExitCode, tt.wantCode)
			}
			if tt.wantFix != (ue.Fix != "") {
				t.Errorf("fix = %q, wantFix %v", ue.Fix, tt.wantFix)
			}
			if !strings.Contains(ue.Message, tt.wantMsg) {
				t.Errorf("message = %q, want substring %q", ue.Message, tt.wantMsg)
			}
		})
	}

	if FromStore(nil) != nil {
		t.Error("FromStore(nil) should be nil")
	}
	ue := NewInputError("bad flag", "", "", nil)
	if FromStore(fmt.Errorf("wrapped: %w", ue)) != ue {
		t.Error("UserError should pass through")
	}
}

func TestFormatNoColor(t *testing.T) {
	ue := NewDatabaseError("Cannot initialize the local datastore", "Initialization failed during open", HardResetFix, nil)
	got := ue.Format(true)
	want := "Error: Cannot initialize the local datastore\n" +
		"Cause: Initialization failed during open\n" +
		"Fix:   " + HardResetFix + "\n"
	if got != want {
		t.Errorf("Format() =\n%s\nwant\n%s", got, want)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	if code := Report(&buf, nil, false, true); code != ExitSuccess || buf.Len() != 0 {
		t.Fatalf("nil error: code %d, output %q", code, buf.String())
	}

	err := &store.InitializationError{Stage: "open", Err: &store.CorruptionError{Err: fmt.Errorf("liveness check")}}
	code := Report(&buf, err, true, true)
	if code != ExitDatabase {
		t.Errorf("code = %d, want %d", code, ExitDatabase)
	}
	var out ErrorJSON
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if out.Fix != HardResetFix || out.ExitCode != ExitDatabase || out.Detail == "" {
		t.Errorf("json = %+v", out)
	}

	buf.Reset()
	Report(&buf, err, false, true)
	if !strings.HasPrefix(buf.String(), "Error: ") {
		t.Errorf("text output = %q", buf.String())
	}
}
