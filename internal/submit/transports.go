package submit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"classpulse/internal/logging"
	"classpulse/internal/rowlog"
)

// Transport delivers one record to a collector. Implementations must honor
// the context deadline.
type Transport interface {
	Send(ctx context.Context, rec rowlog.Record) error
}

// Logical field names a transport can map to external form keys.
const (
	FieldSessionID     = "sessionId"
	FieldStudentID     = "studentId"
	FieldKeystrokes    = "keystrokes"
	FieldTabSwitches   = "tabSwitches"
	FieldMouseVelocity = "mouseVelocity"
	FieldCopyPaste     = "copyPaste"
	FieldScrollSpeed   = "scrollSpeed"
	FieldRaiseHand     = "raiseHand"
	FieldQuestion      = "question"
	FieldNeedBreak     = "needBreak"
)

// FormTransport posts records form-encoded to a hosted form endpoint. The
// endpoint stamps the timestamp server-side, so none is sent.
type FormTransport struct {
	// URL is the form's submission endpoint.
	URL string

	// Fields maps logical field names to the form's own field keys
	// ("entry.123456"). Logical names that do not exist are logged and
	// skipped rather than failing the submission.
	Fields map[string]string

	// Client is the HTTP client. Defaults to a client with a 15s timeout.
	Client *http.Client

	// Logger receives mapping diagnostics. Defaults to the submit logger.
	Logger *logging.Logger
}

func (t *FormTransport) Send(ctx context.Context, rec rowlog.Record) error {
	form := url.Values{}
	for logical, formKey := range t.Fields {
		v, ok := fieldValue(rec, logical)
		if !ok {
			t.logger().Warn("unknown logical field in form mapping, skipping",
				"field", logical, "form_key", formKey)
			continue
		}
		form.Set(formKey, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build form request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client().Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (t *FormTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (t *FormTransport) logger() *logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logging.Default().WithComponent("submit")
}

// fieldValue renders one logical field of a record as a form value.
func fieldValue(rec rowlog.Record, logical string) (string, bool) {
	switch logical {
	case FieldSessionID:
		return rec.SessionID, true
	case FieldStudentID:
		return rec.StudentID, true
	case FieldKeystrokes:
		return strconv.Itoa(rec.KeystrokeCount), true
	case FieldTabSwitches:
		return strconv.Itoa(rec.TabSwitches), true
	case FieldMouseVelocity:
		return strconv.FormatFloat(rec.MouseVelocity, 'f', -1, 64), true
	case FieldCopyPaste:
		return strconv.Itoa(rec.CopyPasteEvents), true
	case FieldScrollSpeed:
		return strconv.FormatFloat(rec.ScrollSpeed, 'f', -1, 64), true
	case FieldRaiseHand:
		return yesNoField(rec.RaiseHand), true
	case FieldQuestion:
		return rec.Question, true
	case FieldNeedBreak:
		return yesNoField(rec.NeedBreak), true
	}
	return "", false
}

func yesNoField(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// AppenderTransport delivers records to a local row log instead of a remote
// form. Used for offline sessions and tests.
type AppenderTransport struct {
	Log rowlog.Appender
}

func (t *AppenderTransport) Send(ctx context.Context, rec rowlog.Record) error {
	if err := t.Log.Append(ctx, rec); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}
