package tracker

import (
	"fmt"
	"math"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/taskhub/internal/store"
)

const (
	maxTaskNameLen     = 200
	maxStatusNameLen   = 100
	maxNameLen         = 255
	maxAddressLen      = 512
	maxBudget          = 1e8
	maxFileSize        = 10 << 20
	canceledStatusName = "canceled"
)

// RiskLevels are the accepted values of Task.RiskLevel.
var RiskLevels = []string{"low", "medium", "high"}

// NotificationTriggers are the accepted keys of Task.Notifications.
var NotificationTriggers = []string{"on_create", "on_update", "on_complete", "on_delete", "on_reminder"}

var allowedFileExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".jpg": true, ".png": true,
}

// validateTaskFields checks everything that does not need the store.
func validateTaskFields(t *store.Task, status *store.Status, v *ValidationError) {
	name := strings.TrimSpace(t.Name)
	switch {
	case name == "":
		v.Add("task_name", "this field is required")
	case utf8.RuneCountInString(name) > maxTaskNameLen:
		v.Add("task_name", fmt.Sprintf("ensure this field has no more than %d characters", maxTaskNameLen))
	}

	checkRange(v, "priority", t.Priority, 1, 10)
	checkRange(v, "complexity", t.Complexity, 1, 10)
	checkRange(v, "progress", t.Progress, 0, 100)
	if t.QualityRating != nil {
		checkRange(v, "quality_rating", *t.QualityRating, 1, 5)
	}
	if t.EstimatedDuration != nil && *t.EstimatedDuration < 0 {
		v.Add("estimated_duration", "ensure this value is greater than or equal to 0")
	}
	if t.ActualDuration != nil && *t.ActualDuration < 0 {
		v.Add("actual_duration", "ensure this value is greater than or equal to 0")
	}
	if t.RepeatInterval != nil && *t.RepeatInterval < 1 {
		v.Add("repeat_interval", "ensure this value is greater than or equal to 1")
	}
	if t.Budget != nil {
		b := *t.Budget
		if math.IsNaN(b) || math.IsInf(b, 0) || math.Abs(b) >= maxBudget {
			v.Add("budget", "ensure there are no more than 10 digits in total")
		} else if scaled := b * 100; math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			v.Add("budget", "ensure there are no more than 2 decimal places")
		}
	}
	if t.RiskLevel != "" && !contains(RiskLevels, t.RiskLevel) {
		v.Add("risk_level", fmt.Sprintf("%q is not a valid choice", t.RiskLevel))
	}

	if t.StartDate != nil && t.EndDate != nil && t.StartDate.After(*t.EndDate) {
		v.Add("end_date", "end date cannot be before start date")
	}
	if t.EndDate != nil && t.Deadline != nil && t.EndDate.After(*t.Deadline) {
		v.Add("deadline", "deadline cannot be before end date")
	}

	if status != nil && strings.EqualFold(strings.TrimSpace(status.Name), canceledStatusName) && strings.TrimSpace(t.CancelReason) == "" {
		v.Add("cancel_reason", "a cancel reason is required for canceled tasks")
	}

	validateTimeIntervals(t.TimeIntervals, v)
	validateReminders(t.Reminders, v)
	validateNotifications(t.Notifications, v)
}

func checkRange(v *ValidationError, field string, value, lo, hi int) {
	if value < lo {
		v.Add(field, fmt.Sprintf("ensure this value is greater than or equal to %d", lo))
	} else if value > hi {
		v.Add(field, fmt.Sprintf("ensure this value is less than or equal to %d", hi))
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// empty JSON fields fall back to their defaults in the store.
func emptyJSON(raw []byte) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func parseJSONTime(r gjson.Result) (time.Time, bool) {
	if r.Type != gjson.String {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, r.String())
	return t, err == nil
}

// validateTimeIntervals accepts {"intervals":[{"start":ts,"end":ts}, ...]}.
func validateTimeIntervals(raw []byte, v *ValidationError) {
	const field = "time_intervals"
	if emptyJSON(raw) {
		return
	}
	if !gjson.ValidBytes(raw) {
		v.Add(field, "value must be valid JSON")
		return
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		v.Add(field, "expected a JSON object")
		return
	}
	intervals := doc.Get("intervals")
	if !intervals.Exists() {
		return
	}
	if !intervals.IsArray() {
		v.Add(field, "intervals must be a list")
		return
	}
	for i, item := range intervals.Array() {
		start, okStart := parseJSONTime(item.Get("start"))
		end, okEnd := parseJSONTime(item.Get("end"))
		if !item.IsObject() || !okStart || !okEnd {
			v.Add(field, fmt.Sprintf("interval %d needs RFC 3339 start and end", i))
			continue
		}
		if start.After(end) {
			v.Add(field, fmt.Sprintf("interval %d ends before it starts", i))
		}
	}
}

// validateReminders accepts [{"time":ts,"method":name}, ...].
func validateReminders(raw []byte, v *ValidationError) {
	const field = "reminders"
	if emptyJSON(raw) {
		return
	}
	if !gjson.ValidBytes(raw) {
		v.Add(field, "value must be valid JSON")
		return
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		v.Add(field, "expected a list")
		return
	}
	for i, item := range doc.Array() {
		if _, ok := parseJSONTime(item.Get("time")); !ok || !item.IsObject() {
			v.Add(field, fmt.Sprintf("reminder %d needs an RFC 3339 time", i))
			continue
		}
		if method := item.Get("method"); method.Type != gjson.String || strings.TrimSpace(method.String()) == "" {
			v.Add(field, fmt.Sprintf("reminder %d needs a method", i))
		}
	}
}

// validateNotifications accepts {"on_create":["log", ...], ...}.
func validateNotifications(raw []byte, v *ValidationError) {
	const field = "notifications"
	if emptyJSON(raw) {
		return
	}
	if !gjson.ValidBytes(raw) {
		v.Add(field, "value must be valid JSON")
		return
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		v.Add(field, "expected a JSON object")
		return
	}
	doc.ForEach(func(key, value gjson.Result) bool {
		trigger := key.String()
		if !contains(NotificationTriggers, trigger) {
			v.Add(field, fmt.Sprintf("unknown trigger %q", trigger))
			return true
		}
		if !value.IsArray() {
			v.Add(field, fmt.Sprintf("%s must be a list of methods", trigger))
			return true
		}
		for _, m := range value.Array() {
			if m.Type != gjson.String || strings.TrimSpace(m.String()) == "" {
				v.Add(field, fmt.Sprintf("%s must be a list of methods", trigger))
				break
			}
		}
		return true
	})
}

// validateStatusSettings checks the keys the tracker reads.
func validateStatusSettings(raw []byte, v *ValidationError) {
	const field = "status_settings"
	if emptyJSON(raw) {
		return
	}
	if !gjson.ValidBytes(raw) {
		v.Add(field, "value must be valid JSON")
		return
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		v.Add(field, "expected a JSON object")
		return
	}
	if p := doc.Get("progress_on_set"); p.Exists() && p.Type != gjson.Null {
		if p.Type != gjson.Number || p.Num != math.Trunc(p.Num) || p.Num < 0 || p.Num > 100 {
			v.Add(field, "progress_on_set must be null or an integer between 0 and 100")
		}
	}
	if c := doc.Get("is_completed"); c.Exists() && !c.IsBool() {
		v.Add(field, "is_completed must be a boolean")
	}
}

func validateSettingsObject(field string, raw []byte, v *ValidationError) {
	if emptyJSON(raw) {
		return
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		v.Add(field, "expected a JSON object")
	}
}

func validateName(field, name string, max int, v *ValidationError) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		v.Add(field, "this field is required")
	case utf8.RuneCountInString(name) > max:
		v.Add(field, fmt.Sprintf("ensure this field has no more than %d characters", max))
	}
}

func validateURL(raw string, v *ValidationError) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		v.Add("link_url", "URL must start with http:// or https://")
		return
	}
	if u, err := url.Parse(raw); err != nil || u.Host == "" {
		v.Add("link_url", "enter a valid URL")
	}
}

func validateFile(f *store.File, v *ValidationError) {
	if strings.TrimSpace(f.Upload) == "" {
		v.Add("file_upload", "this field is required")
	} else if ext := strings.ToLower(path.Ext(f.Upload)); !allowedFileExtensions[ext] {
		v.Add("file_upload", "unsupported file extension; allowed: pdf, doc, docx, xls, xlsx, jpg, png")
	}
	if f.Size < 0 {
		v.Add("file_size", "ensure this value is greater than or equal to 0")
	} else if f.Size > maxFileSize {
		v.Add("file_size", "file size must not exceed 10 MB")
	}
}

// progressOnSet returns the forced progress of a status, if it sets one.
func progressOnSet(status *store.Status) (int, bool) {
	if status == nil || emptyJSON(status.Settings) {
		return 0, false
	}
	p := gjson.GetBytes(status.Settings, "progress_on_set")
	if !p.Exists() || p.Type != gjson.Number {
		return 0, false
	}
	return int(p.Int()), true
}

func statusCompletes(status *store.Status) bool {
	if status == nil || emptyJSON(status.Settings) {
		return false
	}
	return gjson.GetBytes(status.Settings, "is_completed").Bool()
}
