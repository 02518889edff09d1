package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// scopeField 拼接 Scope[xxx].Field 形式的字段路径。
func scopeField(name, field string) string {
	if name == "" {
		return fmt.Sprintf("Scope[].%s", field)
	}
	return fmt.Sprintf("Scope[%s].%s", name, field)
}
