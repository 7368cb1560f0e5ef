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

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// moduleField 拼接 Module[xxx].Field 形式的字段路径。
func moduleField(name, field string) string {
	if name == "" {
		return fmt.Sprintf("Module[].%s", field)
	}
	return fmt.Sprintf("Module[%s].%s", name, field)
}

// commandField 拼接 Command[xxx].Field 形式的字段路径。
func commandField(token, field string) string {
	if token == "" {
		return fmt.Sprintf("Command[].%s", field)
	}
	return fmt.Sprintf("Command[%s].%s", token, field)
}
