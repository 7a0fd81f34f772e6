package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerr "github.com/pkg/errors"
)

// CodeError 业务错误码，跨层传递时通过 WrapMsg / WrapErr 附带上下文
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`

	cause error
}

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

// Wrap attaches a stack trace to a copy of e.
func (e CodeError) Wrap() error {
	c := e
	return pkgerr.WithStack(&c)
}

func (e CodeError) WrapMsg(msg string, kv ...any) error {
	return e.WrapErr(nil, msg, kv...)
}

// WrapErr keeps err as the cause, so errors.Is still reaches driver errors.
func (e CodeError) WrapErr(err error, msg string, kv ...any) error {
	c := e
	c.cause = err
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if c.Detail == "" {
			c.Detail = detail
		} else {
			c.Detail += ", " + detail
		}
	}
	return pkgerr.WithStack(&c)
}

func (e *CodeError) Is(target error) bool {
	switch t := target.(type) {
	case CodeError:
		return e.Code == t.Code
	case *CodeError:
		return t != nil && e.Code == t.Code
	}
	return false
}

func (e *CodeError) Unwrap() error {
	return e.cause
}

const initialCapacity = 4

func (e CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	if e.cause != nil {
		v = append(v, "cause: "+e.cause.Error())
	}

	return strings.Join(v, " ")
}

// AsCodeError finds the first CodeError in err's chain.
func AsCodeError(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	var cv CodeError
	if errors.As(err, &cv) {
		return &cv, true
	}
	return nil, false
}

// ErrorCode returns 0 for errors that carry no code.
func ErrorCode(err error) int {
	if ce, ok := AsCodeError(err); ok {
		return ce.Code
	}
	return 0
}

func New(msg string, kv ...any) error {
	return pkgerr.New(toString(msg, kv))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerr.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerr.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
