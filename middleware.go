package redmine_notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
)

// MiddlewareOptions configures the HTTP recovery middleware
type MiddlewareOptions struct {
	// UserFunc extracts the current user from the request, optional
	UserFunc func(r *http.Request) string
	// Tags added to every issue reported by the middleware
	Tags []string
}

// Middleware recovers panics raised by next, reports them through reporter
// and answers 500. Reporting runs synchronously but never fails the response.
func Middleware(reporter Reporter, logger *zap.Logger, opts MiddlewareOptions) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				exc := ExceptionFromPanic(rec, debug.Stack())
				c := requestContext(r, opts)

				func() {
					defer func() {
						if perr := recover(); perr != nil {
							logger.Error("Exception reporting failed", zap.String("panic", fmt.Sprint(perr)))
						}
					}()
					// Detach from the request so a client disconnect does not cancel reporting
					reporter.Notify(context.WithoutCancel(r.Context()), exc, c)
				}()

				logger.Error("Recovered from handler panic",
					zap.String("class", exc.ClassName),
					zap.String("message", exc.Message),
					zap.String("url", r.URL.String()))

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ExceptionFromPanic converts a recovered value and a debug.Stack dump
func ExceptionFromPanic(rec any, stack []byte) ExceptionDescriptor {
	exc := ExceptionDescriptor{StackFrames: ParseGoroutineStack(stack)}

	switch v := rec.(type) {
	case error:
		exc.ClassName = fmt.Sprintf("%T", v)
		exc.Message = v.Error()
	case string:
		exc.ClassName = "panic"
		exc.Message = v
	default:
		exc.ClassName = fmt.Sprintf("%T", v)
		exc.Message = fmt.Sprint(v)
	}

	return exc
}

// ParseGoroutineStack turns a goroutine dump into "file:line in function"
// frames, dropping the header and the frames of the panic machinery itself.
func ParseGoroutineStack(stack []byte) []string {
	lines := strings.Split(strings.TrimSpace(string(stack)), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "goroutine ") {
		lines = lines[1:]
	}

	frames := make([]string, 0, len(lines)/2)
	for i := 0; i+1 < len(lines); i += 2 {
		function := strings.TrimSpace(lines[i])
		location := strings.TrimSpace(lines[i+1])
		if idx := strings.LastIndex(location, " +0x"); idx >= 0 {
			location = location[:idx]
		}
		if strings.HasPrefix(function, "runtime/debug.Stack") || strings.HasPrefix(function, "panic(") {
			continue
		}
		// strip the argument list, "created by" lines carry none
		if paren := strings.LastIndex(function, "("); paren > 0 && strings.HasSuffix(function, ")") {
			function = function[:paren]
		}
		frames = append(frames, location+" in "+function)
	}

	return frames
}

func requestContext(r *http.Request, opts MiddlewareOptions) Context {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	c := NewContext(
		"url", scheme+"://"+r.Host+r.URL.RequestURI(),
		"method", r.Method,
		"remote_addr", r.RemoteAddr,
	)
	if opts.UserFunc != nil {
		if user := opts.UserFunc(r); user != "" {
			c.Set("user", user)
		}
	}
	if id := r.Header.Get("X-Request-Id"); id != "" {
		c.Set("request_id", id)
	}
	c.Tags = opts.Tags

	return c
}
