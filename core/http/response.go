package http

import (
	"io"
	"os"
	"sort"
	"strconv"
)

// Status codes used by the server
const (
	StatusOK                      = 200
	StatusBadRequest              = 400
	StatusNotFound                = 404
	StatusMethodNotAllowed        = 405
	StatusRequestEntityTooLarge   = 413
	StatusTooManyRequests         = 429
	StatusRequestHeaderTooLarge   = 431
	StatusInternalServerError     = 500
	StatusNotImplemented          = 501
	StatusHTTPVersionNotSupported = 505
)

var statusText = map[int]string{
	StatusOK:                      "OK",
	StatusBadRequest:              "Bad Request",
	StatusNotFound:                "Not Found",
	StatusMethodNotAllowed:        "Method Not Allowed",
	StatusRequestEntityTooLarge:   "Request Entity Too Large",
	StatusTooManyRequests:         "Too Many Requests",
	StatusRequestHeaderTooLarge:   "Request Header Fields Too Large",
	StatusInternalServerError:     "Internal Server Error",
	StatusNotImplemented:          "Not Implemented",
	StatusHTTPVersionNotSupported: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase of code, or "" if unknown
func StatusText(code int) string {
	return statusText[code]
}

// Sender is the connection side a Response is written to
type Sender interface {
	io.Writer
	SendFile(f *os.File, offset, count int64) error
}

// Response is an HTTP/1.1 response with either an in-memory body or a file
type Response struct {
	Status int
	Header Header
	Body   []byte

	file     *os.File
	fileSize int64
}

// NewResponse creates a response with an in-memory body
func NewResponse(status int, contentType string, body []byte) *Response {
	r := &Response{Status: status, Header: make(Header), Body: body}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

// NewStatusResponse creates a plain-text response whose body is the status line
func NewStatusResponse(status int) *Response {
	body := strconv.Itoa(status) + " " + StatusText(status) + "\n"
	return NewResponse(status, "text/plain; charset=utf-8", []byte(body))
}

// NewFileResponse creates a response streaming size bytes of f. The caller
// keeps ownership of f.
func NewFileResponse(f *os.File, size int64, contentType string) *Response {
	r := NewResponse(StatusOK, contentType, nil)
	r.file = f
	r.fileSize = size
	return r
}

// ContentLength returns the length of the body
func (r *Response) ContentLength() int64 {
	if r.file != nil {
		return r.fileSize
	}
	return int64(len(r.Body))
}

// AppendHead appends the status line and headers, including Content-Length
// and the blank line, to b. Headers are written in sorted order.
func (r *Response) AppendHead(b []byte) []byte {
	b = append(b, "HTTP/1.1 "...)
	b = strconv.AppendInt(b, int64(r.Status), 10)
	b = append(b, ' ')
	b = append(b, StatusText(r.Status)...)
	b = append(b, "\r\n"...)

	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		if k != "Content-Length" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		b = append(b, k...)
		b = append(b, ": "...)
		b = append(b, r.Header[k]...)
		b = append(b, "\r\n"...)
	}

	b = append(b, "Content-Length: "...)
	b = strconv.AppendInt(b, r.ContentLength(), 10)
	b = append(b, "\r\n\r\n"...)
	return b
}

// SendTo writes the response to s. With headOnly only the head is sent,
// as for a HEAD request.
func (r *Response) SendTo(s Sender, headOnly bool) error {
	out := r.AppendHead(make([]byte, 0, 256+len(r.Body)))
	if !headOnly && r.file == nil {
		out = append(out, r.Body...)
	}
	if _, err := s.Write(out); err != nil {
		return err
	}

	if headOnly || r.file == nil || r.fileSize == 0 {
		return nil
	}
	return s.SendFile(r.file, 0, r.fileSize)
}
