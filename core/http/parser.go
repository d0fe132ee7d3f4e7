package http

import (
	"bytes"
	"errors"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/searchktools/evloop/core/pools"
)

// Limits applied by NewParser
const (
	MaxHeaderBytes = 8 << 10
	MaxBodyBytes   = 1 << 20
)

var (
	ErrMalformedRequest    = errors.New("malformed request")
	ErrHeaderTooLarge      = errors.New("request header too large")
	ErrBodyTooLarge        = errors.New("request body too large")
	ErrUnsupportedEncoding = errors.New("unsupported transfer encoding")
	ErrParserClosed        = errors.New("parser closed")
)

// Parser incrementally parses HTTP/1.x requests of one connection. Bytes of
// an incomplete request are kept in a pooled buffer between calls.
type Parser struct {
	pending  []byte
	maxHead  int
	maxBody  int
	isClosed bool
}

// NewParser creates a parser with the default limits
func NewParser() *Parser {
	return NewParserWithLimits(MaxHeaderBytes, MaxBodyBytes)
}

// NewParserWithLimits creates a parser with custom header and body limits
func NewParserWithLimits(maxHead, maxBody int) *Parser {
	return &Parser{maxHead: maxHead, maxBody: maxBody}
}

// Parse appends data to the pending bytes and returns every request they
// complete, in order. data is not retained.
func (p *Parser) Parse(data []byte) ([]any, error) {
	if p.isClosed {
		return nil, ErrParserClosed
	}

	p.pending = pools.GrowBytes(p.pending, len(data))
	p.pending = append(p.pending, data...)

	var out []any
	for len(p.pending) > 0 {
		req, n, err := p.parseOne(p.pending)
		if err != nil {
			return out, err
		}
		if req == nil {
			break
		}
		out = append(out, req)
		p.pending = p.pending[:copy(p.pending, p.pending[n:])]
	}

	if len(p.pending) == 0 {
		pools.PutBytes(p.pending)
		p.pending = nil
	}
	return out, nil
}

// Buffered returns the number of bytes waiting for the rest of a request
func (p *Parser) Buffered() int {
	return len(p.pending)
}

// Close releases the pending buffer. Calling it twice is harmless.
func (p *Parser) Close() error {
	if p.isClosed {
		return nil
	}
	p.isClosed = true
	if p.pending != nil {
		pools.PutBytes(p.pending)
		p.pending = nil
	}
	return nil
}

// parseOne parses the request at the start of buf. It returns a nil request
// when buf does not hold a complete one yet, and otherwise the number of
// bytes consumed.
func (p *Parser) parseOne(buf []byte) (*Request, int, error) {
	pos := 0

	// tolerate empty lines before the request line
	for pos < len(buf) && (buf[pos] == '\r' || buf[pos] == '\n') {
		pos++
	}

	line, next, ok := nextLine(buf, pos)
	if !ok {
		return nil, 0, p.checkHeadSize(len(buf) - pos)
	}

	req := &Request{Header: make(Header)}
	if err := parseRequestLine(req, line); err != nil {
		return nil, 0, err
	}

	for {
		pos = next
		line, next, ok = nextLine(buf, pos)
		if !ok {
			return nil, 0, p.checkHeadSize(len(buf))
		}
		if len(line) == 0 {
			break
		}
		if err := parseHeaderLine(req.Header, line); err != nil {
			return nil, 0, err
		}
	}
	if err := p.checkHeadSize(next); err != nil {
		return nil, 0, err
	}

	length, err := p.bodyLength(req.Header)
	if err != nil {
		return nil, 0, err
	}
	if len(buf)-next < length {
		return nil, 0, nil
	}
	if length > 0 {
		req.Body = append([]byte(nil), buf[next:next+length]...)
	}

	return req, next + length, nil
}

func (p *Parser) checkHeadSize(n int) error {
	if n > p.maxHead {
		return ErrHeaderTooLarge
	}
	return nil
}

func (p *Parser) bodyLength(h Header) (int, error) {
	if te := h.Get("Transfer-Encoding"); te != "" && !strings.EqualFold(te, "identity") {
		return 0, ErrUnsupportedEncoding
	}

	cl := h.Get("Content-Length")
	if cl == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cl)
	if err != nil || n < 0 {
		return 0, ErrMalformedRequest
	}
	if n > p.maxBody {
		return 0, ErrBodyTooLarge
	}
	return n, nil
}

// nextLine returns the line starting at pos without its line terminator
// (LF or CRLF) and the offset after the terminator.
func nextLine(buf []byte, pos int) ([]byte, int, bool) {
	i := bytes.IndexByte(buf[pos:], '\n')
	if i < 0 {
		return nil, 0, false
	}
	line := buf[pos : pos+i]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line, pos + i + 1, true
}

// parseRequestLine parses METHOD SP request-target SP HTTP-version
func parseRequestLine(req *Request, line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrMalformedRequest
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 <= 0 {
		return ErrMalformedRequest
	}
	sp2 += sp1 + 1

	req.Method = string(line[:sp1])
	req.URI = string(line[sp1+1 : sp2])
	req.Proto = string(line[sp2+1:])

	if !httpguts.ValidHeaderFieldName(req.Method) {
		return ErrMalformedRequest
	}
	if !validProto(req.Proto) {
		return ErrMalformedRequest
	}

	path, rawQuery, _ := strings.Cut(req.URI, "?")
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return ErrMalformedRequest
	}
	req.Path = unescaped
	req.RawQuery = rawQuery

	if rawQuery != "" {
		q, err := url.ParseQuery(rawQuery)
		if err != nil {
			return ErrMalformedRequest
		}
		req.Query = q
	}
	return nil
}

// validProto accepts HTTP/<digit>.<digit>
func validProto(p string) bool {
	if len(p) != 8 || !strings.HasPrefix(p, "HTTP/") || p[6] != '.' {
		return false
	}
	return isDigit(p[5]) && isDigit(p[7])
}

func isDigit(b byte) bool { return '0' <= b && b <= '9' }

func parseHeaderLine(h Header, line []byte) error {
	// obsolete line folding is rejected
	if line[0] == ' ' || line[0] == '\t' {
		return ErrMalformedRequest
	}

	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrMalformedRequest
	}

	name := string(line[:colon])
	value := string(bytes.TrimSpace(line[colon+1:]))
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return ErrMalformedRequest
	}

	h.Add(textproto.CanonicalMIMEHeaderKey(name), value)
	return nil
}
