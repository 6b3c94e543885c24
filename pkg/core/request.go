package core

import (
	"fmt"
	"maps"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
)

type Params map[string]any

// Request describes one REST call before it reaches the transport. Public calls
// carry Query; private calls carry Form, which becomes the signed payload.
type Request struct {
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Query       Params        `json:"query,omitempty"`
	Form        Params        `json:"form,omitempty"`
	CacheKey    string        `json:"cache_key,omitempty"`
	CacheTTL    time.Duration `json:"cache_ttl,omitempty"`
	RequireAuth bool          `json:"require_auth"`
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Query:  make(Params),
		Form:   make(Params),
	}
}

func (r *Request) SetQuery(key string, value any) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	r.Query[key] = value
	return r
}

func (r *Request) SetForm(key string, value any) *Request {
	if r.Form == nil {
		r.Form = make(Params)
	}
	r.Form[key] = value
	return r
}

func (r *Request) SetCache(key string, ttl time.Duration) *Request {
	r.CacheKey = key
	r.CacheTTL = ttl
	return r
}

func (r *Request) SetRequireAuth(require bool) *Request {
	r.RequireAuth = require
	return r
}

func (r *Request) SetQueryParams(params Params) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	maps.Copy(r.Query, params)
	return r
}

// QueryValues renders Query for the URL.
func (r *Request) QueryValues() url.Values { return r.Query.Values() }

// FormValues renders Form as the urlencoded payload.
func (r *Request) FormValues() url.Values { return r.Form.Values() }

// PathWithQuery joins Path and the encoded query string.
func (r *Request) PathWithQuery() string {
	q := r.QueryValues().Encode()
	if q == "" {
		return r.Path
	}
	return r.Path + "?" + q
}

// Values converts the params to url.Values. Nil values are skipped; decimals are
// rendered in plain notation so they survive the round trip exactly.
func (p Params) Values() url.Values {
	v := make(url.Values, len(p))
	for key, val := range p {
		if val == nil {
			continue
		}
		v.Set(key, FormatParam(val))
	}
	return v
}

// FormatParam renders a single parameter value.
func FormatParam(val any) string {
	switch x := val.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case apd.Decimal:
		return x.Text('f')
	case *apd.Decimal:
		return x.Text('f')
	case time.Time:
		return strconv.FormatInt(x.Unix(), 10)
	default:
		return fmt.Sprint(x)
	}
}
