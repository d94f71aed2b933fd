package handlers

import (
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hmsportal/hms/internal/services"
)

// formReader collects multipart field parse errors so a bad form reports every
// field at once.
type formReader struct {
	c      *gin.Context
	fields map[string]string
}

func newFormReader(c *gin.Context) *formReader {
	return &formReader{c: c, fields: map[string]string{}}
}

// str returns nil when the field is absent and a pointer otherwise, so an
// empty value can clear a stored field.
func (r *formReader) str(key string) *string {
	v, ok := r.c.GetPostForm(key)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	return &v
}

func (r *formReader) value(key string) string {
	return strings.TrimSpace(r.c.PostForm(key))
}

func (r *formReader) int(key string) *int {
	v := r.value(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fields[key] = "must be a whole number"
		return nil
	}
	return &n
}

func (r *formReader) date(key string) *time.Time {
	v := r.value(key)
	if v == "" {
		return nil
	}
	t, err := parseDate(v)
	if err != nil {
		r.fields[key] = "must be a date (YYYY-MM-DD)"
		return nil
	}
	return &t
}

func (r *formReader) list(key string) []string {
	var out []string
	for _, raw := range r.c.PostFormArray(key) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (r *formReader) file(key string) (*services.FileUpload, func()) {
	header, err := r.c.FormFile(key)
	if err != nil {
		return nil, func() {}
	}
	f, err := header.Open()
	if err != nil {
		r.fields[key] = "could not be read"
		return nil, func() {}
	}
	return uploadFrom(header, f), func() { f.Close() }
}

func (r *formReader) err() error {
	if len(r.fields) == 0 {
		return nil
	}
	return &services.ValidationError{Fields: r.fields}
}

func uploadFrom(header *multipart.FileHeader, f multipart.File) *services.FileUpload {
	return &services.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        f,
	}
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", v)
}

// queryDate reads an optional date query parameter, falling back to def.
func queryDate(c *gin.Context, key string, def time.Time) (time.Time, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def, nil
	}
	t, err := parseDate(v)
	if err != nil {
		return time.Time{}, &services.ValidationError{Fields: map[string]string{key: "must be a date (YYYY-MM-DD)"}}
	}
	return t, nil
}

func queryPtr(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil
	}
	return &v
}
