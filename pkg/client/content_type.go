package client

import (
	"mime"
	"regexp"
)

const (
	ContentTypeApplicationJSON       = "application/json"
	ContentTypeApplicationJSONRegexp = `^application/([a-zA-Z0-9\.\-]+\+)?json$`
	ContentTypeApplicationPlist      = "application/x-plist"
	ContentTypePlistRegexp           = `^(application|text)/(x-)?(apple-)?plist(\+xml)?$`
)

var (
	jsonContentTypeRegexp  = regexp.MustCompile(ContentTypeApplicationJSONRegexp)
	plistContentTypeRegexp = regexp.MustCompile(ContentTypePlistRegexp)
)

func isJSONContentType(contentType string) bool {
	return jsonContentTypeRegexp.MatchString(mediaType(contentType))
}

func isPlistContentType(contentType string) bool {
	return plistContentTypeRegexp.MatchString(mediaType(contentType))
}

// mediaType removes parameters, for example "; charset=utf-8".
func mediaType(contentType string) string {
	if v, _, err := mime.ParseMediaType(contentType); err == nil {
		return v
	}
	return contentType
}
