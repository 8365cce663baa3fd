package handler

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// GzipMiddleware compresses responses large enough to benefit. The
// threshold keeps the small status and health payloads uncompressed.
func GzipMiddleware(next http.Handler) http.Handler {
	wrapper, _ := gzhttp.NewWrapper(
		gzhttp.MinSize(1024),
		gzhttp.CompressionLevel(6),
	)
	return wrapper(next)
}

// CORSMiddleware lets the map UI call the API from any origin. Every
// endpoint is a plain GET with no custom request headers, so a
// preflight only ever asks about origin and method.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
